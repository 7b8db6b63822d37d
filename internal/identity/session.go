// Package identity holds the per-session source of truth for who the
// local participant is, plus the external-collaborator boundaries the
// sync core consumes: display-name resolution and best-effort
// last-position persistence.
package identity

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// AuthType distinguishes federated users from minted guests.
type AuthType string

const (
	AuthGoogle AuthType = "google"
	AuthGuest  AuthType = "guest"
)

// User is the identity snapshot the sync core needs. Issuance (OAuth,
// cookies) happens elsewhere; this is only "a stable id and a name".
type User struct {
	UserID   string
	Username string
	Email    string
	Nickname string
	AuthType AuthType

	// Cached appearance and last-known position, used by the
	// reconciliation bootstrap when no replicated record exists.
	HeadColor string
	BodyColor string
	LastX     *float64
	LastY     *float64
}

// DisplayName returns the best human-readable name for the user: the
// nickname when known, otherwise a short prefix of the stable id.
func (u User) DisplayName() string {
	if u.Nickname != "" {
		return u.Nickname
	}
	return ShortID(u.UserID)
}

// ShortID truncates a user id to the 8-character prefix shown in UIs.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// NewGuestID mints a stable guest identifier.
func NewGuestID() string {
	return "guest_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

// Session is the explicitly constructed, injectable identity container:
// one shared source of truth per client session, passed by reference to
// whichever component needs it. Init and Reset bound its lifecycle.
type Session struct {
	mu   sync.RWMutex
	user *User
}

// NewSession returns an empty, uninitialized session.
func NewSession() *Session { return &Session{} }

// Init installs the session's user. Calling Init on an initialized
// session replaces the user wholesale.
func (s *Session) Init(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := u
	s.user = &copied
}

// InitGuest mints a guest identity and installs it.
func (s *Session) InitGuest() User {
	u := User{
		UserID:   NewGuestID(),
		AuthType: AuthGuest,
	}
	s.Init(u)
	return u
}

// Reset clears the session back to uninitialized.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = nil
}

// Current returns the session user, if initialized.
func (s *Session) Current() (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return User{}, false
	}
	return *s.user, true
}

// UserID returns the stable user identifier, or "" when uninitialized.
func (s *Session) UserID() string {
	u, ok := s.Current()
	if !ok {
		return ""
	}
	return u.UserID
}

// Update applies fn to the current user under the session lock. It is
// a no-op on an uninitialized session.
func (s *Session) Update(fn func(*User)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return
	}
	fn(s.user)
}

// RememberPosition caches the last-known position on the session, the
// fallback used for guests with no server-side record.
func (s *Session) RememberPosition(x, y float64) {
	s.Update(func(u *User) {
		u.LastX = &x
		u.LastY = &y
	})
}

func (s *Session) String() string {
	u, ok := s.Current()
	if !ok {
		return "identity.Session(uninitialized)"
	}
	return fmt.Sprintf("identity.Session(%s/%s)", u.AuthType, ShortID(u.UserID))
}
