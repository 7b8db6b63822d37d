package identity

import (
	"errors"
	"log"

	"gorm.io/gorm"

	"syncverse/internal/world"
)

// Directory resolves display nicknames from the external identity
// store, keyed by the email correlation field on entity records.
type Directory interface {
	Nickname(email string) (string, bool)
}

// PositionStore is the persisted last-position boundary. All operations
// are best-effort: failures must never interrupt the real-time session.
type PositionStore interface {
	LoadLastPosition(username string) (world.Position, bool, error)
	SaveLastPosition(username string, pos world.Position) error
}

// UserRecord is the relational row backing the directory and position
// store. The wider user schema (friendships, chat history) is out of
// scope; only the columns the sync core reads are modeled.
type UserRecord struct {
	ID        int64    `gorm:"primaryKey"`
	Username  string   `gorm:"uniqueIndex;size:64"`
	Email     string   `gorm:"index;size:255"`
	Nickname  string   `gorm:"size:64"`
	AuthType  string   `gorm:"column:auth_type;size:16"`
	PositionX *float64 `gorm:"column:position_x"`
	PositionY *float64 `gorm:"column:position_y"`
}

// TableName keeps the table shared with the account service.
func (UserRecord) TableName() string { return "users" }

// Store is the gorm-backed Directory + PositionStore.
type Store struct {
	db *gorm.DB
}

// NewStore wraps a database handle.
func NewStore(db *gorm.DB) *Store { return &Store{db: db} }

// Nickname looks up the display nickname for an email.
func (s *Store) Nickname(email string) (string, bool) {
	if email == "" {
		return "", false
	}
	var rec UserRecord
	err := s.db.Select("nickname").Where("email = ?", email).First(&rec).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("[Identity] Nickname lookup failed for %s: %v", email, err)
		}
		return "", false
	}
	return rec.Nickname, rec.Nickname != ""
}

// LoadLastPosition fetches the persisted position for a username.
func (s *Store) LoadLastPosition(username string) (world.Position, bool, error) {
	if username == "" {
		return world.Position{}, false, nil
	}
	var rec UserRecord
	err := s.db.Select("position_x", "position_y").Where("username = ?", username).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return world.Position{}, false, nil
		}
		return world.Position{}, false, err
	}
	if rec.PositionX == nil || rec.PositionY == nil {
		return world.Position{}, false, nil
	}
	return world.Position{X: *rec.PositionX, Y: *rec.PositionY}, true, nil
}

// EnsureUser creates the row for a username if it does not exist yet.
func (s *Store) EnsureUser(username, nickname, authType string) error {
	rec := UserRecord{Username: username, Nickname: nickname, AuthType: authType}
	return s.db.Where("username = ?", username).FirstOrCreate(&rec).Error
}

// SaveLastPosition persists the position for a username.
func (s *Store) SaveLastPosition(username string, pos world.Position) error {
	if username == "" {
		return nil
	}
	return s.db.Model(&UserRecord{}).Where("username = ?", username).
		Updates(map[string]any{"position_x": pos.X, "position_y": pos.Y}).Error
}

// MemoryStore is an in-process Directory + PositionStore used by tests
// and by sessions with no external account service.
type MemoryStore struct {
	nicknames map[string]string
	positions map[string]world.Position
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nicknames: map[string]string{},
		positions: map[string]world.Position{},
	}
}

// SetNickname seeds a nickname for an email.
func (m *MemoryStore) SetNickname(email, nickname string) { m.nicknames[email] = nickname }

func (m *MemoryStore) Nickname(email string) (string, bool) {
	n, ok := m.nicknames[email]
	return n, ok && n != ""
}

func (m *MemoryStore) LoadLastPosition(username string) (world.Position, bool, error) {
	p, ok := m.positions[username]
	return p, ok, nil
}

func (m *MemoryStore) SaveLastPosition(username string, pos world.Position) error {
	m.positions[username] = pos
	return nil
}
