// Package reconcile owns the client-side logic that keeps the local
// participant's replicated record correct and cheap to render: the
// connect/reconnect bootstrap protocol, the throttled position write
// path, the chat-bubble lifecycle, and the metadata/transform channel
// split consumed by the rendering layer.
package reconcile

import (
	"log"
	"sync"
	"time"

	"syncverse/internal/entity"
	"syncverse/internal/identity"
	"syncverse/internal/world"
)

// BubbleTTL is the chat bubble's self-expiry window.
const BubbleTTL = 5 * time.Second

// Options configures a Layer.
type Options struct {
	Boundary world.Boundary
	Throttle time.Duration
	Store    identity.PositionStore // optional, best-effort
	Now      func() time.Time       // defaults to time.Now
}

// Layer is the Local Reconciliation Layer for one participant in one
// room. It is the only component that writes the local user's entity
// record; it never touches another participant's key.
type Layer struct {
	table    *entity.Table
	session  *identity.Session
	boundary world.Boundary
	store    identity.PositionStore
	limiter  *RateLimiter
	now      func() time.Time

	mu          sync.Mutex
	bubbleTimer *time.Timer
	unobserve   func()
}

// NewLayer builds a reconciliation layer over the entity table for the
// session's user.
func NewLayer(table *entity.Table, session *identity.Session, opts Options) *Layer {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Layer{
		table:    table,
		session:  session,
		boundary: opts.Boundary,
		store:    opts.Store,
		limiter:  NewRateLimiter(opts.Throttle),
		now:      now,
	}
}

// Start runs the bootstrap protocol and keeps it armed: whenever the
// table changes and the local record has gone missing (the documented
// disconnect-handler race), the bootstrap re-creates it. Returns a stop
// function that detaches the repair observer.
func (l *Layer) Start() func() {
	l.Bootstrap()
	l.mu.Lock()
	l.unobserve = l.table.Observe(func() {
		if uid := l.session.UserID(); uid != "" {
			if _, ok := l.table.Get(uid); !ok {
				l.Bootstrap()
			}
		}
	})
	l.mu.Unlock()
	return l.Stop
}

// Stop detaches the repair observer and cancels any pending bubble
// clear. It does not touch replicated state.
func (l *Layer) Stop() {
	l.mu.Lock()
	if l.unobserve != nil {
		l.unobserve()
		l.unobserve = nil
	}
	if l.bubbleTimer != nil {
		l.bubbleTimer.Stop()
		l.bubbleTimer = nil
	}
	l.mu.Unlock()
}

// Bootstrap checks the local user's record and creates or repairs it.
// Safe to run redundantly: with an already-correct record it performs
// no writes. It must be re-run whenever readiness or the user id become
// newly available, not just once.
func (l *Layer) Bootstrap() {
	user, ok := l.session.Current()
	if !ok {
		return
	}

	existing, found := l.table.Get(user.UserID)
	if !found {
		l.createInitialRecord(user)
		return
	}

	// Non-destructive repair of partial records.
	var patch entity.Patch
	if user.Email != "" && !l.table.HasField(user.UserID, "email") {
		patch.Email = entity.StringPtr(user.Email)
	}
	if head, body := entity.Color(user.HeadColor), entity.Color(user.BodyColor); head.Valid() && body.Valid() {
		if existing.HeadColor != head {
			patch.HeadColor = entity.ColorPtr(head)
		}
		if existing.BodyColor != body {
			patch.BodyColor = entity.ColorPtr(body)
		}
	}
	if !l.table.HasField(user.UserID, "isMoving") {
		patch.IsMoving = entity.BoolPtr(false)
	}
	if patch.IsZero() {
		return
	}
	if err := l.table.Set(user.UserID, patch); err != nil {
		log.Printf("[Reconcile] Record repair failed for %s: %v", identity.ShortID(user.UserID), err)
	}
}

// createInitialRecord writes a full default record at the best known
// position: persisted store position, then session-cached position,
// then the boundary center.
func (l *Layer) createInitialRecord(user identity.User) {
	// Persisted position beats the session cache beats the center; a
	// failed fetch degrades to the cache, not straight to the center.
	pos := l.boundary.Center()
	persisted := false
	if l.store != nil {
		if saved, ok, err := l.store.LoadLastPosition(user.Username); err != nil {
			log.Printf("[Reconcile] Last-position fetch failed for %s: %v", user.Username, err)
		} else if ok {
			pos = l.boundary.Clamp(saved)
			persisted = true
		}
	}
	if !persisted && user.LastX != nil && user.LastY != nil {
		pos = l.boundary.Clamp(world.Position{X: *user.LastX, Y: *user.LastY})
	}

	patch := entity.Patch{
		X:         entity.Float64Ptr(pos.X),
		Y:         entity.Float64Ptr(pos.Y),
		Direction: entity.DirectionPtr(world.DirDown),
		IsMoving:  entity.BoolPtr(false),
	}
	if head := entity.Color(user.HeadColor); head.Valid() {
		patch.HeadColor = entity.ColorPtr(head)
	}
	if body := entity.Color(user.BodyColor); body.Valid() {
		patch.BodyColor = entity.ColorPtr(body)
	}
	if user.Email != "" {
		patch.Email = entity.StringPtr(user.Email)
	}
	if err := l.table.Set(user.UserID, patch); err != nil {
		log.Printf("[Reconcile] Initial record write failed for %s: %v", identity.ShortID(user.UserID), err)
	}
}

// UpdateMyPosition applies a movement delta through the write-rate
// policy. A missing local record makes this a silent no-op; the
// bootstrap protocol is the sole repair path.
func (l *Layer) UpdateMyPosition(delta world.Delta, dir world.Direction) {
	uid := l.session.UserID()
	if uid == "" {
		return
	}
	current, ok := l.table.Get(uid)
	if !ok {
		return
	}

	pos := l.boundary.Step(current.Position(), delta)
	now := l.now()
	directionChanged := current.Direction != dir

	if !l.limiter.ShouldWrite(now, directionChanged) {
		return
	}
	patch := entity.Patch{
		X:         entity.Float64Ptr(pos.X),
		Y:         entity.Float64Ptr(pos.Y),
		Direction: entity.DirectionPtr(dir),
		IsMoving:  entity.BoolPtr(true),
	}
	if err := l.table.Set(uid, patch); err != nil {
		log.Printf("[Reconcile] Position write failed: %v", err)
		return
	}
	l.limiter.Committed(now)
}

// StopMyMotion marks the local record resting, optionally fixing the
// final facing, and resets the throttle clock so the next movement is
// written immediately.
func (l *Layer) StopMyMotion(dir ...world.Direction) {
	uid := l.session.UserID()
	if uid == "" {
		return
	}
	if _, ok := l.table.Get(uid); !ok {
		return
	}
	patch := entity.Patch{IsMoving: entity.BoolPtr(false)}
	if len(dir) > 0 && dir[0].Valid() {
		patch.Direction = entity.DirectionPtr(dir[0])
	}
	if err := l.table.Set(uid, patch); err != nil {
		log.Printf("[Reconcile] Stop write failed: %v", err)
		return
	}
	l.limiter.Reset()
}

// SetMyPosition writes an absolute position, bypassing the throttle
// (used for teleports and spawns, not for frame movement).
func (l *Layer) SetMyPosition(pos world.Position, dir ...world.Direction) {
	uid := l.session.UserID()
	if uid == "" {
		return
	}
	clamped := l.boundary.Clamp(pos)
	patch := entity.Patch{
		X: entity.Float64Ptr(clamped.X),
		Y: entity.Float64Ptr(clamped.Y),
	}
	if len(dir) > 0 && dir[0].Valid() {
		patch.Direction = entity.DirectionPtr(dir[0])
	}
	if err := l.table.Set(uid, patch); err != nil {
		log.Printf("[Reconcile] Position set failed: %v", err)
	}
}

// Say publishes a chat bubble on the local record and arms the 5 second
// self-expiry. The clear only fires if the message is still the one we
// published, so a newer bubble is never clobbered.
func (l *Layer) Say(text string) {
	uid := l.session.UserID()
	if uid == "" || text == "" {
		return
	}
	if _, ok := l.table.Get(uid); !ok {
		return
	}
	ts := l.now().UnixMilli()
	err := l.table.Set(uid, entity.Patch{
		Message:          entity.StringPtr(text),
		MessageTimestamp: entity.Int64Ptr(ts),
	})
	if err != nil {
		log.Printf("[Reconcile] Bubble write failed: %v", err)
		return
	}

	l.mu.Lock()
	if l.bubbleTimer != nil {
		l.bubbleTimer.Stop()
	}
	l.bubbleTimer = time.AfterFunc(BubbleTTL, func() {
		current, ok := l.table.Get(uid)
		if !ok || current.Message != text {
			return
		}
		clearErr := l.table.Set(uid, entity.Patch{
			Message:          entity.StringPtr(""),
			MessageTimestamp: entity.Int64Ptr(0),
		})
		if clearErr != nil {
			log.Printf("[Reconcile] Bubble clear failed: %v", clearErr)
		}
	})
	l.mu.Unlock()
}

// SetAppearance patches the local record's cosmetic colors and caches
// them on the session for the next bootstrap.
func (l *Layer) SetAppearance(head, body entity.Color) {
	uid := l.session.UserID()
	if uid == "" || !head.Valid() || !body.Valid() {
		return
	}
	err := l.table.Set(uid, entity.Patch{
		HeadColor: entity.ColorPtr(head),
		BodyColor: entity.ColorPtr(body),
	})
	if err != nil {
		log.Printf("[Reconcile] Appearance write failed: %v", err)
		return
	}
	l.session.Update(func(u *identity.User) {
		u.HeadColor = string(head)
		u.BodyColor = string(body)
	})
}

// Close persists the last-known position best-effort and detaches the
// layer. Persistence failure is logged and swallowed; it must never
// block teardown.
func (l *Layer) Close() {
	l.Stop()
	user, ok := l.session.Current()
	if !ok {
		return
	}
	rec, found := l.table.Get(user.UserID)
	if !found {
		return
	}
	l.session.RememberPosition(rec.X, rec.Y)
	if l.store != nil && user.Username != "" {
		if err := l.store.SaveLastPosition(user.Username, rec.Position()); err != nil {
			log.Printf("[Reconcile] Last-position save failed for %s: %v", user.Username, err)
		}
	}
}
