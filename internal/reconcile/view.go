package reconcile

import (
	"sync"
	"time"

	"syncverse/internal/entity"
	"syncverse/internal/identity"
	"syncverse/internal/world"
)

// Metadata is the low-frequency, render-triggering slice of an entity
// record: everything except the raw coordinates. Position travels on a
// separate per-frame channel (ApplyFrame) precisely so coordinate
// churn never causes a re-render.
type Metadata struct {
	UserID    string
	Direction world.Direction
	IsMoving  bool
	HeadColor entity.Color
	BodyColor entity.Color
	Email     string
	Nickname  string
	Message   string
}

// TransformSink receives high-frequency presentation updates outside
// the re-render path: one transform per entity per frame, plus the
// camera offset that keeps the local avatar centered.
type TransformSink interface {
	ApplyTransform(userID string, pos world.Position)
	ApplyCamera(offset world.Position)
}

// View maintains the two data channels the rendering layer consumes:
// a stable metadata list that only changes when metadata actually
// changes, and a per-frame transform pass over the authoritative table.
type View struct {
	table     *entity.Table
	session   *identity.Session
	directory identity.Directory // optional
	viewport  world.Position     // width/height of the visible area
	now       func() time.Time

	mu         sync.Mutex
	metadata   []Metadata
	version    uint64
	onMetadata func([]Metadata)
	unobserve  func()
}

// NewView builds a view. directory may be nil; onMetadata may be nil
// and is invoked whenever the stable metadata list is replaced.
func NewView(table *entity.Table, session *identity.Session, directory identity.Directory, viewport world.Position, onMetadata func([]Metadata)) *View {
	return &View{
		table:      table,
		session:    session,
		directory:  directory,
		viewport:   viewport,
		now:        time.Now,
		onMetadata: onMetadata,
	}
}

// Start subscribes to table changes and primes the metadata list.
// Returns a stop function.
func (v *View) Start() func() {
	v.refresh()
	v.mu.Lock()
	v.unobserve = v.table.Observe(v.refresh)
	v.mu.Unlock()
	return func() {
		v.mu.Lock()
		if v.unobserve != nil {
			v.unobserve()
			v.unobserve = nil
		}
		v.mu.Unlock()
	}
}

// Metadata returns the current stable metadata list. The returned slice
// is reference-equal across calls until metadata actually changes.
func (v *View) Metadata() []Metadata {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.metadata
}

// Version increments each time the metadata list is replaced; a
// position-only change never bumps it.
func (v *View) Version() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.version
}

// refresh rebuilds metadata from the table and swaps the list only if
// something other than coordinates changed.
func (v *View) refresh() {
	records := v.table.All()
	now := v.now()

	next := make([]Metadata, 0, len(records))
	for _, r := range records {
		next = append(next, v.metadataFor(r, now))
	}

	v.mu.Lock()
	if metadataEqual(v.metadata, next) {
		v.mu.Unlock()
		return
	}
	v.metadata = next
	v.version++
	cb := v.onMetadata
	v.mu.Unlock()

	if cb != nil {
		cb(next)
	}
}

func (v *View) metadataFor(r entity.Record, now time.Time) Metadata {
	nickname := ""
	if r.Email != "" && v.directory != nil {
		if n, ok := v.directory.Nickname(r.Email); ok {
			nickname = n
		}
	}
	if nickname == "" {
		nickname = identity.ShortID(r.UserID)
	}

	// Readers re-validate bubble expiry against the stored timestamp
	// rather than trusting the writer's deferred clear, which can be
	// lost across a reconnect.
	message := r.Message
	if message != "" {
		age := now.UnixMilli() - r.MessageTimestamp
		if r.MessageTimestamp <= 0 || age > BubbleTTL.Milliseconds() {
			message = ""
		}
	}

	return Metadata{
		UserID:    r.UserID,
		Direction: r.Direction,
		IsMoving:  r.IsMoving,
		HeadColor: r.HeadColor,
		BodyColor: r.BodyColor,
		Email:     r.Email,
		Nickname:  nickname,
		Message:   message,
	}
}

func metadataEqual(a, b []Metadata) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ApplyFrame is the high-frequency channel: it pushes every entity's
// authoritative position into the sink and recomputes the camera offset
// as viewportCenter - localEntityPosition. Call it once per animation
// frame; it performs no allocation-heavy diffing and never re-renders.
func (v *View) ApplyFrame(sink TransformSink) {
	if sink == nil {
		return
	}
	for _, r := range v.table.All() {
		sink.ApplyTransform(r.UserID, r.Position())
	}
	uid := v.session.UserID()
	if uid == "" {
		return
	}
	if me, ok := v.table.Get(uid); ok {
		sink.ApplyCamera(world.Position{
			X: v.viewport.X/2 - me.X,
			Y: v.viewport.Y/2 - me.Y,
		})
	}
}
