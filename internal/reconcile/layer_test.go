package reconcile

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"syncverse/internal/crdt"
	"syncverse/internal/entity"
	"syncverse/internal/identity"
	"syncverse/internal/world"
)

func testBoundary() world.Boundary {
	return world.Boundary{MaxX: 1000, MaxY: 1000}
}

func newTestLayer(t *testing.T, user identity.User, opts Options) (*Layer, *entity.Table, *identity.Session) {
	t.Helper()
	doc := crdt.NewDoc()
	table := entity.NewTable(doc)
	session := identity.NewSession()
	session.Init(user)
	if opts.Boundary == (world.Boundary{}) {
		opts.Boundary = testBoundary()
	}
	return NewLayer(table, session, opts), table, session
}

func TestBootstrapCreatesRecordAtCenter(t *testing.T) {
	layer, table, _ := newTestLayer(t, identity.User{
		UserID:    "u1",
		HeadColor: "green",
		BodyColor: "black",
	}, Options{})

	layer.Bootstrap()

	rec, ok := table.Get("u1")
	require.True(t, ok)
	assert.Equal(t, 500.0, rec.X)
	assert.Equal(t, 500.0, rec.Y)
	assert.Equal(t, world.DirDown, rec.Direction)
	assert.False(t, rec.IsMoving)
	assert.Equal(t, entity.ColorGreen, rec.HeadColor)
	assert.Equal(t, entity.ColorBlack, rec.BodyColor)
}

func TestBootstrapUsesPersistedPosition(t *testing.T) {
	store := identity.NewMemoryStore()
	require.NoError(t, store.SaveLastPosition("alice", world.Position{X: 120, Y: 340}))

	layer, table, _ := newTestLayer(t, identity.User{
		UserID:   "u1",
		Username: "alice",
	}, Options{Store: store})

	layer.Bootstrap()

	rec, ok := table.Get("u1")
	require.True(t, ok)
	assert.Equal(t, 120.0, rec.X)
	assert.Equal(t, 340.0, rec.Y)
}

func TestBootstrapClampsPersistedPosition(t *testing.T) {
	store := identity.NewMemoryStore()
	require.NoError(t, store.SaveLastPosition("alice", world.Position{X: 9999, Y: -50}))

	layer, table, _ := newTestLayer(t, identity.User{
		UserID:   "u1",
		Username: "alice",
	}, Options{Store: store})

	layer.Bootstrap()

	rec, _ := table.Get("u1")
	assert.Equal(t, 1000.0, rec.X)
	assert.Equal(t, 0.0, rec.Y)
}

func TestBootstrapFallsBackToSessionPosition(t *testing.T) {
	x, y := 70.0, 80.0
	layer, table, _ := newTestLayer(t, identity.User{
		UserID: "u1",
		LastX:  &x,
		LastY:  &y,
	}, Options{})

	layer.Bootstrap()

	rec, _ := table.Get("u1")
	assert.Equal(t, 70.0, rec.X)
	assert.Equal(t, 80.0, rec.Y)
}

type failingStore struct{}

func (failingStore) LoadLastPosition(string) (world.Position, bool, error) {
	return world.Position{}, false, errors.New("store offline")
}

func (failingStore) SaveLastPosition(string, world.Position) error {
	return errors.New("store offline")
}

func TestBootstrapStoreErrorFallsBackToSessionPosition(t *testing.T) {
	x, y := 200.0, 300.0
	layer, table, _ := newTestLayer(t, identity.User{
		UserID:   "u1",
		Username: "alice",
		LastX:    &x,
		LastY:    &y,
	}, Options{Store: failingStore{}})

	layer.Bootstrap()

	// A broken store degrades to the session cache, not the center.
	rec, ok := table.Get("u1")
	require.True(t, ok)
	assert.Equal(t, 200.0, rec.X)
	assert.Equal(t, 300.0, rec.Y)
}

func TestBootstrapAfterInitialSyncPreservesExistingRecords(t *testing.T) {
	// Server replica, pre-seeded container plus a resident player.
	serverDoc := crdt.NewDoc()
	require.NoError(t, serverDoc.Path(entity.TableName).Set(map[string]any{}))
	serverTable := entity.NewTable(serverDoc)
	require.NoError(t, serverTable.Set("resident", entity.Patch{
		X: entity.Float64Ptr(100),
		Y: entity.Float64Ptr(200),
	}))

	// The joiner syncs the room state before its first write, so its
	// bootstrap lands inside the shared container instead of creating
	// a rival one that hides the resident after the merge.
	clientDoc := crdt.NewDoc()
	require.NoError(t, crdt.SyncLocal(clientDoc, serverDoc))

	table := entity.NewTable(clientDoc)
	session := identity.NewSession()
	session.Init(identity.User{UserID: "joiner"})
	layer := NewLayer(table, session, Options{Boundary: testBoundary()})
	stop := layer.Start()
	defer stop()

	require.NoError(t, crdt.SyncLocal(clientDoc, serverDoc))

	for _, tbl := range []*entity.Table{table, serverTable} {
		records := tbl.All()
		require.Len(t, records, 2)
		assert.Equal(t, "joiner", records[0].UserID)
		assert.Equal(t, "resident", records[1].UserID)
		assert.Equal(t, 100.0, records[1].X)
	}
}

func TestBootstrapRepairsPartialRecordWithoutReset(t *testing.T) {
	layer, table, _ := newTestLayer(t, identity.User{
		UserID: "u1",
		Email:  "u1@example.com",
	}, Options{})

	// A record that exists but never got email or isMoving.
	require.NoError(t, table.Set("u1", entity.Patch{
		X: entity.Float64Ptr(250),
		Y: entity.Float64Ptr(260),
	}))

	layer.Bootstrap()

	rec, ok := table.Get("u1")
	require.True(t, ok)
	// Repair fills the gaps without moving the avatar.
	assert.Equal(t, 250.0, rec.X)
	assert.Equal(t, 260.0, rec.Y)
	assert.Equal(t, "u1@example.com", rec.Email)
	assert.False(t, rec.IsMoving)
}

func TestBootstrapIdempotentOnCorrectRecord(t *testing.T) {
	layer, table, _ := newTestLayer(t, identity.User{UserID: "u1"}, Options{})
	layer.Bootstrap()

	writes := 0
	unobserve := table.Observe(func() { writes++ })
	defer unobserve()

	layer.Bootstrap()
	layer.Bootstrap()

	assert.Zero(t, writes)
}

func TestUpdateMyPositionThrottled(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }

	layer, table, _ := newTestLayer(t, identity.User{UserID: "u1"},
		Options{Throttle: 25 * time.Millisecond, Now: clock})
	layer.Bootstrap()

	writes := 0
	unobserve := table.Observe(func() { writes++ })
	defer unobserve()

	// 100ms of 5ms frames, always moving right.
	for i := 0; i <= 20; i++ {
		layer.UpdateMyPosition(world.Delta{DX: 5}, world.DirRight)
		now = now.Add(5 * time.Millisecond)
	}

	assert.LessOrEqual(t, writes, 6)
	assert.GreaterOrEqual(t, writes, 3)

	rec, _ := table.Get("u1")
	assert.True(t, rec.IsMoving)
	assert.Equal(t, world.DirRight, rec.Direction)
	assert.Greater(t, rec.X, 500.0)
}

func TestUpdateMyPositionDirectionChangeBypassesThrottle(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }

	layer, table, _ := newTestLayer(t, identity.User{UserID: "u1"},
		Options{Throttle: 25 * time.Millisecond, Now: clock})
	layer.Bootstrap()

	layer.UpdateMyPosition(world.Delta{DX: 5}, world.DirRight)
	now = now.Add(12 * time.Millisecond)

	writes := 0
	unobserve := table.Observe(func() { writes++ })
	defer unobserve()

	// Same direction mid-window: suppressed.
	layer.UpdateMyPosition(world.Delta{DX: 5}, world.DirRight)
	assert.Zero(t, writes)

	// Turning mid-window: written immediately.
	layer.UpdateMyPosition(world.Delta{DY: 5}, world.DirDown)
	assert.Equal(t, 1, writes)

	rec, _ := table.Get("u1")
	assert.Equal(t, world.DirDown, rec.Direction)
}

func TestUpdateMyPositionNoRecordIsNoOp(t *testing.T) {
	layer, table, _ := newTestLayer(t, identity.User{UserID: "u1"}, Options{})

	layer.UpdateMyPosition(world.Delta{DX: 5}, world.DirRight)

	_, ok := table.Get("u1")
	assert.False(t, ok)
}

func TestStopMyMotion(t *testing.T) {
	layer, table, _ := newTestLayer(t, identity.User{UserID: "u1"}, Options{})
	layer.Bootstrap()
	layer.UpdateMyPosition(world.Delta{DX: 5}, world.DirRight)

	layer.StopMyMotion(world.DirLeft)

	rec, _ := table.Get("u1")
	assert.False(t, rec.IsMoving)
	assert.Equal(t, world.DirLeft, rec.Direction)

	// The throttle clock was reset: the next move writes immediately.
	writes := 0
	unobserve := table.Observe(func() { writes++ })
	defer unobserve()
	layer.UpdateMyPosition(world.Delta{DX: 5}, world.DirLeft)
	assert.Equal(t, 1, writes)
}

func TestSaySetsBubble(t *testing.T) {
	now := time.Now()
	layer, table, _ := newTestLayer(t, identity.User{UserID: "u1"},
		Options{Now: func() time.Time { return now }})
	layer.Bootstrap()
	defer layer.Stop()

	layer.Say("hello there")

	rec, _ := table.Get("u1")
	assert.Equal(t, "hello there", rec.Message)
	assert.Equal(t, now.UnixMilli(), rec.MessageTimestamp)
}

func TestSetAppearanceUpdatesRecordAndSession(t *testing.T) {
	layer, table, session := newTestLayer(t, identity.User{UserID: "u1"}, Options{})
	layer.Bootstrap()

	layer.SetAppearance(entity.ColorBronze, entity.ColorLight)

	rec, _ := table.Get("u1")
	assert.Equal(t, entity.ColorBronze, rec.HeadColor)
	assert.Equal(t, entity.ColorLight, rec.BodyColor)

	u, _ := session.Current()
	assert.Equal(t, "bronze", u.HeadColor)
	assert.Equal(t, "light", u.BodyColor)
}

func TestCloseSavesLastPosition(t *testing.T) {
	store := identity.NewMemoryStore()
	layer, _, session := newTestLayer(t, identity.User{
		UserID:   "u1",
		Username: "alice",
	}, Options{Store: store})
	layer.Bootstrap()
	layer.SetMyPosition(world.Position{X: 42, Y: 84})

	layer.Close()

	pos, ok, err := store.LoadLastPosition("alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, world.Position{X: 42, Y: 84}, pos)

	u, _ := session.Current()
	require.NotNil(t, u.LastX)
	assert.Equal(t, 42.0, *u.LastX)
}

func TestStartRepairsVanishedRecord(t *testing.T) {
	layer, table, _ := newTestLayer(t, identity.User{UserID: "u1"}, Options{})
	stop := layer.Start()
	defer stop()

	_, ok := table.Get("u1")
	require.True(t, ok)

	// Simulate the disconnect-handler race deleting our record: a
	// table change with the record gone triggers re-bootstrap.
	v, err := table.Doc().Path(entity.TableName).Get()
	require.NoError(t, err)
	require.NoError(t, v.Map().Delete("u1"))
	table.Doc().Notify()

	rec, ok := table.Get("u1")
	require.True(t, ok)
	assert.Equal(t, 500.0, rec.X)
}
