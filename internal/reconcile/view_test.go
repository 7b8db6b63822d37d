package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"syncverse/internal/crdt"
	"syncverse/internal/entity"
	"syncverse/internal/identity"
	"syncverse/internal/world"
)

type sinkCapture struct {
	transforms map[string]world.Position
	camera     world.Position
	cameraSet  bool
}

func newSinkCapture() *sinkCapture {
	return &sinkCapture{transforms: map[string]world.Position{}}
}

func (s *sinkCapture) ApplyTransform(userID string, pos world.Position) {
	s.transforms[userID] = pos
}

func (s *sinkCapture) ApplyCamera(offset world.Position) {
	s.camera = offset
	s.cameraSet = true
}

func newTestView(t *testing.T) (*View, *entity.Table, *identity.Session) {
	t.Helper()
	doc := crdt.NewDoc()
	table := entity.NewTable(doc)
	session := identity.NewSession()
	session.Init(identity.User{UserID: "me"})
	view := NewView(table, session, nil, world.Position{X: 800, Y: 600}, nil)
	return view, table, session
}

func TestMetadataStableAcrossPositionChanges(t *testing.T) {
	view, table, _ := newTestView(t)
	require.NoError(t, table.Set("me", entity.Patch{X: entity.Float64Ptr(10)}))

	stop := view.Start()
	defer stop()

	before := view.Metadata()
	version := view.Version()

	// Coordinate-only churn.
	require.NoError(t, table.Set("me", entity.Patch{X: entity.Float64Ptr(20)}))
	require.NoError(t, table.Set("me", entity.Patch{Y: entity.Float64Ptr(30)}))

	after := view.Metadata()
	assert.Equal(t, version, view.Version())
	// Reference equality: the slice was not replaced.
	require.Len(t, after, 1)
	assert.Same(t, &before[0], &after[0])
}

func TestMetadataVersionBumpsOnRealChange(t *testing.T) {
	view, table, _ := newTestView(t)
	require.NoError(t, table.Set("me", entity.Patch{}))

	stop := view.Start()
	defer stop()
	version := view.Version()

	require.NoError(t, table.Set("me", entity.Patch{
		Direction: entity.DirectionPtr(world.DirLeft),
	}))

	assert.Greater(t, view.Version(), version)
	md := view.Metadata()
	require.Len(t, md, 1)
	assert.Equal(t, world.DirLeft, md[0].Direction)
}

func TestMetadataCarriesNoCoordinates(t *testing.T) {
	view, table, _ := newTestView(t)
	require.NoError(t, table.Set("me", entity.Patch{
		X: entity.Float64Ptr(123),
		Y: entity.Float64Ptr(456),
	}))
	require.NoError(t, table.Set("peer", entity.Patch{}))

	stop := view.Start()
	defer stop()

	md := view.Metadata()
	require.Len(t, md, 2)
	// Entries are sorted by user id.
	assert.Equal(t, "me", md[0].UserID)
	assert.Equal(t, "peer", md[1].UserID)
}

func TestApplyFrameTransformsAndCamera(t *testing.T) {
	view, table, _ := newTestView(t)
	require.NoError(t, table.Set("me", entity.Patch{
		X: entity.Float64Ptr(100),
		Y: entity.Float64Ptr(50),
	}))
	require.NoError(t, table.Set("peer", entity.Patch{
		X: entity.Float64Ptr(700),
		Y: entity.Float64Ptr(900),
	}))

	sink := newSinkCapture()
	view.ApplyFrame(sink)

	assert.Equal(t, world.Position{X: 100, Y: 50}, sink.transforms["me"])
	assert.Equal(t, world.Position{X: 700, Y: 900}, sink.transforms["peer"])
	// Camera keeps the local avatar at the viewport center.
	require.True(t, sink.cameraSet)
	assert.Equal(t, world.Position{X: 400 - 100, Y: 300 - 50}, sink.camera)
}

func TestNicknameFallsBackToShortID(t *testing.T) {
	view, table, _ := newTestView(t)
	require.NoError(t, table.Set("user-12345678-long", entity.Patch{}))

	stop := view.Start()
	defer stop()

	md := view.Metadata()
	require.Len(t, md, 1)
	assert.Equal(t, "user-123", md[0].Nickname)
}

func TestNicknameResolvedFromDirectory(t *testing.T) {
	doc := crdt.NewDoc()
	table := entity.NewTable(doc)
	session := identity.NewSession()
	session.Init(identity.User{UserID: "me"})

	store := identity.NewMemoryStore()
	store.SetNickname("alice@example.com", "Alice")

	view := NewView(table, session, store, world.Position{X: 800, Y: 600}, nil)
	require.NoError(t, table.Set("me", entity.Patch{
		Email: entity.StringPtr("alice@example.com"),
	}))

	stop := view.Start()
	defer stop()

	md := view.Metadata()
	require.Len(t, md, 1)
	assert.Equal(t, "Alice", md[0].Nickname)
}

func TestReaderExpiresStaleBubble(t *testing.T) {
	view, table, _ := newTestView(t)

	now := time.Now()
	view.now = func() time.Time { return now }

	require.NoError(t, table.Set("me", entity.Patch{
		Message:          entity.StringPtr("old news"),
		MessageTimestamp: entity.Int64Ptr(now.Add(-6 * time.Second).UnixMilli()),
	}))
	require.NoError(t, table.Set("peer", entity.Patch{
		Message:          entity.StringPtr("fresh"),
		MessageTimestamp: entity.Int64Ptr(now.Add(-1 * time.Second).UnixMilli()),
	}))

	stop := view.Start()
	defer stop()

	md := view.Metadata()
	require.Len(t, md, 2)
	// A bubble past its window renders empty even if the writer's
	// deferred clear never landed.
	assert.Empty(t, md[0].Message)
	assert.Equal(t, "fresh", md[1].Message)
}

func TestOnMetadataCallback(t *testing.T) {
	doc := crdt.NewDoc()
	table := entity.NewTable(doc)
	session := identity.NewSession()
	session.Init(identity.User{UserID: "me"})

	var calls int
	view := NewView(table, session, nil, world.Position{X: 800, Y: 600},
		func([]Metadata) { calls++ })

	require.NoError(t, table.Set("me", entity.Patch{}))
	stop := view.Start()
	defer stop()
	require.Equal(t, 1, calls)

	// Position-only change: no callback.
	require.NoError(t, table.Set("me", entity.Patch{X: entity.Float64Ptr(5)}))
	assert.Equal(t, 1, calls)

	require.NoError(t, table.Set("me", entity.Patch{
		Message:          entity.StringPtr("hi"),
		MessageTimestamp: entity.Int64Ptr(time.Now().UnixMilli()),
	}))
	assert.Equal(t, 2, calls)
}
