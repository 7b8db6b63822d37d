package client

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"syncverse/internal/protocol"
)

func TestSetLocalFieldPublishesWholePayload(t *testing.T) {
	a := NewAwareness(1)
	var published []json.RawMessage
	a.setPublisher(func(p json.RawMessage) { published = append(published, p) })

	require.NoError(t, a.SetLocalField("user", map[string]string{"name": "alice"}))
	require.NoError(t, a.SetLocalField("cursor", map[string]float64{"x": 5}))

	require.Len(t, published, 2)
	// The second publish carries both fields, not just the changed one.
	var payload map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(published[1], &payload))
	assert.Contains(t, payload, "user")
	assert.Contains(t, payload, "cursor")
}

func TestLocalPayloadSurvivesForReplay(t *testing.T) {
	a := NewAwareness(1)
	require.NoError(t, a.SetLocalField("user", map[string]string{"name": "alice"}))

	payload, err := a.LocalPayload()
	require.NoError(t, err)
	assert.JSONEq(t, `{"user":{"name":"alice"}}`, string(payload))
}

func TestApplyAndField(t *testing.T) {
	a := NewAwareness(1)
	a.Apply(protocol.NewAwarenessEnvelope(2, json.RawMessage(`{"user":{"name":"bob"}}`)))

	var user struct {
		Name string `json:"name"`
	}
	ok, err := a.Field(2, "user", &user)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "bob", user.Name)

	ok, err = a.Field(2, "cursor", &user)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestApplyIgnoresOwnClientID(t *testing.T) {
	a := NewAwareness(1)
	a.Apply(protocol.NewAwarenessEnvelope(1, json.RawMessage(`{"user":{"name":"echo"}}`)))
	assert.Empty(t, a.States())
}

func TestTombstoneRemovesPeer(t *testing.T) {
	a := NewAwareness(1)
	a.Apply(protocol.NewAwarenessEnvelope(2, json.RawMessage(`{"user":{}}`)))
	require.Len(t, a.States(), 1)

	a.Apply(protocol.NewAwarenessEnvelope(2, nil))
	assert.Empty(t, a.States())
}

func TestDisconnectedClearsRemote(t *testing.T) {
	a := NewAwareness(1)
	a.Apply(protocol.NewAwarenessEnvelope(2, json.RawMessage(`{"user":{}}`)))
	a.Apply(protocol.NewAwarenessEnvelope(3, json.RawMessage(`{"user":{}}`)))
	require.Len(t, a.States(), 2)

	a.Disconnected()
	assert.Empty(t, a.States())
}

func TestOnChangeFiresAndUnsubscribes(t *testing.T) {
	a := NewAwareness(1)
	fired := 0
	unsub := a.OnChange(func() { fired++ })

	a.Apply(protocol.NewAwarenessEnvelope(2, json.RawMessage(`{"user":{}}`)))
	assert.Equal(t, 1, fired)

	// Tombstone for an unknown peer is a no-op, no notification.
	a.Apply(protocol.NewAwarenessEnvelope(9, nil))
	assert.Equal(t, 1, fired)

	unsub()
	a.Apply(protocol.NewAwarenessEnvelope(3, json.RawMessage(`{"user":{}}`)))
	assert.Equal(t, 1, fired)
}

func TestOnChangeUnsubscribeReleasesHandler(t *testing.T) {
	a := NewAwareness(1)
	for i := 0; i < 100; i++ {
		unsub := a.OnChange(func() {})
		unsub()
	}

	a.mu.RLock()
	remaining := len(a.handlers)
	a.mu.RUnlock()
	assert.Zero(t, remaining)
}

func TestStatesSnapshotIsolated(t *testing.T) {
	a := NewAwareness(1)
	a.Apply(protocol.NewAwarenessEnvelope(2, json.RawMessage(`{"user":{"name":"bob"}}`)))

	snap := a.States()
	delete(snap[2], "user")

	var user struct {
		Name string `json:"name"`
	}
	ok, err := a.Field(2, "user", &user)
	require.NoError(t, err)
	assert.True(t, ok)
}
