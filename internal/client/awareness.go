package client

import (
	"encoding/json"
	"fmt"
	"sync"

	"syncverse/internal/protocol"
)

// Awareness tracks the ephemeral per-peer state exchanged over the
// text channel. Unlike the document it has no history: the latest
// envelope per client wins, and a dropped connection erases that
// client's entry everywhere.
type Awareness struct {
	clientID uint64

	mu          sync.RWMutex
	local       map[string]json.RawMessage
	remote      map[uint64]map[string]json.RawMessage
	handlers    map[int]func()
	nextHandler int
	publish     func(json.RawMessage)
}

// NewAwareness builds an awareness instance for the given client id.
func NewAwareness(clientID uint64) *Awareness {
	return &Awareness{
		clientID: clientID,
		local:    map[string]json.RawMessage{},
		remote:   map[uint64]map[string]json.RawMessage{},
		handlers: map[int]func(){},
	}
}

// ClientID returns the local client id.
func (a *Awareness) ClientID() uint64 { return a.clientID }

// SetLocalField sets one namespaced field of the local state (for
// example "user" or "cursor") and republishes the whole local payload.
func (a *Awareness) SetLocalField(field string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode awareness field %q: %w", field, err)
	}
	a.mu.Lock()
	a.local[field] = raw
	payload, err := json.Marshal(a.local)
	publish := a.publish
	a.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode awareness payload: %w", err)
	}
	if publish != nil {
		publish(payload)
	}
	a.notify()
	return nil
}

// ClearLocalField removes a field and republishes.
func (a *Awareness) ClearLocalField(field string) {
	a.mu.Lock()
	delete(a.local, field)
	payload, err := json.Marshal(a.local)
	publish := a.publish
	a.mu.Unlock()
	if err == nil && publish != nil {
		publish(payload)
	}
	a.notify()
}

// LocalPayload returns the serialized local state, used to replay it
// after a reconnect.
func (a *Awareness) LocalPayload() (json.RawMessage, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	payload, err := json.Marshal(a.local)
	if err != nil {
		return nil, fmt.Errorf("encode awareness payload: %w", err)
	}
	return payload, nil
}

// States returns a snapshot of all remote states keyed by client id.
// The local client is not included.
func (a *Awareness) States() map[uint64]map[string]json.RawMessage {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[uint64]map[string]json.RawMessage, len(a.remote))
	for id, fields := range a.remote {
		copied := make(map[string]json.RawMessage, len(fields))
		for k, v := range fields {
			copied[k] = v
		}
		out[id] = copied
	}
	return out
}

// Field decodes one field of a remote client's state into dst.
func (a *Awareness) Field(clientID uint64, field string, dst any) (bool, error) {
	a.mu.RLock()
	raw, ok := a.remote[clientID][field]
	a.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode awareness field %q: %w", field, err)
	}
	return true, nil
}

// OnChange registers a handler fired after any remote or local state
// change. Returns an unsubscribe func.
func (a *Awareness) OnChange(fn func()) func() {
	a.mu.Lock()
	id := a.nextHandler
	a.nextHandler++
	a.handlers[id] = fn
	a.mu.Unlock()
	return func() {
		a.mu.Lock()
		delete(a.handlers, id)
		a.mu.Unlock()
	}
}

// Apply folds a received envelope into the remote table. Entries for
// the local client id are ignored; null payloads remove the peer.
func (a *Awareness) Apply(env protocol.AwarenessEnvelope) {
	changed := false
	a.mu.Lock()
	for id, raw := range env.States {
		if id == a.clientID {
			continue
		}
		if string(raw) == "null" {
			if _, ok := a.remote[id]; ok {
				delete(a.remote, id)
				changed = true
			}
			continue
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			continue
		}
		a.remote[id] = fields
		changed = true
	}
	a.mu.Unlock()
	if changed {
		a.notify()
	}
}

// Disconnected clears all remote state; fired when the transport
// drops, since peers may have changed while we were away.
func (a *Awareness) Disconnected() {
	a.mu.Lock()
	n := len(a.remote)
	a.remote = map[uint64]map[string]json.RawMessage{}
	a.mu.Unlock()
	if n > 0 {
		a.notify()
	}
}

func (a *Awareness) setPublisher(fn func(json.RawMessage)) {
	a.mu.Lock()
	a.publish = fn
	a.mu.Unlock()
}

func (a *Awareness) notify() {
	a.mu.RLock()
	handlers := make([]func(), 0, len(a.handlers))
	for _, fn := range a.handlers {
		handlers = append(handlers, fn)
	}
	a.mu.RUnlock()
	for _, fn := range handlers {
		fn()
	}
}
