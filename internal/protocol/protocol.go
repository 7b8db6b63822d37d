// Package protocol defines the wire format shared by the relay and
// its clients. A connection carries two interleaved streams over one
// websocket: binary frames are raw document sync messages, text frames
// are JSON awareness envelopes. Frame type alone disambiguates; there
// is no outer header on the binary path.
package protocol

import (
	"encoding/json"
	"fmt"
)

// MessageAwareness is the only text-frame message type today. The
// field exists so the text channel can grow without breaking older
// peers, which ignore unknown types.
const MessageAwareness = "awareness"

// AwarenessEnvelope carries ephemeral per-client state. States maps a
// client id to its payload; a null payload is a tombstone telling
// receivers to drop that client's entry.
type AwarenessEnvelope struct {
	Type     string                     `json:"type"`
	ClientID uint64                     `json:"clientId"`
	States   map[uint64]json.RawMessage `json:"states"`
}

// NewAwarenessEnvelope wraps a single client's payload. A nil payload
// encodes the tombstone.
func NewAwarenessEnvelope(clientID uint64, payload json.RawMessage) AwarenessEnvelope {
	states := map[uint64]json.RawMessage{clientID: payload}
	if payload == nil {
		states[clientID] = json.RawMessage("null")
	}
	return AwarenessEnvelope{Type: MessageAwareness, ClientID: clientID, States: states}
}

// Encode serializes the envelope for a text frame.
func (e AwarenessEnvelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode awareness envelope: %w", err)
	}
	return data, nil
}

// DecodeAwareness parses a text frame. Frames with an unknown type
// return (zero, false, nil) so callers can skip them silently.
func DecodeAwareness(data []byte) (AwarenessEnvelope, bool, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return AwarenessEnvelope{}, false, fmt.Errorf("decode text frame: %w", err)
	}
	if probe.Type != MessageAwareness {
		return AwarenessEnvelope{}, false, nil
	}
	var env AwarenessEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return AwarenessEnvelope{}, false, fmt.Errorf("decode awareness envelope: %w", err)
	}
	return env, true, nil
}

// Tombstone reports whether the entry for clientID is a null payload.
func (e AwarenessEnvelope) Tombstone(clientID uint64) bool {
	raw, ok := e.States[clientID]
	if !ok {
		return false
	}
	return string(raw) == "null"
}
