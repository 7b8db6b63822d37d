package relay

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/automerge/automerge-go"
	"github.com/gofiber/contrib/websocket"

	"syncverse/internal/crdt"
	"syncverse/internal/protocol"
)

// =============================================================================
// Room - per-room document, connections and awareness relay
// =============================================================================

// Room is a shared space: one replicated document plus the ephemeral
// awareness table for everyone connected. The room never interprets
// document contents; it only converges replicas and relays awareness.
type Room struct {
	ID  string
	doc *crdt.Doc
	hub *Hub

	mu        sync.RWMutex
	conns     map[uint64]*conn
	awareness map[uint64]json.RawMessage
	// awarenessOwners maps awareness client ids to the connection that
	// published them, so a dropped connection's entries can be reaped.
	awarenessOwners map[uint64]uint64
	nextConn        uint64
}

// conn is one websocket session. syncMu serializes sync-state access;
// writeMu serializes frame writes, since both the reader loop and
// peer broadcasts write to the same socket.
type conn struct {
	id      uint64
	userID  string
	ws      *websocket.Conn
	sync    *automerge.SyncState
	syncMu  sync.Mutex
	writeMu sync.Mutex
}

func newRoom(id string, doc *crdt.Doc, hub *Hub) *Room {
	return &Room{
		ID:              id,
		doc:             doc,
		hub:             hub,
		conns:           map[uint64]*conn{},
		awareness:       map[uint64]json.RawMessage{},
		awarenessOwners: map[uint64]uint64{},
	}
}

// Doc returns the room's replicated document.
func (r *Room) Doc() *crdt.Doc { return r.doc }

// ConnCount returns the number of live connections.
func (r *Room) ConnCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// HandleConnection drives one websocket session to completion. It
// blocks on the read loop and must be called from the upgrade
// handler's goroutine.
func (r *Room) HandleConnection(ws *websocket.Conn, userID string) {
	c := r.register(ws, userID)
	log.Printf("[Room %s] Connected: %s (conn %d), total: %d",
		r.ID, userID, c.id, r.ConnCount())

	defer func() {
		r.unregister(c)
		log.Printf("[Room %s] Disconnected: %s (conn %d), remaining: %d",
			r.ID, userID, c.id, r.ConnCount())
	}()

	r.replayAwareness(c)

	// Kick off convergence for whatever the client is missing.
	if err := r.drainTo(c); err != nil {
		return
	}

	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		switch mt {
		case websocket.BinaryMessage:
			if err := r.handleSync(c, data); err != nil {
				log.Printf("[Room %s] Sync error from %s: %v", r.ID, userID, err)
				return
			}
		case websocket.TextMessage:
			r.handleText(c, data)
		}
	}
}

func (r *Room) register(ws *websocket.Conn, userID string) *conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextConn++
	c := &conn{
		id:     r.nextConn,
		userID: userID,
		ws:     ws,
		sync:   automerge.NewSyncState(r.doc.Underlying()),
	}
	r.conns[c.id] = c
	return c
}

func (r *Room) unregister(c *conn) {
	r.mu.Lock()
	delete(r.conns, c.id)
	tombstones := make([]uint64, 0, 1)
	for clientID, owner := range r.awarenessOwners {
		if owner == c.id {
			delete(r.awareness, clientID)
			delete(r.awarenessOwners, clientID)
			tombstones = append(tombstones, clientID)
		}
	}
	empty := len(r.conns) == 0
	r.mu.Unlock()

	for _, clientID := range tombstones {
		r.broadcastAwareness(c, protocol.NewAwarenessEnvelope(clientID, nil))
	}

	if empty {
		go r.hub.maybeRemoveRoom(r.ID)
	}
}

// handleSync folds a client's sync message into the document and
// pushes resulting updates to every connection, sender included (its
// own sync state decides whether anything is left to say).
func (r *Room) handleSync(c *conn, data []byte) error {
	c.syncMu.Lock()
	_, err := c.sync.ReceiveMessage(data)
	c.syncMu.Unlock()
	if err != nil {
		return err
	}
	r.doc.Notify()
	r.broadcastSync()
	return nil
}

// broadcastSync drains pending sync messages to every connection.
func (r *Room) broadcastSync() {
	r.mu.RLock()
	conns := make([]*conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	for _, c := range conns {
		if err := r.drainTo(c); err != nil {
			log.Printf("[Room %s] Failed to send to conn %d: %v", r.ID, c.id, err)
		}
	}
}

func (r *Room) drainTo(c *conn) error {
	for {
		c.syncMu.Lock()
		msg, valid := c.sync.GenerateMessage()
		c.syncMu.Unlock()
		if msg == nil {
			return nil
		}
		c.writeMu.Lock()
		err := c.ws.WriteMessage(websocket.BinaryMessage, msg.Bytes())
		c.writeMu.Unlock()
		if err != nil {
			return err
		}
		if !valid {
			return nil
		}
	}
}

// handleText processes an awareness envelope: update the table, then
// fan out to everyone else. Unknown text frames are dropped.
func (r *Room) handleText(c *conn, data []byte) {
	env, ok, err := protocol.DecodeAwareness(data)
	if err != nil {
		log.Printf("[Room %s] Bad text frame from conn %d: %v", r.ID, c.id, err)
		return
	}
	if !ok {
		return
	}

	r.mu.Lock()
	for clientID, raw := range env.States {
		if string(raw) == "null" {
			delete(r.awareness, clientID)
			delete(r.awarenessOwners, clientID)
			continue
		}
		r.awareness[clientID] = raw
		r.awarenessOwners[clientID] = c.id
	}
	r.mu.Unlock()

	r.broadcastAwareness(c, env)
}

// broadcastAwareness relays an envelope to every connection except
// sender (nil sender sends to all).
func (r *Room) broadcastAwareness(sender *conn, env protocol.AwarenessEnvelope) {
	data, err := env.Encode()
	if err != nil {
		log.Printf("[Room %s] Awareness encode failed: %v", r.ID, err)
		return
	}

	r.mu.RLock()
	conns := make([]*conn, 0, len(r.conns))
	for _, c := range r.conns {
		if sender != nil && c.id == sender.id {
			continue
		}
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	for _, c := range conns {
		c.writeMu.Lock()
		err := c.ws.WriteMessage(websocket.TextMessage, data)
		c.writeMu.Unlock()
		if err != nil {
			log.Printf("[Room %s] Awareness send to conn %d failed: %v", r.ID, c.id, err)
		}
	}
}

// replayAwareness sends the current table to a newly joined
// connection so it sees existing peers immediately.
func (r *Room) replayAwareness(c *conn) {
	r.mu.RLock()
	if len(r.awareness) == 0 {
		r.mu.RUnlock()
		return
	}
	states := make(map[uint64]json.RawMessage, len(r.awareness))
	for clientID, raw := range r.awareness {
		states[clientID] = raw
	}
	r.mu.RUnlock()

	env := protocol.AwarenessEnvelope{Type: protocol.MessageAwareness, States: states}
	data, err := env.Encode()
	if err != nil {
		return
	}
	c.writeMu.Lock()
	err = c.ws.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		log.Printf("[Room %s] Awareness replay to conn %d failed: %v", r.ID, c.id, err)
	}
}
