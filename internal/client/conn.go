package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/automerge/automerge-go"
	"github.com/gorilla/websocket"

	"syncverse/internal/crdt"
	"syncverse/internal/protocol"
)

// ReconnectInterval paces reconnection attempts after the transport
// drops.
const ReconnectInterval = time.Second

// Options configures a relay connection.
type Options struct {
	// URL is the relay websocket endpoint, e.g. ws://host:port/ws/room.
	URL string
	// Token is the connection token, sent as a query parameter.
	Token string
	// ClientID identifies this client in awareness envelopes. Zero
	// picks a random id.
	ClientID uint64
}

// Conn keeps a local replicated document converged with a relay. It
// owns the websocket, a sync-state pump per connection attempt, and
// the awareness side channel. Local edits are picked up via the
// document's dirty signal; there is no explicit flush call.
type Conn struct {
	doc       *crdt.Doc
	awareness *Awareness
	url       string
	token     string

	connected atomic.Bool
	ready     chan struct{}
	readyOnce sync.Once

	mu      sync.Mutex
	ws      *websocket.Conn
	writeMu sync.Mutex
}

// New builds a connection for doc. It does nothing until Run is
// called.
func New(doc *crdt.Doc, opts Options) (*Conn, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("relay URL is required")
	}
	if _, err := url.Parse(opts.URL); err != nil {
		return nil, fmt.Errorf("parse relay URL: %w", err)
	}
	clientID := opts.ClientID
	if clientID == 0 {
		clientID = rand.Uint64()
	}
	c := &Conn{
		doc:       doc,
		awareness: NewAwareness(clientID),
		url:       opts.URL,
		token:     opts.Token,
		ready:     make(chan struct{}),
	}
	c.awareness.setPublisher(c.sendAwareness)
	return c, nil
}

// Doc returns the replicated document.
func (c *Conn) Doc() *crdt.Doc { return c.doc }

// Awareness returns the awareness side channel.
func (c *Conn) Awareness() *Awareness { return c.awareness }

// Connected reports whether a websocket session is currently live.
// Local edits made while disconnected are not lost; they sync on the
// next session.
func (c *Conn) Connected() bool { return c.connected.Load() }

// Ready is closed once the replica has absorbed its first remote
// change set. Mutating a fresh document before then creates local
// root containers that rival the relay's and hide peer state after
// the merge, so embedders must hold their first write until Ready.
// Readiness is sticky across reconnects: the document keeps its
// state, so a replica never becomes un-ready.
func (c *Conn) Ready() <-chan struct{} { return c.ready }

// WaitReady blocks until the replica is ready or ctx ends.
func (c *Conn) WaitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Conn) markReady() {
	c.readyOnce.Do(func() { close(c.ready) })
}

// Run dials the relay and keeps the document synced until ctx is
// cancelled, redialing after transport failures.
func (c *Conn) Run(ctx context.Context) {
	for {
		if err := c.runOnce(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[Client] Session ended: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(ReconnectInterval):
		}
	}
}

func (c *Conn) runOnce(ctx context.Context) error {
	u, err := url.Parse(c.url)
	if err != nil {
		return err
	}
	if c.token != "" {
		q := u.Query()
		q.Set("token", c.token)
		u.RawQuery = q.Encode()
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial relay: %w", err)
	}

	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
	c.connected.Store(true)
	log.Printf("[Client] Connected to %s", c.url)

	defer func() {
		c.connected.Store(false)
		c.mu.Lock()
		c.ws = nil
		c.mu.Unlock()
		ws.Close()
		c.awareness.Disconnected()
	}()

	// Replay local awareness so peers on the new session see us
	// without waiting for the next state change.
	if payload, err := c.awareness.LocalPayload(); err == nil {
		c.sendAwareness(payload)
	}

	syncState := automerge.NewSyncState(c.doc.Underlying())

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- c.readPump(ws, syncState) }()
	go func() { errCh <- c.writePump(sessionCtx, ws, syncState) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		ws.Close()
		return ctx.Err()
	}
}

// readPump consumes frames: binary frames feed the sync state, text
// frames feed awareness.
func (c *Conn) readPump(ws *websocket.Conn, syncState *automerge.SyncState) error {
	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("read frame: %w", err)
		}
		switch mt {
		case websocket.BinaryMessage:
			if err := c.applySyncFrame(syncState, data); err != nil {
				return err
			}
		case websocket.TextMessage:
			env, ok, err := protocol.DecodeAwareness(data)
			if err != nil {
				log.Printf("[Client] Bad awareness frame: %v", err)
				continue
			}
			if ok {
				c.awareness.Apply(env)
			}
		}
	}
}

// applySyncFrame folds a received sync message into the document.
// Observers only fire when the message carried a change set; a
// handshake-only frame just wakes the writer for the protocol reply.
// The first applied change set marks the replica ready, since the
// relay's replica always holds the shared root containers.
func (c *Conn) applySyncFrame(syncState *automerge.SyncState, data []byte) error {
	before := c.doc.Heads()
	if _, err := syncState.ReceiveMessage(data); err != nil {
		return fmt.Errorf("receive sync message: %w", err)
	}
	if crdt.HeadsEqual(before, c.doc.Heads()) {
		c.doc.MarkDirty()
		return nil
	}
	c.doc.Notify()
	c.markReady()
	return nil
}

// writePump drains pending sync messages whenever the document is
// dirty, plus on a slow ticker as a safety net.
func (c *Conn) writePump(ctx context.Context, ws *websocket.Conn, syncState *automerge.SyncState) error {
	if err := c.drain(ws, syncState); err != nil {
		return err
	}
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.doc.Dirty():
			if err := c.drain(ws, syncState); err != nil {
				return err
			}
		case <-t.C:
			if err := c.drain(ws, syncState); err != nil {
				return err
			}
		}
	}
}

func (c *Conn) drain(ws *websocket.Conn, syncState *automerge.SyncState) error {
	for {
		msg, valid := syncState.GenerateMessage()
		if msg == nil {
			return nil
		}
		c.writeMu.Lock()
		err := ws.WriteMessage(websocket.BinaryMessage, msg.Bytes())
		c.writeMu.Unlock()
		if err != nil {
			return fmt.Errorf("write sync message: %w", err)
		}
		if !valid {
			return nil
		}
	}
}

// sendAwareness ships the local payload in an envelope. Dropped
// silently while disconnected; the reconnect replay covers it.
func (c *Conn) sendAwareness(payload json.RawMessage) {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return
	}
	env := protocol.NewAwarenessEnvelope(c.awareness.ClientID(), payload)
	data, err := env.Encode()
	if err != nil {
		log.Printf("[Client] Awareness encode failed: %v", err)
		return
	}
	c.writeMu.Lock()
	err = ws.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		log.Printf("[Client] Awareness send failed: %v", err)
	}
}
