package relay

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"syncverse/internal/board"
	"syncverse/internal/crdt"
	"syncverse/internal/entity"
)

// =============================================================================
// Hub - room registry and snapshot persistence
// =============================================================================

// HubOptions configures the hub.
type HubOptions struct {
	// SnapshotDir persists room documents across restarts. Empty
	// disables persistence.
	SnapshotDir string
	// SnapshotEvery paces the background snapshot loop.
	SnapshotEvery time.Duration
}

// Hub manages all rooms. Rooms are created on first join, removed when
// the last connection leaves, and optionally snapshotted to disk so a
// restart does not lose the board or last-seen avatar state.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]*Room
	opts  HubOptions
}

// NewHub creates an empty hub.
func NewHub(opts HubOptions) *Hub {
	if opts.SnapshotEvery <= 0 {
		opts.SnapshotEvery = time.Minute
	}
	return &Hub{
		rooms: make(map[string]*Room),
		opts:  opts,
	}
}

// GetOrCreateRoom returns the room, creating and seeding its document
// if needed.
func (h *Hub) GetOrCreateRoom(roomID string) (*Room, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if room, exists := h.rooms[roomID]; exists {
		return room, nil
	}

	doc, err := h.loadOrSeedDoc(roomID)
	if err != nil {
		return nil, err
	}
	room := newRoom(roomID, doc, h)
	h.rooms[roomID] = room
	log.Printf("[Hub] Created room: %s", roomID)
	return room, nil
}

// loadOrSeedDoc restores a snapshot or builds a fresh document with
// the shared containers pre-created, so the first joiner's writes and
// a peer's concurrent writes land in the same container.
func (h *Hub) loadOrSeedDoc(roomID string) (*crdt.Doc, error) {
	if h.opts.SnapshotDir != "" {
		raw, err := os.ReadFile(h.snapshotPath(roomID))
		if err == nil {
			doc, err := crdt.Load(raw)
			if err == nil {
				log.Printf("[Hub] Restored snapshot for room: %s", roomID)
				return doc, nil
			}
			log.Printf("[Hub] Snapshot for %s unreadable, starting fresh: %v", roomID, err)
		}
	}

	doc := crdt.NewDoc()
	if err := doc.Path(entity.TableName).Set(map[string]any{}); err != nil {
		return nil, fmt.Errorf("seed %s: %w", entity.TableName, err)
	}
	if err := doc.Path(board.LogName).Set([]any{}); err != nil {
		return nil, fmt.Errorf("seed %s: %w", board.LogName, err)
	}
	return doc, nil
}

func (h *Hub) snapshotPath(roomID string) string {
	return filepath.Join(h.opts.SnapshotDir, roomID+".am")
}

// maybeRemoveRoom drops a room once its last connection has left,
// snapshotting it first.
func (h *Hub) maybeRemoveRoom(roomID string) {
	h.mu.Lock()
	room, exists := h.rooms[roomID]
	if !exists || room.ConnCount() > 0 {
		h.mu.Unlock()
		return
	}
	delete(h.rooms, roomID)
	h.mu.Unlock()

	h.snapshot(room)
	log.Printf("[Hub] Removed room: %s", roomID)
}

// Rooms returns a snapshot of live room ids.
func (h *Hub) Rooms() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.rooms))
	for id := range h.rooms {
		ids = append(ids, id)
	}
	return ids
}

// RunSnapshots snapshots every live room on a ticker until ctx ends,
// then takes a final pass.
func (h *Hub) RunSnapshots(ctx context.Context) {
	if h.opts.SnapshotDir == "" {
		return
	}
	if err := os.MkdirAll(h.opts.SnapshotDir, 0o755); err != nil {
		log.Printf("[Hub] Snapshot dir unavailable, persistence disabled: %v", err)
		return
	}

	t := time.NewTicker(h.opts.SnapshotEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			h.snapshotAll()
			return
		case <-t.C:
			h.snapshotAll()
		}
	}
}

func (h *Hub) snapshotAll() {
	h.mu.RLock()
	rooms := make([]*Room, 0, len(h.rooms))
	for _, room := range h.rooms {
		rooms = append(rooms, room)
	}
	h.mu.RUnlock()

	for _, room := range rooms {
		h.snapshot(room)
	}
}

func (h *Hub) snapshot(room *Room) {
	if h.opts.SnapshotDir == "" {
		return
	}
	path := h.snapshotPath(room.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, room.doc.Save(), 0o644); err != nil {
		log.Printf("[Hub] Snapshot write failed for %s: %v", room.ID, err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		log.Printf("[Hub] Snapshot rename failed for %s: %v", room.ID, err)
	}
}
