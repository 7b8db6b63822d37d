// Package crdt wraps the automerge document the shared-space layers
// replicate through. The document itself is the reused building block;
// this package only adds the change-notification pump the higher layers
// subscribe to, and a dirty signal the connection writer drains.
package crdt

import (
	"sync"

	"github.com/automerge/automerge-go"
)

// Doc is a replicated document handle. The underlying automerge doc is
// safe for concurrent use; Doc adds observer bookkeeping on top.
//
// Observers registered with Subscribe fire synchronously from whichever
// goroutine committed the change: the caller's for local mutations, the
// connection read loop for remote ones.
type Doc struct {
	inner *automerge.Doc

	mu      sync.Mutex
	subs    map[int]func()
	nextSub int

	dirty chan struct{}
}

// NewDoc creates an empty replicated document.
func NewDoc() *Doc {
	return wrap(automerge.New())
}

// Load restores a document from a saved snapshot.
func Load(raw []byte) (*Doc, error) {
	inner, err := automerge.Load(raw)
	if err != nil {
		return nil, err
	}
	return wrap(inner), nil
}

func wrap(inner *automerge.Doc) *Doc {
	return &Doc{
		inner: inner,
		subs:  map[int]func(){},
		dirty: make(chan struct{}, 1),
	}
}

// Underlying exposes the automerge document for sync-state plumbing.
func (d *Doc) Underlying() *automerge.Doc { return d.inner }

// Path proxies automerge path access, e.g. Path("players", id, "x").
func (d *Doc) Path(path ...any) *automerge.Path { return d.inner.Path(path...) }

// Save snapshots the full committed state.
func (d *Doc) Save() []byte { return d.inner.Save() }

// Heads returns the current change hashes, used to detect whether a
// received sync message actually advanced the replica.
func (d *Doc) Heads() []automerge.ChangeHash { return d.inner.Heads() }

// Subscribe registers fn to run after every committed change batch.
// The returned function unsubscribes.
func (d *Doc) Subscribe(fn func()) func() {
	d.mu.Lock()
	id := d.nextSub
	d.nextSub++
	d.subs[id] = fn
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		delete(d.subs, id)
		d.mu.Unlock()
	}
}

// Notify fires all observers and marks the document dirty so the
// connection writer re-runs message generation. Call it after applying
// local mutations or receiving remote sync messages.
func (d *Doc) Notify() {
	d.mu.Lock()
	fns := make([]func(), 0, len(d.subs))
	for _, fn := range d.subs {
		fns = append(fns, fn)
	}
	d.mu.Unlock()

	for _, fn := range fns {
		fn()
	}

	d.MarkDirty()
}

// MarkDirty signals the connection writer without firing observers.
// Used when a received sync frame changed nothing locally but may
// still need a protocol reply.
func (d *Doc) MarkDirty() {
	select {
	case d.dirty <- struct{}{}:
	default:
	}
}

// Dirty returns a signal channel that receives after Notify. At most
// one signal is buffered; drains are idempotent.
func (d *Doc) Dirty() <-chan struct{} { return d.dirty }
