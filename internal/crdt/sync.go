package crdt

import (
	"fmt"

	"github.com/automerge/automerge-go"
)

// SyncLocal converges two in-process replicas by exchanging sync
// messages until neither side has anything left to send. Used by tests
// and by anything that needs network-free convergence.
func SyncLocal(a, b *Doc) error {
	sa := automerge.NewSyncState(a.inner)
	sb := automerge.NewSyncState(b.inner)

	headsA := a.Heads()
	headsB := b.Heads()

	exchanged := true
	for exchanged {
		exchanged = false

		for {
			msg, valid := sa.GenerateMessage()
			if !valid {
				break
			}
			exchanged = true
			if _, err := sb.ReceiveMessage(msg.Bytes()); err != nil {
				return fmt.Errorf("failed to apply message to b: %w", err)
			}
		}

		for {
			msg, valid := sb.GenerateMessage()
			if !valid {
				break
			}
			exchanged = true
			if _, err := sa.ReceiveMessage(msg.Bytes()); err != nil {
				return fmt.Errorf("failed to apply message to a: %w", err)
			}
		}
	}

	if !HeadsEqual(headsA, a.Heads()) {
		a.Notify()
	}
	if !HeadsEqual(headsB, b.Heads()) {
		b.Notify()
	}
	return nil
}

// HeadsEqual reports whether two sets of change hashes describe the
// same document state. Receivers use it to tell real change sets apart
// from handshake-only sync messages.
func HeadsEqual(a, b []automerge.ChangeHash) bool {
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
