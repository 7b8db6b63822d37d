// Package entity implements the replicated key-value table holding one
// avatar record per connected participant. Records live under the
// well-known "players" map of the shared document; field-level
// last-writer-wins merging is provided by the document itself.
package entity

import (
	"fmt"
	"sort"

	"github.com/automerge/automerge-go"

	"syncverse/internal/crdt"
	"syncverse/internal/world"
)

// TableName is the well-known map name inside the shared document.
const TableName = "players"

// Field names inside a record map.
const (
	fieldUserID           = "userId"
	fieldX                = "x"
	fieldY                = "y"
	fieldDirection        = "direction"
	fieldIsMoving         = "isMoving"
	fieldHeadColor        = "headColor"
	fieldBodyColor        = "bodyColor"
	fieldEmail            = "email"
	fieldMessage          = "message"
	fieldMessageTimestamp = "messageTimestamp"
)

// Table is the Entity State Table view over a replicated document.
// All connected clients share it read/write; the application discipline
// is that each client writes only its own record (enforced in the
// reconciliation layer, not here).
type Table struct {
	doc *crdt.Doc
}

// NewTable binds a table view to a replicated document.
func NewTable(doc *crdt.Doc) *Table {
	return &Table{doc: doc}
}

// Doc returns the underlying replicated document.
func (t *Table) Doc() *crdt.Doc { return t.doc }

// Observe registers fn to run on every committed change to the
// document, local or remote. Returns an unsubscribe function.
func (t *Table) Observe(fn func()) func() {
	return t.doc.Subscribe(fn)
}

// Get reads the record for userID. The second return is false when no
// record exists. Missing fields decode to their defaults.
func (t *Table) Get(userID string) (Record, bool) {
	m, ok := t.recordMap(userID)
	if !ok {
		return Record{}, false
	}
	return decodeRecord(userID, m), true
}

// HasField reports whether the stored record carries the named field.
// The reconciliation layer uses this to repair partial records without
// clobbering present values.
func (t *Table) HasField(userID, field string) bool {
	m, ok := t.recordMap(userID)
	if !ok {
		return false
	}
	v, err := m.Get(field)
	if err != nil {
		return false
	}
	return v.Kind() != automerge.KindVoid && v.Kind() != automerge.KindNull
}

// All returns every record in the table, ordered by user id for a
// stable iteration order.
func (t *Table) All() []Record {
	v, err := t.doc.Path(TableName).Get()
	if err != nil || v.Kind() != automerge.KindMap {
		return nil
	}
	values, err := v.Map().Values()
	if err != nil {
		return nil
	}
	records := make([]Record, 0, len(values))
	for id, rv := range values {
		if rv.Kind() != automerge.KindMap {
			continue
		}
		records = append(records, decodeRecord(id, rv.Map()))
	}
	sort.Slice(records, func(i, j int) bool { return records[i].UserID < records[j].UserID })
	return records
}

// Len returns the number of records in the table.
func (t *Table) Len() int {
	v, err := t.doc.Path(TableName).Get()
	if err != nil || v.Kind() != automerge.KindMap {
		return 0
	}
	return v.Map().Len()
}

// Set merge-patches the record for userID. Fields absent from the patch
// retain their prior value; when no record exists, missing fields fall
// back to defaults. Fields whose patched value equals the stored value
// are skipped, so re-applying an identical patch is observably a no-op.
func (t *Table) Set(userID string, p Patch) error {
	current, exists := t.Get(userID)
	if !exists {
		current = DefaultRecord(userID)
	}

	next := applyPatch(current, p)
	next.UserID = userID

	wrote := false
	write := func(field string, have, want any) error {
		if exists && have == want {
			return nil
		}
		if err := t.doc.Path(TableName, userID, field).Set(want); err != nil {
			return fmt.Errorf("failed to set %s.%s: %w", userID, field, err)
		}
		wrote = true
		return nil
	}

	// userId is forced to the key on first write.
	if !exists {
		if err := write(fieldUserID, nil, userID); err != nil {
			return err
		}
	}
	if err := write(fieldX, current.X, next.X); err != nil {
		return err
	}
	if err := write(fieldY, current.Y, next.Y); err != nil {
		return err
	}
	if err := write(fieldDirection, string(current.Direction), string(next.Direction)); err != nil {
		return err
	}
	if err := write(fieldIsMoving, current.IsMoving, next.IsMoving); err != nil {
		return err
	}
	if err := write(fieldHeadColor, string(current.HeadColor), string(next.HeadColor)); err != nil {
		return err
	}
	if err := write(fieldBodyColor, string(current.BodyColor), string(next.BodyColor)); err != nil {
		return err
	}
	// Optional fields are only materialized once a value shows up.
	if next.Email != "" || t.HasField(userID, fieldEmail) {
		if err := write(fieldEmail, current.Email, next.Email); err != nil {
			return err
		}
	}
	if next.Message != "" || t.HasField(userID, fieldMessage) {
		if err := write(fieldMessage, current.Message, next.Message); err != nil {
			return err
		}
		if err := write(fieldMessageTimestamp, float64(current.MessageTimestamp), float64(next.MessageTimestamp)); err != nil {
			return err
		}
	}

	if wrote {
		t.doc.Notify()
	}
	return nil
}

func applyPatch(r Record, p Patch) Record {
	if p.X != nil {
		r.X = *p.X
	}
	if p.Y != nil {
		r.Y = *p.Y
	}
	if p.Direction != nil {
		r.Direction = *p.Direction
	}
	if p.IsMoving != nil {
		r.IsMoving = *p.IsMoving
	}
	if p.HeadColor != nil {
		r.HeadColor = *p.HeadColor
	}
	if p.BodyColor != nil {
		r.BodyColor = *p.BodyColor
	}
	if p.Email != nil {
		r.Email = *p.Email
	}
	if p.Message != nil {
		r.Message = *p.Message
	}
	if p.MessageTimestamp != nil {
		r.MessageTimestamp = *p.MessageTimestamp
	}
	return r
}

func (t *Table) recordMap(userID string) (*automerge.Map, bool) {
	v, err := t.doc.Path(TableName, userID).Get()
	if err != nil || v.Kind() != automerge.KindMap {
		return nil, false
	}
	return v.Map(), true
}

func decodeRecord(userID string, m *automerge.Map) Record {
	r := DefaultRecord(userID)
	r.X = floatField(m, fieldX, r.X)
	r.Y = floatField(m, fieldY, r.Y)
	if s, ok := strField(m, fieldDirection); ok {
		if d := world.Direction(s); d.Valid() {
			r.Direction = d
		}
	}
	r.IsMoving = boolField(m, fieldIsMoving, r.IsMoving)
	if s, ok := strField(m, fieldHeadColor); ok && Color(s).Valid() {
		r.HeadColor = Color(s)
	}
	if s, ok := strField(m, fieldBodyColor); ok && Color(s).Valid() {
		r.BodyColor = Color(s)
	}
	if s, ok := strField(m, fieldEmail); ok {
		r.Email = s
	}
	if s, ok := strField(m, fieldMessage); ok {
		r.Message = s
	}
	r.MessageTimestamp = int64(floatField(m, fieldMessageTimestamp, 0))
	return r
}

func floatField(m *automerge.Map, field string, fallback float64) float64 {
	v, err := m.Get(field)
	if err != nil {
		return fallback
	}
	switch v.Kind() {
	case automerge.KindFloat64:
		return v.Float64()
	case automerge.KindInt64:
		return float64(v.Int64())
	case automerge.KindUint64:
		return float64(v.Uint64())
	default:
		return fallback
	}
}

func strField(m *automerge.Map, field string) (string, bool) {
	v, err := m.Get(field)
	if err != nil || v.Kind() != automerge.KindStr {
		return "", false
	}
	return v.Str(), true
}

func boolField(m *automerge.Map, field string, fallback bool) bool {
	v, err := m.Get(field)
	if err != nil || v.Kind() != automerge.KindBool {
		return fallback
	}
	return v.Bool()
}
