package board

import (
	"fmt"

	"github.com/automerge/automerge-go"

	"syncverse/internal/crdt"
)

// LogName is the well-known list name inside the whiteboard document.
const LogName = "paths"

// Log is the replicated append-only sequence of committed strokes.
// Strokes are immutable once appended; the only other mutation is the
// bulk clear, which any client may perform. There is no per-stroke
// authorization.
type Log struct {
	doc *crdt.Doc
}

// NewLog binds a stroke log view to a replicated document.
func NewLog(doc *crdt.Doc) *Log {
	return &Log{doc: doc}
}

// Observe registers fn to run on every committed change, local or
// remote. Returns an unsubscribe function.
func (l *Log) Observe(fn func()) func() {
	return l.doc.Subscribe(fn)
}

// Append commits a finalized stroke to the log. This is the only
// mutation path into the log.
func (l *Log) Append(s Stroke) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("refusing to append invalid stroke: %w", err)
	}
	list, err := l.list()
	if err != nil {
		return err
	}
	if err := list.Append(encodeStroke(s)); err != nil {
		return fmt.Errorf("failed to append stroke: %w", err)
	}
	l.doc.Notify()
	return nil
}

// Len returns the number of committed strokes.
func (l *Log) Len() int {
	v, err := l.doc.Path(LogName).Get()
	if err != nil || v.Kind() != automerge.KindList {
		return 0
	}
	return v.List().Len()
}

// Strokes returns the committed strokes in replica order. Entries that
// fail to decode are skipped rather than treated as errors.
func (l *Log) Strokes() []Stroke {
	v, err := l.doc.Path(LogName).Get()
	if err != nil || v.Kind() != automerge.KindList {
		return nil
	}
	values, err := v.List().Values()
	if err != nil {
		return nil
	}
	strokes := make([]Stroke, 0, len(values))
	for _, sv := range values {
		if sv.Kind() != automerge.KindMap {
			continue
		}
		s, err := decodeStroke(sv.Map())
		if err != nil {
			continue
		}
		strokes = append(strokes, s)
	}
	return strokes
}

// Clear truncates the log to empty. Unconditional: whatever was
// committed before, from any client, is removed.
func (l *Log) Clear() error {
	v, err := l.doc.Path(LogName).Get()
	if err != nil || v.Kind() != automerge.KindList {
		return nil
	}
	list := v.List()
	n := list.Len()
	for i := n - 1; i >= 0; i-- {
		if err := list.Delete(i); err != nil {
			return fmt.Errorf("failed to clear stroke %d: %w", i, err)
		}
	}
	if n > 0 {
		l.doc.Notify()
	}
	return nil
}

// list returns the underlying automerge list, creating it on first use.
func (l *Log) list() (*automerge.List, error) {
	v, err := l.doc.Path(LogName).Get()
	if err == nil && v.Kind() == automerge.KindList {
		return v.List(), nil
	}
	if err := l.doc.Path(LogName).Set([]any{}); err != nil {
		return nil, fmt.Errorf("failed to create stroke log: %w", err)
	}
	v, err = l.doc.Path(LogName).Get()
	if err != nil || v.Kind() != automerge.KindList {
		return nil, fmt.Errorf("stroke log unavailable after create")
	}
	return v.List(), nil
}

func encodeStroke(s Stroke) map[string]any {
	m := map[string]any{
		"tool":      string(s.Tool),
		"color":     s.Color,
		"lineWidth": s.LineWidth,
	}
	if len(s.Points) > 0 {
		points := make([]any, 0, len(s.Points))
		for _, p := range s.Points {
			points = append(points, map[string]any{"x": p.X, "y": p.Y})
		}
		m["points"] = points
	}
	if s.Start != nil {
		m["start"] = map[string]any{"x": s.Start.X, "y": s.Start.Y}
	}
	if s.End != nil {
		m["end"] = map[string]any{"x": s.End.X, "y": s.End.Y}
	}
	if s.Text != "" {
		m["text"] = s.Text
	}
	return m
}

func decodeStroke(m *automerge.Map) (Stroke, error) {
	s := Stroke{}
	tool, err := m.Get("tool")
	if err != nil || tool.Kind() != automerge.KindStr {
		return s, fmt.Errorf("stroke missing tool")
	}
	s.Tool = Tool(tool.Str())

	if v, err := m.Get("color"); err == nil && v.Kind() == automerge.KindStr {
		s.Color = v.Str()
	}
	if v, err := m.Get("lineWidth"); err == nil {
		s.LineWidth = numeric(v)
	}
	if v, err := m.Get("text"); err == nil && v.Kind() == automerge.KindStr {
		s.Text = v.Str()
	}
	if v, err := m.Get("start"); err == nil && v.Kind() == automerge.KindMap {
		p := decodePoint(v.Map())
		s.Start = &p
	}
	if v, err := m.Get("end"); err == nil && v.Kind() == automerge.KindMap {
		p := decodePoint(v.Map())
		s.End = &p
	}
	if v, err := m.Get("points"); err == nil && v.Kind() == automerge.KindList {
		values, err := v.List().Values()
		if err == nil {
			for _, pv := range values {
				if pv.Kind() == automerge.KindMap {
					s.Points = append(s.Points, decodePoint(pv.Map()))
				}
			}
		}
	}
	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

func decodePoint(m *automerge.Map) Point {
	p := Point{}
	if v, err := m.Get("x"); err == nil {
		p.X = numeric(v)
	}
	if v, err := m.Get("y"); err == nil {
		p.Y = numeric(v)
	}
	return p
}

func numeric(v *automerge.Value) float64 {
	switch v.Kind() {
	case automerge.KindFloat64:
		return v.Float64()
	case automerge.KindInt64:
		return float64(v.Int64())
	case automerge.KindUint64:
		return float64(v.Uint64())
	default:
		return 0
	}
}
