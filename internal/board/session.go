package board

import (
	"log"
	"strings"
	"time"
)

// State is the drawing session's finite state.
type State int

const (
	StateIdle State = iota
	StateDrawing
	StateTyping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDrawing:
		return "drawing"
	case StateTyping:
		return "typing"
	default:
		return "unknown"
	}
}

// DefaultPreviewThrottle rate-limits in-progress preview broadcasts.
const DefaultPreviewThrottle = 30 * time.Millisecond

// CursorPublisher publishes the local client's ephemeral cursor state
// into the awareness channel. Implemented by the connection layer; a
// nil publisher disables previews without affecting commits.
type CursorPublisher interface {
	PublishCursor(CursorState)
}

// RasterEraser receives eraser motion for immediate destructive
// compositing against the local raster, ahead of the committed stroke
// peers replay from the log.
type RasterEraser interface {
	EraseSegment(from, to Point, width float64)
}

// SessionOptions configures a drawing session.
type SessionOptions struct {
	Name            string // display name shown next to the remote cursor
	Publisher       CursorPublisher
	Eraser          RasterEraser
	PreviewThrottle time.Duration
	Now             func() time.Time
}

// Session is the per-client drawing state machine: Idle → Drawing →
// Idle for pointer tools, with Typing as the parallel exclusive state
// for the text tool. Commits are the only writes into the stroke log;
// everything in between travels over awareness as a preview.
//
// Driven from a single input loop; not safe for concurrent use.
type Session struct {
	logStore  *Log
	publisher CursorPublisher
	eraser    RasterEraser
	name      string
	throttle  time.Duration
	now       func() time.Time

	state     State
	tool      Tool
	color     string
	lineWidth float64

	start   Point
	end     Point
	points  []Point
	cursor  Point
	textPos Point
	text    string

	lastPreview time.Time
}

// NewSession builds a session writing commits into logStore.
func NewSession(logStore *Log, opts SessionOptions) *Session {
	throttle := opts.PreviewThrottle
	if throttle <= 0 {
		throttle = DefaultPreviewThrottle
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Session{
		logStore:  logStore,
		publisher: opts.Publisher,
		eraser:    opts.Eraser,
		name:      opts.Name,
		throttle:  throttle,
		now:       now,
		state:     StateIdle,
		tool:      ToolPen,
		color:     "#ffffff",
		lineWidth: DefaultLineWidth,
	}
}

// State returns the current state.
func (s *Session) State() State { return s.state }

// Tool returns the active tool.
func (s *Session) Tool() Tool { return s.tool }

// SetTool switches tools. Ignored mid-stroke so a half-drawn stroke
// keeps the tool it started with.
func (s *Session) SetTool(t Tool) {
	if s.state == StateDrawing || !t.Valid() {
		return
	}
	s.tool = t
}

// SetColor sets the stroke color token (any CSS-like color string).
func (s *Session) SetColor(c string) {
	if c != "" {
		s.color = c
	}
}

// SetLineWidth sets the stroke width, clamped to [1, 100].
func (s *Session) SetLineWidth(w float64) {
	if w < 1 {
		w = 1
	}
	if w > 100 {
		w = 100
	}
	s.lineWidth = w
}

// PointerDown begins a stroke, or opens/commits text entry for the
// text tool.
func (s *Session) PointerDown(p Point) {
	s.cursor = p
	if s.tool == ToolText {
		if s.state == StateTyping {
			s.CommitText()
			return
		}
		if s.state == StateIdle {
			s.state = StateTyping
			s.textPos = p
			s.text = ""
		}
		return
	}
	if s.state != StateIdle {
		return
	}
	s.state = StateDrawing
	s.start = p
	s.end = p
	s.points = []Point{p}
}

// PointerMove extends the in-progress stroke (freehand: append sample,
// shape: recompute end point) and throttle-publishes the preview so
// peers can render it without touching the committed log. Outside a
// stroke it still publishes the bare cursor.
func (s *Session) PointerMove(p Point) {
	prev := s.cursor
	s.cursor = p

	if s.state == StateDrawing {
		if s.tool.Freehand() {
			s.points = append(s.points, p)
			if s.tool == ToolEraser && s.eraser != nil {
				s.eraser.EraseSegment(prev, p, s.lineWidth)
			}
		} else {
			s.end = p
		}
	}

	s.publishPreview(false)
}

// PointerUp finalizes the in-progress stroke, appends it to the log,
// and clears the preview. The commit is unconditional: whatever was
// buffered is what peers replay.
func (s *Session) PointerUp(p Point) {
	if s.state != StateDrawing {
		return
	}
	s.cursor = p
	if s.tool.Freehand() {
		s.points = append(s.points, p)
	} else {
		s.end = p
	}

	stroke := s.buildStroke()
	s.state = StateIdle
	s.points = nil

	if err := s.logStore.Append(stroke); err != nil {
		log.Printf("[Board] Stroke commit failed: %v", err)
	}
	s.publishPreview(true)
}

// CancelStroke abandons the in-progress stroke without committing.
func (s *Session) CancelStroke() {
	if s.state != StateDrawing {
		return
	}
	s.state = StateIdle
	s.points = nil
	s.publishPreview(true)
}

// SetText replaces the text entry buffer while typing.
func (s *Session) SetText(text string) {
	if s.state == StateTyping {
		s.text = text
	}
}

// CommitText appends a text stroke from the entry buffer (Enter or
// blur). Empty or whitespace-only text discards instead.
func (s *Session) CommitText() {
	if s.state != StateTyping {
		return
	}
	text := strings.TrimSpace(s.text)
	s.state = StateIdle
	s.text = ""
	if text == "" {
		return
	}
	pos := s.textPos
	err := s.logStore.Append(Stroke{
		Tool:      ToolText,
		Color:     s.color,
		LineWidth: s.lineWidth,
		Start:     &pos,
		Text:      text,
	})
	if err != nil {
		log.Printf("[Board] Text commit failed: %v", err)
	}
}

// CancelText discards text entry (Escape).
func (s *Session) CancelText() {
	if s.state != StateTyping {
		return
	}
	s.state = StateIdle
	s.text = ""
}

// ClearAll truncates the shared log. Any client may do this; a clear
// racing a concurrent append settles on whichever the merge orders
// last.
func (s *Session) ClearAll() {
	if err := s.logStore.Clear(); err != nil {
		log.Printf("[Board] Clear failed: %v", err)
	}
}

// InProgress returns the local uncommitted stroke for overlay
// rendering, or nil when idle.
func (s *Session) InProgress() *Stroke {
	if s.state != StateDrawing {
		return nil
	}
	stroke := s.buildStroke()
	return &stroke
}

func (s *Session) buildStroke() Stroke {
	stroke := Stroke{
		Tool:      s.tool,
		Color:     s.color,
		LineWidth: s.lineWidth,
	}
	if s.tool.Freehand() {
		stroke.Points = append([]Point(nil), s.points...)
	} else {
		start, end := s.start, s.end
		stroke.Start = &start
		stroke.End = &end
	}
	return stroke
}

// publishPreview pushes the cursor state into awareness. Throttled to
// the preview window unless force is set (stroke boundaries publish
// immediately so the preview never lingers after a commit).
func (s *Session) publishPreview(force bool) {
	if s.publisher == nil {
		return
	}
	now := s.now()
	if !force && now.Sub(s.lastPreview) < s.throttle {
		return
	}
	s.lastPreview = now
	s.publisher.PublishCursor(CursorState{
		Name:       s.name,
		Color:      s.color,
		Tool:       s.tool,
		Pos:        s.cursor,
		InProgress: s.InProgress(),
	})
}
