// Package board implements the collaborative whiteboard layer: the
// replicated append-only stroke log, the per-client drawing session
// state machine, the ephemeral cursor/preview payloads, and the
// deterministic raster replay of committed strokes.
package board

import "fmt"

// Fixed whiteboard world size, shared by every client.
const (
	WorldWidth  = 3000
	WorldHeight = 2000
)

// DefaultLineWidth is the initial pen width.
const DefaultLineWidth = 2

// Tool identifies a drawing primitive.
type Tool string

const (
	ToolPen    Tool = "pen"
	ToolEraser Tool = "eraser"
	ToolLine   Tool = "line"
	ToolRect   Tool = "rect"
	ToolCircle Tool = "circle"
	ToolArrow  Tool = "arrow"
	ToolText   Tool = "text"
)

// Valid reports whether t is a known tool.
func (t Tool) Valid() bool {
	switch t {
	case ToolPen, ToolEraser, ToolLine, ToolRect, ToolCircle, ToolArrow, ToolText:
		return true
	}
	return false
}

// Freehand reports whether the tool buffers sampled points.
func (t Tool) Freehand() bool { return t == ToolPen || t == ToolEraser }

// Shape reports whether the tool is defined by a start and end point.
func (t Tool) Shape() bool {
	return t == ToolLine || t == ToolRect || t == ToolCircle || t == ToolArrow
}

// Point is a board-space coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Stroke is one committed drawing primitive. Immutable once appended to
// the log; the variant payload depends on the tool: freehand tools
// carry Points, shape tools carry Start and End, text carries Start and
// Text.
type Stroke struct {
	Tool      Tool    `json:"tool"`
	Color     string  `json:"color"`
	LineWidth float64 `json:"lineWidth"`
	Points    []Point `json:"points,omitempty"`
	Start     *Point  `json:"start,omitempty"`
	End       *Point  `json:"end,omitempty"`
	Text      string  `json:"text,omitempty"`
}

// Validate checks the variant payload against the tool.
func (s Stroke) Validate() error {
	if !s.Tool.Valid() {
		return fmt.Errorf("unknown tool %q", s.Tool)
	}
	switch {
	case s.Tool.Freehand():
		if len(s.Points) < 1 {
			return fmt.Errorf("%s stroke needs at least one point", s.Tool)
		}
	case s.Tool.Shape():
		if s.Start == nil || s.End == nil {
			return fmt.Errorf("%s stroke needs start and end", s.Tool)
		}
	case s.Tool == ToolText:
		if s.Start == nil || s.Text == "" {
			return fmt.Errorf("text stroke needs a position and nonempty text")
		}
	}
	return nil
}

// CursorState is the whiteboard half of a client's awareness payload:
// live cursor position, active tool, and the in-progress (uncommitted)
// stroke peers render as a preview. It vanishes with the connection.
type CursorState struct {
	Name       string  `json:"name"`
	Color      string  `json:"color"`
	Tool       Tool    `json:"tool"`
	Pos        Point   `json:"pos"`
	InProgress *Stroke `json:"inProgress,omitempty"`
}
