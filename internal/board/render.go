package board

import (
	"fmt"
	"image"
	"log"
	"math"
	"strings"

	"github.com/fogleman/gg"
)

// BackgroundColor is the board background; the eraser paints with it.
const BackgroundColor = "#2d2d2d"

const (
	textBaseSize   = 18.0
	arrowHeadLen   = 15.0
	arrowHeadAngle = math.Pi / 6
)

// namedColors covers the color tokens the palette offers beyond raw
// hex values.
var namedColors = map[string]string{
	"white":  "#ffffff",
	"black":  "#000000",
	"red":    "#ef4444",
	"orange": "#f97316",
	"yellow": "#eab308",
	"green":  "#22c55e",
	"blue":   "#3b82f6",
	"purple": "#a855f7",
	"pink":   "#ec4899",
	"gray":   "#9ca3af",
}

func resolveColor(c string) string {
	c = strings.ToLower(strings.TrimSpace(c))
	if hex, ok := namedColors[c]; ok {
		return hex
	}
	if strings.HasPrefix(c, "#") {
		return c
	}
	return "#ffffff"
}

// Canvas is a local raster of the board. Replay is deterministic:
// rendering the same stroke sequence always produces the same pixels,
// so convergence of the log implies convergence of the image.
type Canvas struct {
	dc       *gg.Context
	fontPath string
}

// CanvasOptions configures rasterization.
type CanvasOptions struct {
	Width  int
	Height int
	// FontPath optionally points at a TTF used for text strokes. When
	// empty, text renders with the built-in bitmap face at a fixed
	// size.
	FontPath string
}

// NewCanvas allocates a board-sized raster filled with the background
// color.
func NewCanvas(opts CanvasOptions) *Canvas {
	w, h := opts.Width, opts.Height
	if w <= 0 {
		w = WorldWidth
	}
	if h <= 0 {
		h = WorldHeight
	}
	dc := gg.NewContext(w, h)
	dc.SetHexColor(BackgroundColor)
	dc.Clear()
	return &Canvas{dc: dc, fontPath: opts.FontPath}
}

// Image returns the current raster.
func (c *Canvas) Image() image.Image { return c.dc.Image() }

// Reset wipes the raster back to the background color.
func (c *Canvas) Reset() {
	c.dc.SetHexColor(BackgroundColor)
	c.dc.Clear()
}

// Replay resets the raster and draws every stroke in log order.
func (c *Canvas) Replay(strokes []Stroke) {
	c.Reset()
	for _, s := range strokes {
		c.Draw(s)
	}
}

// Draw renders a single stroke onto the raster.
func (c *Canvas) Draw(s Stroke) {
	dc := c.dc
	width := s.LineWidth
	if width <= 0 {
		width = DefaultLineWidth
	}

	switch s.Tool {
	case ToolPen, ToolEraser:
		if len(s.Points) == 0 {
			return
		}
		if s.Tool == ToolEraser {
			dc.SetHexColor(BackgroundColor)
			dc.SetLineCapSquare()
		} else {
			dc.SetHexColor(resolveColor(s.Color))
			dc.SetLineCapRound()
		}
		dc.SetLineWidth(width)
		dc.MoveTo(s.Points[0].X, s.Points[0].Y)
		if len(s.Points) == 1 {
			// Dot: a zero-length segment still leaves a cap.
			dc.LineTo(s.Points[0].X, s.Points[0].Y)
		}
		for _, p := range s.Points[1:] {
			dc.LineTo(p.X, p.Y)
		}
		dc.Stroke()
		dc.SetLineCapRound()

	case ToolLine:
		if s.Start == nil || s.End == nil {
			return
		}
		dc.SetHexColor(resolveColor(s.Color))
		dc.SetLineWidth(width)
		dc.SetLineCapRound()
		dc.DrawLine(s.Start.X, s.Start.Y, s.End.X, s.End.Y)
		dc.Stroke()

	case ToolRect:
		if s.Start == nil || s.End == nil {
			return
		}
		dc.SetHexColor(resolveColor(s.Color))
		dc.SetLineWidth(width)
		x := math.Min(s.Start.X, s.End.X)
		y := math.Min(s.Start.Y, s.End.Y)
		dc.DrawRectangle(x, y, math.Abs(s.End.X-s.Start.X), math.Abs(s.End.Y-s.Start.Y))
		dc.Stroke()

	case ToolCircle:
		if s.Start == nil || s.End == nil {
			return
		}
		dc.SetHexColor(resolveColor(s.Color))
		dc.SetLineWidth(width)
		r := math.Hypot(s.End.X-s.Start.X, s.End.Y-s.Start.Y)
		dc.DrawCircle(s.Start.X, s.Start.Y, r)
		dc.Stroke()

	case ToolArrow:
		if s.Start == nil || s.End == nil {
			return
		}
		dc.SetHexColor(resolveColor(s.Color))
		dc.SetLineWidth(width)
		dc.SetLineCapRound()
		c.drawArrow(*s.Start, *s.End)

	case ToolText:
		if s.Start == nil || s.Text == "" {
			return
		}
		dc.SetHexColor(resolveColor(s.Color))
		if c.fontPath != "" {
			// Font size tracks line width the same way the stroke
			// tools do.
			if err := dc.LoadFontFace(c.fontPath, textBaseSize+width); err != nil {
				log.Printf("[Board] Font load failed, using builtin face: %v", err)
				c.fontPath = ""
			}
		}
		dc.DrawString(s.Text, s.Start.X, s.Start.Y)
	}
}

func (c *Canvas) drawArrow(from, to Point) {
	dc := c.dc
	dc.DrawLine(from.X, from.Y, to.X, to.Y)
	dc.Stroke()

	angle := math.Atan2(to.Y-from.Y, to.X-from.X)
	for _, a := range []float64{angle - arrowHeadAngle, angle + arrowHeadAngle} {
		dc.DrawLine(to.X, to.Y, to.X-arrowHeadLen*math.Cos(a), to.Y-arrowHeadLen*math.Sin(a))
		dc.Stroke()
	}
}

// EraseSegment paints a background-colored segment with square caps,
// the live half of eraser compositing. Implements RasterEraser.
func (c *Canvas) EraseSegment(from, to Point, width float64) {
	if width <= 0 {
		width = DefaultLineWidth
	}
	dc := c.dc
	dc.SetHexColor(BackgroundColor)
	dc.SetLineWidth(width)
	dc.SetLineCapSquare()
	dc.DrawLine(from.X, from.Y, to.X, to.Y)
	dc.Stroke()
	dc.SetLineCapRound()
}

// SavePNG writes the raster to disk.
func (c *Canvas) SavePNG(path string) error {
	if err := c.dc.SavePNG(path); err != nil {
		return fmt.Errorf("save board raster: %w", err)
	}
	return nil
}
