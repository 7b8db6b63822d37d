package board

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func canvasPNG(t *testing.T, c *Canvas) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, c.Image()))
	return buf.Bytes()
}

func testStrokes() []Stroke {
	return []Stroke{
		{Tool: ToolPen, Color: "red", LineWidth: 3, Points: []Point{{X: 10, Y: 10}, {X: 50, Y: 40}, {X: 90, Y: 10}}},
		{Tool: ToolRect, Color: "#00ff00", LineWidth: 2, Start: &Point{X: 60, Y: 60}, End: &Point{X: 20, Y: 90}},
		{Tool: ToolCircle, Color: "blue", LineWidth: 2, Start: &Point{X: 100, Y: 100}, End: &Point{X: 120, Y: 100}},
		{Tool: ToolArrow, Color: "white", LineWidth: 2, Start: &Point{X: 30, Y: 130}, End: &Point{X: 130, Y: 130}},
		{Tool: ToolLine, Color: "yellow", LineWidth: 1, Start: &Point{X: 0, Y: 0}, End: &Point{X: 150, Y: 150}},
	}
}

func TestReplayDeterministic(t *testing.T) {
	a := NewCanvas(CanvasOptions{Width: 160, Height: 160})
	b := NewCanvas(CanvasOptions{Width: 160, Height: 160})

	strokes := testStrokes()
	a.Replay(strokes)
	b.Replay(strokes)

	// Same log, same pixels: replay is the convergence guarantee for
	// late joiners.
	assert.Equal(t, canvasPNG(t, a), canvasPNG(t, b))
}

func TestReplayResetsPriorContent(t *testing.T) {
	a := NewCanvas(CanvasOptions{Width: 160, Height: 160})
	a.Draw(Stroke{Tool: ToolPen, Color: "red", LineWidth: 10, Points: []Point{{X: 80, Y: 80}, {X: 81, Y: 80}}})
	a.Replay(nil)

	fresh := NewCanvas(CanvasOptions{Width: 160, Height: 160})
	assert.Equal(t, canvasPNG(t, fresh), canvasPNG(t, a))
}

func TestDrawChangesPixels(t *testing.T) {
	c := NewCanvas(CanvasOptions{Width: 160, Height: 160})
	before := canvasPNG(t, c)
	c.Draw(Stroke{Tool: ToolPen, Color: "red", LineWidth: 4, Points: []Point{{X: 20, Y: 20}, {X: 140, Y: 140}}})
	assert.NotEqual(t, before, canvasPNG(t, c))
}

func TestSinglePointDotRenders(t *testing.T) {
	c := NewCanvas(CanvasOptions{Width: 160, Height: 160})
	before := canvasPNG(t, c)
	c.Draw(Stroke{Tool: ToolPen, Color: "white", LineWidth: 6, Points: []Point{{X: 80, Y: 80}}})
	assert.NotEqual(t, before, canvasPNG(t, c))
}

func TestEraserRestoresBackground(t *testing.T) {
	c := NewCanvas(CanvasOptions{Width: 160, Height: 160})
	fresh := canvasPNG(t, c)

	c.Draw(Stroke{Tool: ToolPen, Color: "red", LineWidth: 8, Points: []Point{{X: 40, Y: 80}, {X: 120, Y: 80}}})
	// Erase wider than what was drawn: the strip goes back to background.
	c.Draw(Stroke{Tool: ToolEraser, LineWidth: 40, Points: []Point{{X: 0, Y: 80}, {X: 160, Y: 80}}})

	assert.Equal(t, fresh, canvasPNG(t, c))
}

func TestEraseSegmentMatchesEraserStroke(t *testing.T) {
	a := NewCanvas(CanvasOptions{Width: 160, Height: 160})
	b := NewCanvas(CanvasOptions{Width: 160, Height: 160})
	pen := Stroke{Tool: ToolPen, Color: "red", LineWidth: 8, Points: []Point{{X: 40, Y: 80}, {X: 120, Y: 80}}}
	a.Draw(pen)
	b.Draw(pen)

	// Live compositing and the committed stroke must agree, otherwise
	// the eraser flickers when the commit lands.
	a.EraseSegment(Point{X: 30, Y: 80}, Point{X: 130, Y: 80}, 20)
	b.Draw(Stroke{Tool: ToolEraser, LineWidth: 20, Points: []Point{{X: 30, Y: 80}, {X: 130, Y: 80}}})

	assert.Equal(t, canvasPNG(t, a), canvasPNG(t, b))
}

func TestResolveColor(t *testing.T) {
	assert.Equal(t, "#ef4444", resolveColor("red"))
	assert.Equal(t, "#123abc", resolveColor("#123abc"))
	assert.Equal(t, "#ffffff", resolveColor("not-a-color"))
}
