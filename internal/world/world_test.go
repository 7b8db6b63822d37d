package world

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDirectionValid(t *testing.T) {
	assert.True(t, DirUp.Valid())
	assert.True(t, DirDown.Valid())
	assert.True(t, DirLeft.Valid())
	assert.True(t, DirRight.Valid())
	assert.False(t, Direction("north").Valid())
	assert.False(t, Direction("").Valid())
}

func TestBoundaryCenter(t *testing.T) {
	b := Boundary{MaxX: 1500, MaxY: 1500}
	assert.Equal(t, Position{X: 750, Y: 750}, b.Center())

	offset := Boundary{MinX: 100, MaxX: 300, MinY: 50, MaxY: 150}
	assert.Equal(t, Position{X: 200, Y: 100}, offset.Center())
}

func TestBoundaryClamp(t *testing.T) {
	b := Boundary{MaxX: 1500, MaxY: 1500}

	assert.Equal(t, Position{X: 0, Y: 0}, b.Clamp(Position{X: -10, Y: -99}))
	assert.Equal(t, Position{X: 1500, Y: 1500}, b.Clamp(Position{X: 2000, Y: 1501}))
	assert.Equal(t, Position{X: 700, Y: 800}, b.Clamp(Position{X: 700, Y: 800}))
}

func TestBoundaryStepClampsAtEdge(t *testing.T) {
	b := Boundary{MaxX: 100, MaxY: 100}

	p := b.Step(Position{X: 98, Y: 50}, Delta{DX: 5})
	assert.Equal(t, Position{X: 100, Y: 50}, p)

	p = b.Step(Position{X: 0, Y: 2}, Delta{DX: -5, DY: -5})
	assert.Equal(t, Position{X: 0, Y: 0}, p)
}

func TestBoundaryContains(t *testing.T) {
	b := Boundary{MaxX: 10, MaxY: 10}
	assert.True(t, b.Contains(Position{X: 0, Y: 0}))
	assert.True(t, b.Contains(Position{X: 10, Y: 10}))
	assert.False(t, b.Contains(Position{X: 10.01, Y: 5}))
	assert.False(t, b.Contains(Position{X: 5, Y: -0.01}))
}

func TestSpriteFrameRows(t *testing.T) {
	x, y := SpriteFrame(DirUp, 0)
	assert.Equal(t, 0, x)
	assert.Equal(t, -8*SpriteSize, y)

	x, y = SpriteFrame(DirLeft, 3)
	assert.Equal(t, -3*SpriteSize, x)
	assert.Equal(t, -9*SpriteSize, y)

	x, y = SpriteFrame(DirDown, 9) // wraps past the frame count
	assert.Equal(t, -1*SpriteSize, x)
	assert.Equal(t, -10*SpriteSize, y)

	x, y = SpriteFrame(DirRight, 7)
	assert.Equal(t, -7*SpriteSize, x)
	assert.Equal(t, -11*SpriteSize, y)

	// Unknown facings fall back to the down row.
	_, y = SpriteFrame(Direction("bogus"), 0)
	assert.Equal(t, -10*SpriteSize, y)
}

func TestWalkFrameAt(t *testing.T) {
	assert.Equal(t, 0, WalkFrameAt(false, 12*time.Second))
	assert.Equal(t, 0, WalkFrameAt(true, 50*time.Millisecond))
	assert.Equal(t, 1, WalkFrameAt(true, 150*time.Millisecond))
	assert.Equal(t, 7, WalkFrameAt(true, 799*time.Millisecond))
	assert.Equal(t, 0, WalkFrameAt(true, 800*time.Millisecond))
}

func TestSpriteOffsetCSS(t *testing.T) {
	assert.Equal(t, "0px -512px", SpriteOffsetCSS(DirUp, 0))
	assert.Equal(t, "-128px -704px", SpriteOffsetCSS(DirRight, 2))
}
