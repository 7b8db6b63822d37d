package world

import (
	"fmt"
	"time"
)

// Sprite sheet layout: 64px cells, one row per facing, 8 walk frames.
const (
	SpriteSize      = 64
	WalkFrames      = 8
	WalkFramePeriod = 100 * time.Millisecond
)

var spriteRows = map[Direction]int{
	DirUp:    8,
	DirLeft:  9,
	DirDown:  10,
	DirRight: 11,
}

// SpriteFrame resolves the sheet cell for a facing and walk frame.
// Frame 0 is the rest frame; a stopped avatar must always render it.
func SpriteFrame(dir Direction, frame int) (x, y int) {
	row, ok := spriteRows[dir]
	if !ok {
		row = spriteRows[DirDown]
	}
	return -(frame % WalkFrames) * SpriteSize, -row * SpriteSize
}

// WalkFrameAt returns the walk frame index for an avatar that has been
// moving for the given duration, or 0 when it is not moving.
func WalkFrameAt(moving bool, movingFor time.Duration) int {
	if !moving {
		return 0
	}
	return int(movingFor/WalkFramePeriod) % WalkFrames
}

// SpriteOffsetCSS formats a sheet cell as a CSS background-position
// token, the form the rendering layer consumes.
func SpriteOffsetCSS(dir Direction, frame int) string {
	x, y := SpriteFrame(dir, frame)
	return fmt.Sprintf("%dpx %dpx", x, y)
}
