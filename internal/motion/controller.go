// Package motion samples held directional input once per animation
// frame and turns it into frame-rate-normalized movement deltas and a
// discrete facing. It is independent of rendering and of the network:
// it only feeds callbacks.
package motion

import (
	"math"
	"time"

	"syncverse/internal/world"
)

// DefaultSpeed is the base movement speed in pixels per 60fps frame.
const DefaultSpeed = 5.0

// referenceFrame is the frame duration speed is normalized against.
const referenceFrame = float64(1000.0 / 60.0) // ms

// MoveFunc receives a per-frame displacement and the resolved facing.
// Downstream throttling is the reconciliation layer's job, not ours.
type MoveFunc func(delta world.Delta, dir world.Direction)

// StopFunc fires exactly once when the last held key is released.
type StopFunc func(dir world.Direction)

// Controller integrates press/release edge events into per-frame
// movement. It is driven from a single frame loop; it is not safe for
// concurrent use.
type Controller struct {
	speed  float64
	onMove MoveFunc
	onStop StopFunc

	held map[world.Direction]bool

	lastTick  time.Time
	wasMoving bool
	lastDir   world.Direction
}

// NewController builds a controller. speed <= 0 selects DefaultSpeed.
func NewController(speed float64, onMove MoveFunc, onStop StopFunc) *Controller {
	if speed <= 0 {
		speed = DefaultSpeed
	}
	return &Controller{
		speed:   speed,
		onMove:  onMove,
		onStop:  onStop,
		held:    map[world.Direction]bool{},
		lastDir: world.DirDown,
	}
}

// Press records a key-down edge for a direction. Repeated presses of an
// already-held direction are ignored.
func (c *Controller) Press(dir world.Direction) {
	if !dir.Valid() {
		return
	}
	c.held[dir] = true
}

// Release records a key-up edge for a direction.
func (c *Controller) Release(dir world.Direction) {
	if !dir.Valid() {
		return
	}
	delete(c.held, dir)
}

// Moving reports whether any direction is currently held.
func (c *Controller) Moving() bool { return len(c.held) > 0 }

// Facing returns the last resolved facing.
func (c *Controller) Facing() world.Direction { return c.lastDir }

// Tick advances one animation frame. The elapsed time since the last
// tick normalizes the step so speed stays constant across variable
// frame rates; the first tick moves a single reference frame.
func (c *Controller) Tick(now time.Time) {
	elapsed := referenceFrame
	if !c.lastTick.IsZero() {
		elapsed = float64(now.Sub(c.lastTick)) / float64(time.Millisecond)
	}
	c.lastTick = now

	step := c.speed * (elapsed / referenceFrame)

	var dx, dy float64
	if c.held[world.DirUp] {
		dy -= step
	}
	if c.held[world.DirDown] {
		dy += step
	}
	if c.held[world.DirLeft] {
		dx -= step
	}
	if c.held[world.DirRight] {
		dx += step
	}

	// Diagonal movement must not outrun cardinal movement.
	if dx != 0 && dy != 0 {
		length := math.Sqrt(dx*dx + dy*dy)
		dx = dx / length * step
		dy = dy / length * step
	}

	dir := c.resolveFacing()
	if c.Moving() {
		c.lastDir = dir
	}

	if (dx != 0 || dy != 0) && c.onMove != nil {
		c.onMove(world.Delta{DX: dx, DY: dy}, dir)
	}

	moving := c.Moving()
	if moving {
		c.wasMoving = true
	} else if c.wasMoving {
		c.wasMoving = false
		if c.onStop != nil {
			c.onStop(c.lastDir)
		}
	}
}

// resolveFacing picks one facing from the held set with fixed priority
// up > down > left > right, retaining the last facing when idle.
func (c *Controller) resolveFacing() world.Direction {
	switch {
	case c.held[world.DirUp]:
		return world.DirUp
	case c.held[world.DirDown]:
		return world.DirDown
	case c.held[world.DirLeft]:
		return world.DirLeft
	case c.held[world.DirRight]:
		return world.DirRight
	default:
		return c.lastDir
	}
}
