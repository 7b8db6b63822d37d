package world

// Direction is the discrete facing of an avatar.
type Direction string

const (
	DirUp    Direction = "up"
	DirDown  Direction = "down"
	DirLeft  Direction = "left"
	DirRight Direction = "right"
)

// Valid reports whether d is one of the four facings.
func (d Direction) Valid() bool {
	switch d {
	case DirUp, DirDown, DirLeft, DirRight:
		return true
	}
	return false
}

// Position is a world-space point.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Delta is a per-frame displacement.
type Delta struct {
	DX float64
	DY float64
}

// Boundary is the rectangular coordinate bounds positions are clamped to.
type Boundary struct {
	MinX float64
	MaxX float64
	MinY float64
	MaxY float64
}

// Center returns the geometric center of the boundary, used as the
// spawn point when no persisted position exists.
func (b Boundary) Center() Position {
	return Position{
		X: (b.MinX + b.MaxX) / 2,
		Y: (b.MinY + b.MaxY) / 2,
	}
}

// Contains reports whether p lies inside the boundary (inclusive).
func (b Boundary) Contains(p Position) bool {
	return p.X >= b.MinX && p.X <= b.MaxX && p.Y >= b.MinY && p.Y <= b.MaxY
}

// Clamp restricts p to the boundary.
func (b Boundary) Clamp(p Position) Position {
	return Position{
		X: clamp(p.X, b.MinX, b.MaxX),
		Y: clamp(p.Y, b.MinY, b.MaxY),
	}
}

// Step applies d to p and clamps the result to the boundary.
func (b Boundary) Step(p Position, d Delta) Position {
	return b.Clamp(Position{X: p.X + d.DX, Y: p.Y + d.DY})
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
