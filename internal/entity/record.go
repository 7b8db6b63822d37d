package entity

import (
	"syncverse/internal/world"
)

// Color is a cosmetic appearance token for an avatar part.
type Color string

const (
	ColorAmber  Color = "amber"
	ColorBlack  Color = "black"
	ColorBronze Color = "bronze"
	ColorGreen  Color = "green"
	ColorLight  Color = "light"
	ColorWhite  Color = "white"
)

// Valid reports whether c is a known appearance color.
func (c Color) Valid() bool {
	switch c {
	case ColorAmber, ColorBlack, ColorBronze, ColorGreen, ColorLight, ColorWhite:
		return true
	}
	return false
}

// Record is one participant's replicated avatar state, keyed by the
// stable user id in the entity table.
type Record struct {
	UserID    string          `json:"userId"`
	X         float64         `json:"x"`
	Y         float64         `json:"y"`
	Direction world.Direction `json:"direction"`
	IsMoving  bool            `json:"isMoving"`
	HeadColor Color           `json:"headColor"`
	BodyColor Color           `json:"bodyColor"`

	// Optional correlation key to the external identity store.
	Email string `json:"email,omitempty"`

	// Ephemeral chat bubble; expiry is caller-managed (see reconcile).
	Message          string `json:"message,omitempty"`
	MessageTimestamp int64  `json:"messageTimestamp,omitempty"`
}

// Position returns the record's world position.
func (r Record) Position() world.Position {
	return world.Position{X: r.X, Y: r.Y}
}

// DefaultRecord is the record written for a participant with no prior
// state: origin position, facing down, resting, amber appearance.
func DefaultRecord(userID string) Record {
	return Record{
		UserID:    userID,
		X:         0,
		Y:         0,
		Direction: world.DirDown,
		IsMoving:  false,
		HeadColor: ColorAmber,
		BodyColor: ColorAmber,
	}
}

// Patch is a merge-patch against a Record: nil fields retain the prior
// value. The user id is never patchable; the table forces it to the key.
type Patch struct {
	X                *float64
	Y                *float64
	Direction        *world.Direction
	IsMoving         *bool
	HeadColor        *Color
	BodyColor        *Color
	Email            *string
	Message          *string
	MessageTimestamp *int64
}

// IsZero reports whether the patch carries no fields.
func (p Patch) IsZero() bool {
	return p.X == nil && p.Y == nil && p.Direction == nil && p.IsMoving == nil &&
		p.HeadColor == nil && p.BodyColor == nil && p.Email == nil &&
		p.Message == nil && p.MessageTimestamp == nil
}

func Float64Ptr(v float64) *float64                   { return &v }
func Int64Ptr(v int64) *int64                         { return &v }
func BoolPtr(v bool) *bool                            { return &v }
func StringPtr(v string) *string                      { return &v }
func DirectionPtr(d world.Direction) *world.Direction { return &d }
func ColorPtr(c Color) *Color                         { return &c }
