package rewind

import (
	"github.com/go-gl/mathgl/mgl64"

	"rewind-arena/server/internal/geom"
	"rewind-arena/server/internal/handle"
)

// HitboxSnapshot is the captured world pose of one named hitbox.
type HitboxSnapshot struct {
	Position mgl64.Vec3
	Rotation mgl64.Quat
	Extents  mgl64.Vec3
}

// Box converts the snapshot into an oriented box.
func (s HitboxSnapshot) Box() geom.Box {
	return geom.Box{Center: s.Position, Rotation: s.Rotation, HalfExtents: s.Extents}
}

// SnapshotFromBox captures an oriented box.
func SnapshotFromBox(box geom.Box) HitboxSnapshot {
	return HitboxSnapshot{Position: box.Center, Rotation: box.Rotation, Extents: box.HalfExtents}
}

// FrameSnapshot is one recorded tick of a tracked character. Every hitbox in
// the frame shares Timestamp.
type FrameSnapshot struct {
	Timestamp    float64
	Character    handle.Handle
	Invulnerable bool
	Hitboxes     map[string]HitboxSnapshot
}

// InvalidFrame is the sentinel returned when no usable history exists.
func InvalidFrame() FrameSnapshot {
	return FrameSnapshot{}
}

// IsValid reports whether f references a character.
func (f FrameSnapshot) IsValid() bool {
	return !f.Character.IsZero()
}

// Result is the verdict of a single verification call.
type Result struct {
	ValidHit   bool `json:"validHit" msgpack:"validHit"`
	IsHeadshot bool `json:"isHeadshot" msgpack:"isHeadshot"`
}
