package world

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// moveLocked advances the character along its intent, clamped to the arena
// and stopped at obstacle footprints one axis at a time.
func (c *Character) moveLocked(dt float64, cfg Config, obstacles []Obstacle) {
	intent := c.intent
	length := intent.Len()
	if length == 0 || dt <= 0 {
		return
	}
	intent = intent.Mul(1 / length)
	delta := intent.Mul(cfg.MoveSpeed * dt)

	x := Clamp(c.position.X()+delta.X(), characterRadius, cfg.Width-characterRadius)
	if blockedAt(x, c.position.Y(), obstacles) {
		x = c.position.X()
	}
	y := Clamp(c.position.Y()+delta.Y(), characterRadius, cfg.Depth-characterRadius)
	if blockedAt(x, y, obstacles) {
		y = c.position.Y()
	}
	c.position = mgl64.Vec3{x, y, c.position.Z()}
}

func blockedAt(x, y float64, obstacles []Obstacle) bool {
	for _, obs := range obstacles {
		if circleRectOverlap(mgl64.Vec2{x, y}, characterRadius, obs) {
			return true
		}
	}
	return false
}

// yawFromDirection returns the heading of direction on the ground plane.
func yawFromDirection(direction mgl64.Vec3) (float64, bool) {
	if direction.X() == 0 && direction.Y() == 0 {
		return 0, false
	}
	return math.Atan2(direction.Y(), direction.X()), true
}
