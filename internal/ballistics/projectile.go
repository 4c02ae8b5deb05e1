package ballistics

import (
	"github.com/go-gl/mathgl/mgl64"

	"rewind-arena/server/internal/handle"
)

// Projectile is a live, tick-driven projectile. It records the launch origin
// and velocity because those are exactly what a rewind claim replays.
type Projectile struct {
	ID              uint64
	Owner           handle.Handle
	Position        mgl64.Vec3
	Velocity        mgl64.Vec3
	StartLocation   mgl64.Vec3
	InitialVelocity mgl64.Vec3
	LaunchedAt      float64
	Age             float64
	Stopped         bool
}

// Launch creates a projectile travelling along direction at the configured
// speed. A zero direction yields a stationary, already-stopped projectile.
func Launch(id uint64, owner handle.Handle, origin, direction mgl64.Vec3, launchedAt float64, params Params) *Projectile {
	p := &Projectile{
		ID:            id,
		Owner:         owner,
		Position:      origin,
		StartLocation: origin,
		LaunchedAt:    launchedAt,
	}
	if direction.Len() == 0 {
		p.Stopped = true
		return p
	}
	p.Velocity = direction.Normalize().Mul(params.Speed)
	p.InitialVelocity = p.Velocity
	return p
}

// Advance moves the projectile forward by dt, stopping at the first blocking
// contact reported by tracer. The returned hit carries Time relative to launch.
func (p *Projectile) Advance(dt float64, params Params, tracer Tracer) (Hit, bool) {
	if p == nil || p.Stopped || dt <= 0 {
		return Hit{}, false
	}
	nextPosition, nextVelocity := Integrate(p.Position, p.Velocity, params.GravityZ(), dt)
	if tracer != nil {
		if hit, ok := tracer.SweepSphere(p.Position, nextPosition, params.Radius); ok {
			hit.Location = p.Position.Add(nextPosition.Sub(p.Position).Mul(hit.Fraction))
			hit.Time = p.Age + dt*hit.Fraction
			p.Position = hit.Location
			p.Age = hit.Time
			p.Stopped = true
			return hit, true
		}
	}
	p.Position, p.Velocity = nextPosition, nextVelocity
	p.Age += dt
	return Hit{}, false
}
