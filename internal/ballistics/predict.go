package ballistics

import (
	"errors"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"rewind-arena/server/internal/geom"
	"rewind-arena/server/internal/handle"
)

var (
	// ErrZeroVelocity is returned when a trajectory has no speed to travel with.
	ErrZeroVelocity = errors.New("ballistics: zero velocity")
	// ErrNotFinite is returned when a trajectory input contains NaN or Inf.
	ErrNotFinite = errors.New("ballistics: non-finite input")
)

// maxPredictSteps bounds the replay regardless of the requested duration.
const maxPredictSteps = 4096

// minStep is the smallest sub-step worth integrating.
const minStep = 1e-9

// Hit describes the first blocking contact found along a sweep.
type Hit struct {
	// Owner is the character that owns the component; zero for static geometry.
	Owner handle.Handle
	// Component names the blocking volume (hitbox name or static blocker ID).
	Component string
	Location  mgl64.Vec3
	// Fraction is the position of the contact along the swept segment.
	Fraction float64
	// Time is seconds since launch; filled in by Predict.
	Time float64
}

// Tracer reports the first blocking contact of a sphere swept between two
// points.
type Tracer interface {
	SweepSphere(from, to mgl64.Vec3, radius float64) (Hit, bool)
}

// TracerFunc adapts a function into a Tracer.
type TracerFunc func(from, to mgl64.Vec3, radius float64) (Hit, bool)

// SweepSphere implements Tracer.
func (f TracerFunc) SweepSphere(from, to mgl64.Vec3, radius float64) (Hit, bool) {
	if f == nil {
		return Hit{}, false
	}
	return f(from, to, radius)
}

// Integrate advances a projectile by dt under constant vertical gravity. The
// position update averages the old and new velocities, which keeps every
// sample on the exact parabola whatever step size the caller uses.
func Integrate(position, velocity mgl64.Vec3, gravityZ, dt float64) (mgl64.Vec3, mgl64.Vec3) {
	next := velocity.Add(mgl64.Vec3{0, 0, gravityZ * dt})
	return position.Add(velocity.Add(next).Mul(0.5 * dt)), next
}

// MaxSimTime bounds a replay to the straight-line travel time from origin to
// target plus slack seconds.
func MaxSimTime(origin, target, velocity mgl64.Vec3, slack float64) (float64, error) {
	if !geom.Finite(origin) || !geom.Finite(target) || !geom.Finite(velocity) {
		return 0, ErrNotFinite
	}
	speed := velocity.Len()
	if speed == 0 {
		return 0, ErrZeroVelocity
	}
	return target.Sub(origin).Len()/speed + slack, nil
}

// PredictParams configures a trajectory replay.
type PredictParams struct {
	Start        mgl64.Vec3
	Velocity     mgl64.Vec3
	Radius       float64
	MaxSimTime   float64
	SimFrequency float64
	GravityZ     float64
}

// PathPoint is one sample of a predicted trajectory.
type PathPoint struct {
	Location mgl64.Vec3
	Velocity mgl64.Vec3
	Time     float64
}

// PredictResult carries the sampled path and the first blocking hit.
type PredictResult struct {
	Path    []PathPoint
	Hit     Hit
	Blocked bool
}

// Last returns the final sample of the path.
func (r PredictResult) Last() PathPoint {
	if len(r.Path) == 0 {
		return PathPoint{}
	}
	return r.Path[len(r.Path)-1]
}

// Predict replays a projectile from Start at SimFrequency sub-steps until the
// tracer reports a blocking hit or MaxSimTime elapses.
func Predict(params PredictParams, tracer Tracer) PredictResult {
	result := PredictResult{}
	if tracer == nil || params.SimFrequency <= 0 || !(params.MaxSimTime > 0) {
		return result
	}
	substep := 1 / params.SimFrequency
	position := params.Start
	velocity := params.Velocity
	elapsed := 0.0
	result.Path = append(result.Path, PathPoint{Location: position, Velocity: velocity})

	for step := 0; step < maxPredictSteps && elapsed < params.MaxSimTime; step++ {
		dt := math.Min(substep, params.MaxSimTime-elapsed)
		if dt < minStep {
			break
		}
		nextPosition, nextVelocity := Integrate(position, velocity, params.GravityZ, dt)
		if hit, ok := tracer.SweepSphere(position, nextPosition, params.Radius); ok {
			hit.Time = elapsed + dt*hit.Fraction
			hit.Location = geom.Lerp(position, nextPosition, hit.Fraction)
			result.Hit = hit
			result.Blocked = true
			result.Path = append(result.Path, PathPoint{
				Location: hit.Location,
				Velocity: geom.Lerp(velocity, nextVelocity, hit.Fraction),
				Time:     hit.Time,
			})
			return result
		}
		position, velocity = nextPosition, nextVelocity
		elapsed += dt
		result.Path = append(result.Path, PathPoint{Location: position, Velocity: velocity, Time: elapsed})
	}
	return result
}
