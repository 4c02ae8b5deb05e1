package ballistics

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"rewind-arena/server/internal/geom"
	"rewind-arena/server/internal/handle"
)

func wallTracer(box geom.Box, name string) Tracer {
	return TracerFunc(func(from, to mgl64.Vec3, radius float64) (Hit, bool) {
		fraction, ok := box.SweepSphere(from, to, radius)
		if !ok {
			return Hit{}, false
		}
		return Hit{Component: name, Fraction: fraction}, true
	})
}

func TestDefaultParamsValidate(t *testing.T) {
	if err := DefaultParams().Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
}

func TestParseOverlaysDefaults(t *testing.T) {
	params, err := Parse([]byte("speed: 1500\ngravityScale: 0.5\n"), DefaultParams())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if params.Speed != 1500 || params.GravityScale != 0.5 {
		t.Fatalf("expected overlay values, got %+v", params)
	}
	if params.Radius != 14 || params.Damage != 20 {
		t.Fatalf("expected untouched defaults, got %+v", params)
	}
	if params.GravityZ() != -490 {
		t.Fatalf("expected scaled gravity -490, got %v", params.GravityZ())
	}
}

func TestParseRejectsInvalidValues(t *testing.T) {
	_, err := Parse([]byte("speed: 0\n"), DefaultParams())
	if err == nil {
		t.Fatalf("expected zero speed to be rejected")
	}
	if !strings.Contains(err.Error(), "Speed") {
		t.Fatalf("expected error to name the field, got %v", err)
	}
}

func TestLoadReadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ballistics.yaml")
	if err := os.WriteFile(path, []byte("damage: 35\nheadshotMultiplier: 3\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	params, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if params.DamageFor(false) != 35 || params.DamageFor(true) != 105 {
		t.Fatalf("unexpected damage values %v/%v", params.DamageFor(false), params.DamageFor(true))
	}
	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatalf("expected missing file to error")
	}
}

func TestIntegrateStaysOnParabolaForAnyStep(t *testing.T) {
	start := mgl64.Vec3{0, 0, 100}
	velocity := mgl64.Vec3{300, 0, 200}
	gravity := -980.0
	total := 0.8

	for _, steps := range []int{1, 12, 48, 60} {
		dt := total / float64(steps)
		pos, vel := start, velocity
		for i := 0; i < steps; i++ {
			pos, vel = Integrate(pos, vel, gravity, dt)
		}
		want := start.Add(velocity.Mul(total)).Add(mgl64.Vec3{0, 0, 0.5 * gravity * total * total})
		if !pos.ApproxEqualThreshold(want, 1e-9) {
			t.Fatalf("steps=%d: expected %v, got %v", steps, want, pos)
		}
		if math.Abs(vel.Z()-(velocity.Z()+gravity*total)) > 1e-9 {
			t.Fatalf("steps=%d: unexpected vertical velocity %v", steps, vel.Z())
		}
	}
}

func TestMaxSimTime(t *testing.T) {
	got, err := MaxSimTime(mgl64.Vec3{0, 0, 0}, mgl64.Vec3{30, 40, 0}, mgl64.Vec3{10, 0, 0}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 6 {
		t.Fatalf("expected 50/10+1=6, got %v", got)
	}
	if _, err := MaxSimTime(mgl64.Vec3{}, mgl64.Vec3{1, 0, 0}, mgl64.Vec3{}, 1); !errors.Is(err, ErrZeroVelocity) {
		t.Fatalf("expected ErrZeroVelocity, got %v", err)
	}
	if _, err := MaxSimTime(mgl64.Vec3{math.NaN(), 0, 0}, mgl64.Vec3{}, mgl64.Vec3{1, 0, 0}, 1); !errors.Is(err, ErrNotFinite) {
		t.Fatalf("expected ErrNotFinite, got %v", err)
	}
}

func TestPredictStopsAtFirstBlockingHit(t *testing.T) {
	wall := geom.Box{Center: mgl64.Vec3{100, 0, 0}, Rotation: mgl64.QuatIdent(), HalfExtents: mgl64.Vec3{1, 50, 50}}
	result := Predict(PredictParams{
		Start:        mgl64.Vec3{0, 0, 0},
		Velocity:     mgl64.Vec3{60, 0, 0},
		Radius:       0,
		MaxSimTime:   3,
		SimFrequency: 15,
	}, wallTracer(wall, "wall"))

	if !result.Blocked {
		t.Fatalf("expected the wall to block the path")
	}
	if result.Hit.Component != "wall" {
		t.Fatalf("expected wall hit, got %q", result.Hit.Component)
	}
	if math.Abs(result.Hit.Location.X()-99) > 1e-9 {
		t.Fatalf("expected contact at x=99, got %v", result.Hit.Location)
	}
	if math.Abs(result.Hit.Time-99.0/60.0) > 1e-9 {
		t.Fatalf("expected contact time %v, got %v", 99.0/60.0, result.Hit.Time)
	}
}

func TestPredictRespectsMaxSimTime(t *testing.T) {
	wall := geom.Box{Center: mgl64.Vec3{100, 0, 0}, Rotation: mgl64.QuatIdent(), HalfExtents: mgl64.Vec3{1, 50, 50}}
	result := Predict(PredictParams{
		Start:        mgl64.Vec3{0, 0, 0},
		Velocity:     mgl64.Vec3{60, 0, 0},
		MaxSimTime:   1,
		SimFrequency: 15,
	}, wallTracer(wall, "wall"))

	if result.Blocked {
		t.Fatalf("expected the replay to end before reaching the wall")
	}
	last := result.Last()
	if math.Abs(last.Time-1) > 1e-9 || math.Abs(last.Location.X()-60) > 1e-9 {
		t.Fatalf("expected final sample at t=1 x=60, got %+v", last)
	}
}

func TestPredictDegenerateInputsYieldEmptyResult(t *testing.T) {
	tracer := wallTracer(geom.Box{Rotation: mgl64.QuatIdent(), HalfExtents: mgl64.Vec3{1, 1, 1}}, "box")
	if got := Predict(PredictParams{SimFrequency: 15}, tracer); got.Blocked || len(got.Path) != 0 {
		t.Fatalf("expected zero duration to produce nothing, got %+v", got)
	}
	if got := Predict(PredictParams{MaxSimTime: 1}, tracer); got.Blocked || len(got.Path) != 0 {
		t.Fatalf("expected zero frequency to produce nothing, got %+v", got)
	}
}

func TestLiveProjectileAndReplayAgree(t *testing.T) {
	params := DefaultParams()
	target := geom.Box{Center: mgl64.Vec3{1500, 0, 40}, Rotation: mgl64.QuatIdent(), HalfExtents: mgl64.Vec3{25, 75, 32}}
	tracer := wallTracer(target, "body")

	projectile := Launch(1, handle.Handle{Index: 0, Generation: 1}, mgl64.Vec3{0, 0, 100}, mgl64.Vec3{1, 0, 0.05}, 0, params)
	var live Hit
	hit := false
	for i := 0; i < 600 && !hit; i++ {
		live, hit = projectile.Advance(1.0/60.0, params, tracer)
	}
	if !hit {
		t.Fatalf("expected live projectile to reach the target")
	}

	maxSim, err := MaxSimTime(projectile.StartLocation, target.Center, projectile.InitialVelocity, params.SlackSeconds)
	if err != nil {
		t.Fatalf("max sim time: %v", err)
	}
	replay := Predict(PredictParams{
		Start:        projectile.StartLocation,
		Velocity:     projectile.InitialVelocity,
		Radius:       params.Radius,
		MaxSimTime:   maxSim,
		SimFrequency: params.SimFrequency,
		GravityZ:     params.GravityZ(),
	}, tracer)

	if !replay.Blocked || replay.Hit.Component != live.Component {
		t.Fatalf("expected replay to hit %q, got %+v", live.Component, replay.Hit)
	}
	if live.Location.Sub(replay.Hit.Location).Len() > 1 {
		t.Fatalf("expected contacts to agree, live=%v replay=%v", live.Location, replay.Hit.Location)
	}
}

func TestLaunchWithZeroDirectionIsStopped(t *testing.T) {
	projectile := Launch(2, handle.Handle{}, mgl64.Vec3{1, 2, 3}, mgl64.Vec3{}, 0, DefaultParams())
	if !projectile.Stopped {
		t.Fatalf("expected zero direction projectile to be stopped")
	}
	if _, hit := projectile.Advance(0.1, DefaultParams(), nil); hit {
		t.Fatalf("expected stopped projectile to report no hit")
	}
	if projectile.Position != (mgl64.Vec3{1, 2, 3}) {
		t.Fatalf("expected stopped projectile to stay put, got %v", projectile.Position)
	}
}
