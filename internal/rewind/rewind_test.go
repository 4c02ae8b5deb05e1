package rewind

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"rewind-arena/server/internal/ballistics"
	"rewind-arena/server/internal/geom"
	"rewind-arena/server/internal/handle"
	loggingrewind "rewind-arena/server/logging/rewind"
	"rewind-arena/server/logging/sinks"
)

type fakeHitbox struct {
	box     geom.Box
	enabled bool
}

type fakeTarget struct {
	mu           sync.Mutex
	id           handle.Handle
	origin       mgl64.Vec3
	invulnerable bool
	names        []string
	boxes        map[string]*fakeHitbox
}

func newFakeTarget(id handle.Handle, center mgl64.Vec3) *fakeTarget {
	return &fakeTarget{
		id:     id,
		origin: center,
		names:  []string{"body"},
		boxes: map[string]*fakeHitbox{
			"body": {box: geom.Box{Center: center, Rotation: mgl64.QuatIdent(), HalfExtents: mgl64.Vec3{0.5, 0.5, 0.5}}},
		},
	}
}

func (f *fakeTarget) Handle() handle.Handle            { return f.id }
func (f *fakeTarget) Lock()                            { f.mu.Lock() }
func (f *fakeTarget) Unlock()                          { f.mu.Unlock() }
func (f *fakeTarget) Origin() mgl64.Vec3               { return f.origin }
func (f *fakeTarget) InvulnerableAt(float64) bool      { return f.invulnerable }
func (f *fakeTarget) HeadHitbox() string               { return "head" }
func (f *fakeTarget) HitboxNames() []string            { return append([]string(nil), f.names...) }
func (f *fakeTarget) HitboxQueryEnabled(n string) bool { return f.boxes[n] != nil && f.boxes[n].enabled }

func (f *fakeTarget) HitboxPose(name string) (geom.Box, bool) {
	hb, ok := f.boxes[name]
	if !ok {
		return geom.Box{}, false
	}
	return hb.box, true
}

func (f *fakeTarget) SetHitboxPose(name string, box geom.Box) {
	if hb, ok := f.boxes[name]; ok {
		hb.box = box
	}
}

func (f *fakeTarget) SetHitboxQueryEnabled(name string, enabled bool) {
	if hb, ok := f.boxes[name]; ok {
		hb.enabled = enabled
	}
}

// moveTo relocates every hitbox so it stays centred on the origin.
func (f *fakeTarget) moveTo(center mgl64.Vec3) {
	f.Lock()
	defer f.Unlock()
	delta := center.Sub(f.origin)
	f.origin = center
	for _, hb := range f.boxes {
		hb.box.Center = hb.box.Center.Add(delta)
	}
}

type fakeWorld struct {
	targets map[handle.Handle]*fakeTarget
	walls   []geom.Box
}

func (w *fakeWorld) Lookup(h handle.Handle) (Target, bool) {
	target, ok := w.targets[h]
	if !ok {
		return nil, false
	}
	return target, true
}

func (w *fakeWorld) TraceFor(h handle.Handle) ballistics.Tracer {
	target := w.targets[h]
	return ballistics.TracerFunc(func(from, to mgl64.Vec3, radius float64) (ballistics.Hit, bool) {
		best := ballistics.Hit{Fraction: math.Inf(1)}
		found := false
		for _, wall := range w.walls {
			if fraction, ok := wall.SweepSphere(from, to, radius); ok && fraction < best.Fraction {
				best = ballistics.Hit{Component: "wall", Fraction: fraction}
				found = true
			}
		}
		if target != nil {
			for _, name := range target.names {
				hb := target.boxes[name]
				if !hb.enabled {
					continue
				}
				if fraction, ok := hb.box.SweepSphere(from, to, radius); ok && fraction < best.Fraction {
					best = ballistics.Hit{Owner: target.id, Component: name, Fraction: fraction}
					found = true
				}
			}
		}
		return best, found
	})
}

type manualClock struct {
	mu  sync.Mutex
	now float64
}

func (c *manualClock) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Set(now float64) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

var targetHandle = handle.Handle{Index: 0, Generation: 1}

// scenario records frames at t=0..frames-1 with a single hitbox centred on
// (t,0,0).
func scenario(t *testing.T, capacity, frames int) (*fakeWorld, *fakeTarget, *Recorder) {
	t.Helper()
	target := newFakeTarget(targetHandle, mgl64.Vec3{})
	world := &fakeWorld{targets: map[handle.Handle]*fakeTarget{targetHandle: target}}
	recorder := NewRecorder(RoleAuthoritative, capacity, world)
	if !recorder.Track(targetHandle) {
		t.Fatalf("expected track to succeed")
	}
	for i := 0; i < frames; i++ {
		target.moveTo(mgl64.Vec3{float64(i), 0, 0})
		if got := recorder.Record(context.Background(), uint64(i), float64(i)); got != 1 {
			t.Fatalf("expected one frame recorded at t=%d, got %d", i, got)
		}
	}
	return world, target, recorder
}

func bodyCenter(t *testing.T, frame FrameSnapshot) mgl64.Vec3 {
	t.Helper()
	body, ok := frame.Hitboxes["body"]
	if !ok {
		t.Fatalf("expected body hitbox in frame %+v", frame)
	}
	return body.Position
}

func TestConcreteScenario(t *testing.T) {
	_, _, recorder := scenario(t, 4, 4)

	if got := bodyCenter(t, recorder.Locate(targetHandle, 1.5)); !got.ApproxEqual(mgl64.Vec3{1.5, 0, 0}) {
		t.Fatalf("expected (1.5,0,0) at t=1.5, got %v", got)
	}
	clamped := recorder.Locate(targetHandle, 5)
	if got := bodyCenter(t, clamped); got != (mgl64.Vec3{3, 0, 0}) {
		t.Fatalf("expected clamp to (3,0,0), got %v", got)
	}
	if clamped.Timestamp != 3 {
		t.Fatalf("expected clamped frame to keep its own timestamp, got %v", clamped.Timestamp)
	}
	if frame := recorder.Locate(targetHandle, -1); frame.IsValid() {
		t.Fatalf("expected invalid sentinel before the oldest frame, got %+v", frame)
	}
}

func TestExactReplayReturnsRecordedFrame(t *testing.T) {
	_, _, recorder := scenario(t, 8, 4)
	frame := recorder.Locate(targetHandle, 2)
	if frame.Timestamp != 2 || frame.Character != targetHandle {
		t.Fatalf("unexpected frame %+v", frame)
	}
	body := frame.Hitboxes["body"]
	if body.Position != (mgl64.Vec3{2, 0, 0}) || body.Extents != (mgl64.Vec3{0.5, 0.5, 0.5}) || body.Rotation != mgl64.QuatIdent() {
		t.Fatalf("expected recorded hitbox verbatim, got %+v", body)
	}
	// Within epsilon of a sample is still an exact hit.
	near := recorder.Locate(targetHandle, 2+TimestampEpsilon/2)
	if near.Timestamp != 2 {
		t.Fatalf("expected epsilon match to return the sample, got %v", near.Timestamp)
	}
}

func TestInterpolationBounds(t *testing.T) {
	history := NewHistory(4)
	p0 := mgl64.Vec3{-4, 2, 10}
	p1 := mgl64.Vec3{6, -8, 30}
	quarter := mgl64.QuatRotate(math.Pi/2, mgl64.Vec3{0, 0, 1})
	frames := []FrameSnapshot{
		{Timestamp: 10, Character: targetHandle, Hitboxes: map[string]HitboxSnapshot{"body": {Position: p0, Rotation: mgl64.QuatIdent(), Extents: mgl64.Vec3{1, 1, 1}}}},
		{Timestamp: 12, Character: targetHandle, Hitboxes: map[string]HitboxSnapshot{"body": {Position: p1, Rotation: quarter, Extents: mgl64.Vec3{2, 2, 2}}}},
	}
	for _, frame := range frames {
		if err := history.Append(frame); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	if got := bodyCenter(t, Locate(history, 10)); got != p0 {
		t.Fatalf("expected P0 at t0, got %v", got)
	}
	if got := bodyCenter(t, Locate(history, 12)); got != p1 {
		t.Fatalf("expected P1 at t1, got %v", got)
	}
	mid := Locate(history, 11)
	if got := bodyCenter(t, mid); !got.ApproxEqual(p0.Add(p1).Mul(0.5)) {
		t.Fatalf("expected arithmetic mean at midpoint, got %v", got)
	}
	body := mid.Hitboxes["body"]
	if body.Extents != (mgl64.Vec3{2, 2, 2}) {
		t.Fatalf("expected extents from the younger frame, got %v", body.Extents)
	}
	eighth := mgl64.QuatRotate(math.Pi/4, mgl64.Vec3{0, 0, 1})
	if !geom.SameRotation(body.Rotation, eighth, 1e-9) {
		t.Fatalf("expected half-way rotation, got %v", body.Rotation)
	}
	if mid.Character != targetHandle || mid.Timestamp != 11 {
		t.Fatalf("unexpected identity or timestamp %+v", mid)
	}
}

func TestInvulnerabilityTakesCloserFrameAndTiesGoOlder(t *testing.T) {
	history := NewHistory(4)
	_ = history.Append(FrameSnapshot{Timestamp: 0, Character: targetHandle, Invulnerable: true})
	_ = history.Append(FrameSnapshot{Timestamp: 1, Character: targetHandle, Invulnerable: false})

	cases := []struct {
		at   float64
		want bool
	}{
		{0.25, true},
		{0.5, true},
		{0.75, false},
	}
	for _, tc := range cases {
		if got := Locate(history, tc.at).Invulnerable; got != tc.want {
			t.Fatalf("t=%v: expected invulnerable=%v, got %v", tc.at, tc.want, got)
		}
	}
}

func TestEvictionInvalidatesOldestFrame(t *testing.T) {
	_, _, recorder := scenario(t, 4, 5)
	if frame := recorder.Locate(targetHandle, 0); frame.IsValid() {
		t.Fatalf("expected evicted frame to be invalid, got %+v", frame)
	}
	oldest, newest, ok := recorder.Span(targetHandle)
	if !ok || oldest != 1 || newest != 4 {
		t.Fatalf("expected span [1,4], got [%v,%v] ok=%v", oldest, newest, ok)
	}
}

func TestHistoryRejectsNonMonotonicFrames(t *testing.T) {
	history := NewHistory(2)
	if err := history.Append(FrameSnapshot{Timestamp: 1, Character: targetHandle}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := history.Append(FrameSnapshot{Timestamp: 1, Character: targetHandle}); err == nil {
		t.Fatalf("expected duplicate timestamp to be rejected")
	}
	if err := history.Append(FrameSnapshot{Timestamp: math.NaN(), Character: targetHandle}); err == nil {
		t.Fatalf("expected NaN timestamp to be rejected")
	}
	if history.Len() != 1 {
		t.Fatalf("expected rejected frames to leave the ring untouched, got %d", history.Len())
	}
}

func TestLocateEmptyAndNaN(t *testing.T) {
	if Locate(NewHistory(2), 0).IsValid() {
		t.Fatalf("expected empty history to yield the sentinel")
	}
	_, _, recorder := scenario(t, 4, 2)
	if recorder.Locate(targetHandle, math.NaN()).IsValid() {
		t.Fatalf("expected NaN query to yield the sentinel")
	}
	if recorder.Locate(handle.Handle{Index: 9, Generation: 1}, 0).IsValid() {
		t.Fatalf("expected untracked character to yield the sentinel")
	}
}

// locateLinear scans backward from the newest entry.
func locateLinear(history *History, timestamp float64) FrameSnapshot {
	n := history.Len()
	if n == 0 || math.IsNaN(timestamp) {
		return InvalidFrame()
	}
	i := n - 1
	for i >= 0 && history.At(i).Timestamp > timestamp {
		i--
	}
	if i < 0 {
		if math.Abs(history.At(0).Timestamp-timestamp) <= TimestampEpsilon {
			return history.At(0)
		}
		return InvalidFrame()
	}
	older := history.At(i)
	if math.Abs(older.Timestamp-timestamp) <= TimestampEpsilon || i == n-1 {
		return older
	}
	return Interpolate(older, history.At(i+1), timestamp)
}

func TestBinarySearchMatchesLinearScan(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	history := NewHistory(16)
	now := 0.0
	for i := 0; i < 40; i++ {
		now += 1.0/60.0 + rng.Float64()*0.01
		_ = history.Append(FrameSnapshot{
			Timestamp:    now,
			Character:    targetHandle,
			Invulnerable: rng.Intn(2) == 0,
			Hitboxes: map[string]HitboxSnapshot{"body": {
				Position: mgl64.Vec3{rng.Float64() * 100, rng.Float64() * 100, 0},
				Rotation: mgl64.QuatRotate(rng.Float64()*math.Pi, mgl64.Vec3{0, 0, 1}),
				Extents:  mgl64.Vec3{1, 1, 1},
			}},
		})
	}

	queries := []float64{-1, now + 1}
	for i := 0; i < history.Len(); i++ {
		queries = append(queries, history.At(i).Timestamp)
	}
	for i := 0; i < 500; i++ {
		queries = append(queries, rng.Float64()*(now+0.2)-0.1)
	}
	for _, q := range queries {
		got, want := Locate(history, q), locateLinear(history, q)
		if got.IsValid() != want.IsValid() || got.Timestamp != want.Timestamp || got.Invulnerable != want.Invulnerable {
			t.Fatalf("t=%v: binary %+v != linear %+v", q, got, want)
		}
		if got.IsValid() && got.Hitboxes["body"] != want.Hitboxes["body"] {
			t.Fatalf("t=%v: hitbox mismatch %+v != %+v", q, got.Hitboxes["body"], want.Hitboxes["body"])
		}
	}
}

func TestInterpolateMismatchedCharactersIsInvalid(t *testing.T) {
	older := FrameSnapshot{Timestamp: 0, Character: targetHandle}
	younger := FrameSnapshot{Timestamp: 1, Character: handle.Handle{Index: 1, Generation: 1}}
	if Interpolate(older, younger, 0.5).IsValid() {
		t.Fatalf("expected frames of different characters not to blend")
	}
}

func TestRecorderSkipsUnresolvedHandles(t *testing.T) {
	memory := sinks.NewMemorySink()
	world := &fakeWorld{targets: map[handle.Handle]*fakeTarget{}}
	recorder := NewRecorder(RoleAuthoritative, 4, world, WithRecorderPublisher(memory))
	stale := handle.Handle{Index: 3, Generation: 2}
	recorder.Track(stale)

	if got := recorder.Record(context.Background(), 1, 0.5); got != 0 {
		t.Fatalf("expected no frames for an unresolved handle, got %d", got)
	}
	history, ok := recorder.history(stale)
	if !ok || history.Len() != 0 {
		t.Fatalf("expected untouched history, got ok=%v len=%d", ok, history.Len())
	}
	events := memory.OfType(loggingrewind.EventFrameSkipped)
	if len(events) != 1 {
		t.Fatalf("expected one skip event, got %d", len(events))
	}
	if payload, ok := events[0].Payload.(loggingrewind.FrameSkippedPayload); !ok || payload.Reason != "unresolved" || payload.Handle != "3:2" {
		t.Fatalf("unexpected skip payload %+v", events[0].Payload)
	}
}

func TestRecorderDisabledOutsideAuthority(t *testing.T) {
	target := newFakeTarget(targetHandle, mgl64.Vec3{})
	world := &fakeWorld{targets: map[handle.Handle]*fakeTarget{targetHandle: target}}
	for _, role := range []Role{RoleClient, RoleSimulatedProxy} {
		recorder := NewRecorder(role, 4, world)
		if recorder.Track(targetHandle) {
			t.Fatalf("%s: expected track to be refused", role)
		}
		if got := recorder.Record(context.Background(), 0, 0); got != 0 {
			t.Fatalf("%s: expected nothing recorded, got %d", role, got)
		}
	}
}

func TestRecorderUntrackDropsHistory(t *testing.T) {
	_, _, recorder := scenario(t, 4, 2)
	recorder.Untrack(targetHandle)
	if recorder.Tracked() != 0 {
		t.Fatalf("expected no tracked characters")
	}
	if recorder.Locate(targetHandle, 1).IsValid() {
		t.Fatalf("expected untracked history to be gone")
	}
}

func newScenarioVerifier(t *testing.T, world *fakeWorld, recorder *Recorder, now float64) *Verifier {
	t.Helper()
	params := ballistics.DefaultParams()
	params.Speed = 100
	params.GravityScale = 0
	params.Radius = 0
	clock := &manualClock{}
	clock.Set(now)
	return NewVerifier(VerifierConfig{
		Recorder: recorder,
		Registry: world,
		Scene:    world,
		Params:   params,
		Limits:   DefaultLimits(params, 4),
		Clock:    clock,
	})
}

func crossingClaim(offset mgl64.Vec3) Claim {
	return Claim{
		Attacker:        handle.Handle{Index: 5, Generation: 1},
		Target:          targetHandle,
		TraceOrigin:     mgl64.Vec3{1.5, -50, 0}.Add(offset),
		InitialVelocity: mgl64.Vec3{0, 100, 0},
		HitTime:         1.5,
	}
}

func TestEndToEndHitAndOffsetMiss(t *testing.T) {
	world, _, recorder := scenario(t, 4, 4)
	verifier := newScenarioVerifier(t, world, recorder, 3)

	verdict := verifier.Evaluate(context.Background(), crossingClaim(mgl64.Vec3{}))
	if !verdict.ValidHit || verdict.IsHeadshot || verdict.Hitbox != "body" {
		t.Fatalf("expected a body hit against the rewound pose, got %+v", verdict)
	}

	miss := verifier.Evaluate(context.Background(), crossingClaim(mgl64.Vec3{10, 0, 0}))
	if miss.ValidHit || miss.Reason != ReasonMiss {
		t.Fatalf("expected offset trajectory to miss, got %+v", miss)
	}
}

func TestVerifyUsesRewoundNotLivePose(t *testing.T) {
	world, _, recorder := scenario(t, 4, 4)
	verifier := newScenarioVerifier(t, world, recorder, 3)

	// The live body sits at x=3; a claim through x=3 at t=1.5 must miss.
	claim := crossingClaim(mgl64.Vec3{1.5, 0, 0})
	if result := verifier.Verify(context.Background(), claim); result.ValidHit {
		t.Fatalf("expected claim through the live pose to miss at t=1.5")
	}
	claim.HitTime = 3
	if result := verifier.Verify(context.Background(), claim); !result.ValidHit {
		t.Fatalf("expected the same path to hit at t=3")
	}
}

func TestInvulnerabilityGate(t *testing.T) {
	target := newFakeTarget(targetHandle, mgl64.Vec3{})
	target.invulnerable = true
	world := &fakeWorld{targets: map[handle.Handle]*fakeTarget{targetHandle: target}}
	recorder := NewRecorder(RoleAuthoritative, 4, world)
	recorder.Track(targetHandle)
	for i := 0; i < 4; i++ {
		target.moveTo(mgl64.Vec3{float64(i), 0, 0})
		recorder.Record(context.Background(), uint64(i), float64(i))
	}
	target.invulnerable = false

	verdict := newScenarioVerifier(t, world, recorder, 3).Evaluate(context.Background(), crossingClaim(mgl64.Vec3{}))
	if verdict.ValidHit || verdict.Reason != ReasonInvulnerable {
		t.Fatalf("expected invulnerable rejection, got %+v", verdict)
	}
}

func TestRestorationInvariant(t *testing.T) {
	world, target, recorder := scenario(t, 4, 4)
	verifier := newScenarioVerifier(t, world, recorder, 3)
	before := *target.boxes["body"]

	claims := []Claim{
		crossingClaim(mgl64.Vec3{}),
		crossingClaim(mgl64.Vec3{10, 0, 0}),
		{Target: targetHandle, TraceOrigin: mgl64.Vec3{}, InitialVelocity: mgl64.Vec3{}, HitTime: 1},
		{Target: targetHandle, TraceOrigin: mgl64.Vec3{math.NaN(), 0, 0}, InitialVelocity: mgl64.Vec3{1, 0, 0}, HitTime: 1},
		func() Claim { c := crossingClaim(mgl64.Vec3{}); c.HitTime = -0.5; return c }(),
	}
	for i, claim := range claims {
		verifier.Verify(context.Background(), claim)
		target.Lock()
		after := *target.boxes["body"]
		target.Unlock()
		if after != before {
			t.Fatalf("claim %d: expected live hitbox %+v restored, got %+v", i, before, after)
		}
	}
}

func TestBlockingGeometryStopsTheReplay(t *testing.T) {
	world, _, recorder := scenario(t, 4, 4)
	world.walls = []geom.Box{{Center: mgl64.Vec3{1.5, -10, 0}, Rotation: mgl64.QuatIdent(), HalfExtents: mgl64.Vec3{5, 1, 5}}}
	verdict := newScenarioVerifier(t, world, recorder, 3).Evaluate(context.Background(), crossingClaim(mgl64.Vec3{}))
	if verdict.ValidHit || verdict.Reason != ReasonBlocked {
		t.Fatalf("expected wall to block the claim, got %+v", verdict)
	}
}

func TestRejectionReasons(t *testing.T) {
	world, _, recorder := scenario(t, 4, 4)
	verifier := newScenarioVerifier(t, world, recorder, 3)

	unknown := crossingClaim(mgl64.Vec3{})
	unknown.Target = handle.Handle{Index: 7, Generation: 1}
	if got := verifier.Evaluate(context.Background(), unknown).Reason; got != ReasonUnknownTarget {
		t.Fatalf("expected unknown target, got %q", got)
	}

	tooFast := crossingClaim(mgl64.Vec3{})
	tooFast.InitialVelocity = mgl64.Vec3{0, 1e6, 0}
	if got := verifier.Evaluate(context.Background(), tooFast).Reason; got != ReasonInvalidInput {
		t.Fatalf("expected oversized velocity to be invalid, got %q", got)
	}

	future := crossingClaim(mgl64.Vec3{})
	future.HitTime = 4
	if got := verifier.Evaluate(context.Background(), future).Reason; got != ReasonInvalidInput {
		t.Fatalf("expected far-future hit time to be invalid, got %q", got)
	}

	nearNow := crossingClaim(mgl64.Vec3{1.5, 0, 0})
	nearNow.HitTime = 3.1
	if result := verifier.Verify(context.Background(), nearNow); !result.ValidHit {
		t.Fatalf("expected hit time just past the newest frame to clamp and hit")
	}
}

func TestIdentityMismatchRejects(t *testing.T) {
	impostor := newFakeTarget(handle.Handle{Index: 1, Generation: 4}, mgl64.Vec3{})
	world := &fakeWorld{targets: map[handle.Handle]*fakeTarget{targetHandle: impostor}}
	recorder := NewRecorder(RoleAuthoritative, 4, world)
	recorder.Track(targetHandle)
	recorder.Record(context.Background(), 0, 0)
	recorder.Record(context.Background(), 1, 1)

	claim := crossingClaim(mgl64.Vec3{-1.5, 0, 0})
	claim.HitTime = 1
	verdict := newScenarioVerifier(t, world, recorder, 1).Evaluate(context.Background(), claim)
	if verdict.Reason != ReasonIdentityMismatch {
		t.Fatalf("expected identity mismatch, got %+v", verdict)
	}
}

func TestVerdictsAreLogged(t *testing.T) {
	world, _, recorder := scenario(t, 4, 4)
	memory := sinks.NewMemorySink()
	params := ballistics.DefaultParams()
	params.Speed, params.GravityScale, params.Radius = 100, 0, 0
	verifier := NewVerifier(VerifierConfig{
		Recorder:  recorder,
		Registry:  world,
		Scene:     world,
		Params:    params,
		Limits:    DefaultLimits(params, 4),
		Clock:     ClockFunc(func() float64 { return 3 }),
		Publisher: memory,
	})

	hit := crossingClaim(mgl64.Vec3{})
	hit.TraceID = "trace-hit"
	verifier.Verify(context.Background(), hit)
	verifier.Verify(context.Background(), crossingClaim(mgl64.Vec3{10, 0, 0}))

	verified := memory.OfType(loggingrewind.EventHitVerified)
	if len(verified) != 1 || verified[0].TraceID != "trace-hit" {
		t.Fatalf("expected one traced verification event, got %+v", verified)
	}
	rejected := memory.OfType(loggingrewind.EventHitRejected)
	if len(rejected) != 1 {
		t.Fatalf("expected one rejection event, got %d", len(rejected))
	}
	if payload := rejected[0].Payload.(loggingrewind.VerdictPayload); payload.Reason != string(ReasonMiss) || payload.RewindDepth != 1.5 {
		t.Fatalf("unexpected rejection payload %+v", payload)
	}
}

func TestConcurrentVerificationNeverLeaksSubstitution(t *testing.T) {
	world, target, recorder := scenario(t, 8, 4)
	verifier := newScenarioVerifier(t, world, recorder, 3)
	live := *target.boxes["body"]

	var wg sync.WaitGroup
	stop := make(chan struct{})
	leaked := make(chan geom.Box, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			target.Lock()
			current := *target.boxes["body"]
			target.Unlock()
			if current != live {
				select {
				case leaked <- current.box:
				default:
				}
				return
			}
		}
	}()

	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				verifier.Verify(context.Background(), crossingClaim(mgl64.Vec3{}))
			}
		}()
	}

	var writers sync.WaitGroup
	writers.Add(1)
	go func() {
		defer writers.Done()
		for i := 0; i < 50; i++ {
			recorder.Record(context.Background(), uint64(10+i), 3+float64(i+1)/1000)
		}
	}()
	writers.Wait()

	close(stop)
	wg.Wait()
	select {
	case box := <-leaked:
		t.Fatalf("observer saw substituted geometry %+v", box)
	default:
	}
}
