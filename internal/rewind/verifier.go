package rewind

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"rewind-arena/server/internal/ballistics"
	"rewind-arena/server/internal/geom"
	"rewind-arena/server/internal/handle"
	"rewind-arena/server/internal/telemetry"
	"rewind-arena/server/logging"
	loggingrewind "rewind-arena/server/logging/rewind"
)

// ErrInvalidClaim wraps every boundary validation failure.
var ErrInvalidClaim = errors.New("rewind: invalid claim")

// Reason explains a verdict. Accepted verdicts carry ReasonNone.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonUnknownTarget    Reason = "unknown_target"
	ReasonNoHistory        Reason = "no_history"
	ReasonIdentityMismatch Reason = "identity_mismatch"
	ReasonInvulnerable     Reason = "invulnerable"
	ReasonInvalidInput     Reason = "invalid_input"
	ReasonMiss             Reason = "miss"
	ReasonBlocked          Reason = "blocked"
)

// Claim is an untrusted report that a projectile launched from TraceOrigin
// with InitialVelocity struck Target at HitTime.
type Claim struct {
	Attacker        handle.Handle
	Target          handle.Handle
	TraceOrigin     mgl64.Vec3
	InitialVelocity mgl64.Vec3
	HitTime         float64
	TraceID         string
}

// Verdict is a Result with the diagnostics the caller logs.
type Verdict struct {
	Result
	Reason     Reason
	Hitbox     string
	ServerTime float64
	Impact     ballistics.Hit
}

// Limits bounds what a claim may ask for.
type Limits struct {
	// MaxRewind is how far behind the server clock a hit time may lie.
	MaxRewind float64
	// FutureTolerance is how far ahead of the server clock a hit time may lie.
	FutureTolerance float64
	// MaxSpeed rejects velocities no real projectile could have. Zero disables
	// the check.
	MaxSpeed float64
	// MaxReplay caps the simulated flight time.
	MaxReplay float64
}

// DefaultLimits derives limits from the ballistic parameters and the
// retained history window.
func DefaultLimits(params ballistics.Params, historySeconds float64) Limits {
	if historySeconds <= 0 {
		historySeconds = float64(DefaultHistoryFrames) / 60
	}
	return Limits{
		MaxRewind:       historySeconds,
		FutureTolerance: 0.25,
		MaxSpeed:        4 * params.Speed,
		MaxReplay:       historySeconds + params.SlackSeconds,
	}
}

// ValidateClaim rejects numerically degenerate or implausible claims before
// they reach interpolation or replay.
func ValidateClaim(claim Claim, now float64, limits Limits) error {
	if claim.Target.IsZero() {
		return fmt.Errorf("%w: missing target", ErrInvalidClaim)
	}
	if !geom.Finite(claim.TraceOrigin) {
		return fmt.Errorf("%w: trace origin is not finite", ErrInvalidClaim)
	}
	if !geom.Finite(claim.InitialVelocity) {
		return fmt.Errorf("%w: velocity is not finite", ErrInvalidClaim)
	}
	if math.IsNaN(claim.HitTime) || math.IsInf(claim.HitTime, 0) {
		return fmt.Errorf("%w: hit time is not finite", ErrInvalidClaim)
	}
	speed := claim.InitialVelocity.Len()
	if speed == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidClaim, ballistics.ErrZeroVelocity)
	}
	if limits.MaxSpeed > 0 && speed > limits.MaxSpeed {
		return fmt.Errorf("%w: speed %.1f exceeds %.1f", ErrInvalidClaim, speed, limits.MaxSpeed)
	}
	if limits.MaxRewind > 0 && claim.HitTime < now-limits.MaxRewind {
		return fmt.Errorf("%w: hit time %.4f is older than %.2fs", ErrInvalidClaim, claim.HitTime, limits.MaxRewind)
	}
	if claim.HitTime > now+limits.FutureTolerance {
		return fmt.Errorf("%w: hit time %.4f is ahead of server time %.4f", ErrInvalidClaim, claim.HitTime, now)
	}
	return nil
}

// Verifier judges hit claims against rewound hitbox geometry.
type Verifier struct {
	recorder  *Recorder
	registry  Registry
	scene     Scene
	params    ballistics.Params
	limits    Limits
	clock     Clock
	publisher logging.Publisher
	verdicts  telemetry.VerdictRecorder
}

// VerifierConfig wires a Verifier to its collaborators.
type VerifierConfig struct {
	Recorder  *Recorder
	Registry  Registry
	Scene     Scene
	Params    ballistics.Params
	Limits    Limits
	Clock     Clock
	Publisher logging.Publisher
	Verdicts  telemetry.VerdictRecorder
}

// NewVerifier constructs a verifier. Params must be the same values the live
// projectiles use.
func NewVerifier(cfg VerifierConfig) *Verifier {
	v := &Verifier{
		recorder:  cfg.Recorder,
		registry:  cfg.Registry,
		scene:     cfg.Scene,
		params:    cfg.Params,
		limits:    cfg.Limits,
		clock:     cfg.Clock,
		publisher: cfg.Publisher,
		verdicts:  cfg.Verdicts,
	}
	if v.publisher == nil {
		v.publisher = logging.NopPublisher()
	}
	if v.verdicts == nil {
		v.verdicts = telemetry.NopMetrics{}
	}
	if v.clock == nil {
		v.clock = ClockFunc(func() float64 { return 0 })
	}
	return v
}

// Params reports the ballistic parameters replays use.
func (v *Verifier) Params() ballistics.Params {
	return v.params
}

// Verify judges claim and returns only the boolean verdict.
func (v *Verifier) Verify(ctx context.Context, claim Claim) Result {
	return v.Evaluate(ctx, claim).Result
}

// Evaluate judges claim. It never fails: every problem becomes a rejection.
func (v *Verifier) Evaluate(ctx context.Context, claim Claim) Verdict {
	now := v.clock.Now()
	verdict := v.evaluate(claim, now)
	verdict.ServerTime = now
	v.report(ctx, claim, verdict)
	return verdict
}

func (v *Verifier) evaluate(claim Claim, now float64) Verdict {
	if err := ValidateClaim(claim, now, v.limits); err != nil {
		return Verdict{Reason: ReasonInvalidInput}
	}
	if v.registry == nil || v.recorder == nil || v.scene == nil {
		return Verdict{Reason: ReasonUnknownTarget}
	}
	target, ok := v.registry.Lookup(claim.Target)
	if !ok {
		return Verdict{Reason: ReasonUnknownTarget}
	}
	history, ok := v.recorder.history(claim.Target)
	if !ok {
		return Verdict{Reason: ReasonNoHistory}
	}
	tracer := v.scene.TraceFor(claim.Target)

	target.Lock()
	defer target.Unlock()
	return v.judgeLocked(target, history, tracer, claim)
}

// judgeLocked runs locate, substitute, replay and restore on a locked target.
func (v *Verifier) judgeLocked(target Target, history *History, tracer ballistics.Tracer, claim Claim) Verdict {
	frame := Locate(history, claim.HitTime)
	if !frame.IsValid() {
		return Verdict{Reason: ReasonNoHistory}
	}
	if frame.Character != claim.Target {
		return Verdict{Reason: ReasonIdentityMismatch}
	}
	if frame.Invulnerable {
		return Verdict{Reason: ReasonInvulnerable}
	}

	names := target.HitboxNames()
	restore := substitute(target, names, frame)
	defer restore()

	maxSim, err := ballistics.MaxSimTime(claim.TraceOrigin, target.Origin(), claim.InitialVelocity, v.params.SlackSeconds)
	if err != nil {
		return Verdict{Reason: ReasonInvalidInput}
	}
	if v.limits.MaxReplay > 0 && maxSim > v.limits.MaxReplay {
		maxSim = v.limits.MaxReplay
	}

	prediction := ballistics.Predict(ballistics.PredictParams{
		Start:        claim.TraceOrigin,
		Velocity:     claim.InitialVelocity,
		Radius:       v.params.Radius,
		MaxSimTime:   maxSim,
		SimFrequency: v.params.SimFrequency,
		GravityZ:     v.params.GravityZ(),
	}, tracer)

	return classify(prediction, claim.Target, names, target.HeadHitbox())
}

// substitute overwrites the live hitboxes with the rewound frame and enables
// their queries. Hitboxes absent from the frame are disabled for the test.
// The returned func puts back the exact prior state.
func substitute(target Target, names []string, frame FrameSnapshot) func() {
	type saved struct {
		name    string
		box     geom.Box
		hasBox  bool
		enabled bool
	}
	previous := make([]saved, 0, len(names))
	for _, name := range names {
		box, ok := target.HitboxPose(name)
		previous = append(previous, saved{name: name, box: box, hasBox: ok, enabled: target.HitboxQueryEnabled(name)})
	}

	for _, name := range names {
		snapshot, ok := frame.Hitboxes[name]
		if !ok {
			target.SetHitboxQueryEnabled(name, false)
			continue
		}
		target.SetHitboxPose(name, snapshot.Box())
		target.SetHitboxQueryEnabled(name, true)
	}

	return func() {
		for _, s := range previous {
			if s.hasBox {
				target.SetHitboxPose(s.name, s.box)
			}
			target.SetHitboxQueryEnabled(s.name, s.enabled)
		}
	}
}

func classify(prediction ballistics.PredictResult, target handle.Handle, names []string, head string) Verdict {
	if !prediction.Blocked {
		return Verdict{Reason: ReasonMiss}
	}
	hit := prediction.Hit
	if hit.Owner != target || !contains(names, hit.Component) {
		return Verdict{Reason: ReasonBlocked, Impact: hit}
	}
	return Verdict{
		Result: Result{ValidHit: true, IsHeadshot: hit.Component == head},
		Hitbox: hit.Component,
		Impact: hit,
	}
}

func contains(names []string, name string) bool {
	for _, candidate := range names {
		if candidate == name {
			return true
		}
	}
	return false
}

func (v *Verifier) report(ctx context.Context, claim Claim, verdict Verdict) {
	outcome := "rejected"
	if verdict.ValidHit {
		outcome = "accepted"
	}
	reason := string(verdict.Reason)
	if reason == "" {
		reason = "none"
	}
	v.verdicts.ObserveVerdict(outcome, reason)

	payload := loggingrewind.VerdictPayload{
		Reason:      string(verdict.Reason),
		Hitbox:      verdict.Hitbox,
		Headshot:    verdict.IsHeadshot,
		HitTime:     claim.HitTime,
		ServerTime:  verdict.ServerTime,
		RewindDepth: verdict.ServerTime - claim.HitTime,
	}
	pub := logging.WithTrace(v.publisher, claim.TraceID)
	actor := logging.CharacterRef(claim.Attacker.String())
	target := logging.CharacterRef(claim.Target.String())
	if verdict.ValidHit {
		loggingrewind.HitVerified(ctx, pub, 0, actor, target, payload, nil)
		return
	}
	loggingrewind.HitRejected(ctx, pub, 0, actor, target, payload, nil)
}
