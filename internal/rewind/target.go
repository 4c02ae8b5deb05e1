package rewind

import (
	"github.com/go-gl/mathgl/mgl64"

	"rewind-arena/server/internal/ballistics"
	"rewind-arena/server/internal/geom"
	"rewind-arena/server/internal/handle"
)

// Target is the live character state the recorder samples and the verifier
// substitutes. Every method except Lock/Unlock/Handle must only be called
// while the target is locked.
type Target interface {
	Handle() handle.Handle
	Lock()
	Unlock()

	Origin() mgl64.Vec3
	InvulnerableAt(now float64) bool
	HeadHitbox() string
	HitboxNames() []string
	HitboxPose(name string) (geom.Box, bool)
	SetHitboxPose(name string, box geom.Box)
	HitboxQueryEnabled(name string) bool
	SetHitboxQueryEnabled(name string, enabled bool)
}

// Registry resolves handles to live targets. A handle whose character was
// destroyed must not resolve.
type Registry interface {
	Lookup(h handle.Handle) (Target, bool)
}

// RegistryFunc adapts a function into a Registry.
type RegistryFunc func(h handle.Handle) (Target, bool)

// Lookup implements Registry.
func (f RegistryFunc) Lookup(h handle.Handle) (Target, bool) {
	if f == nil {
		return nil, false
	}
	return f(h)
}

// Scene provides the blocking geometry a replay is traced against. The
// returned tracer runs while target is locked, so it must read the target's
// hitboxes without locking it.
type Scene interface {
	TraceFor(target handle.Handle) ballistics.Tracer
}

// Clock supplies the current server time in seconds.
type Clock interface {
	Now() float64
}

// ClockFunc adapts a function into a Clock.
type ClockFunc func() float64

// Now implements Clock.
func (f ClockFunc) Now() float64 {
	return f()
}

// capture reads every hitbox of a locked target into a frame.
func capture(target Target, now float64) FrameSnapshot {
	names := target.HitboxNames()
	frame := FrameSnapshot{
		Timestamp:    now,
		Character:    target.Handle(),
		Invulnerable: target.InvulnerableAt(now),
		Hitboxes:     make(map[string]HitboxSnapshot, len(names)),
	}
	for _, name := range names {
		if box, ok := target.HitboxPose(name); ok {
			frame.Hitboxes[name] = SnapshotFromBox(box)
		}
	}
	return frame
}
