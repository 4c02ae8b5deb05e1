package world

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/go-gl/mathgl/mgl64"

	"rewind-arena/server/internal/ballistics"
	"rewind-arena/server/internal/geom"
	"rewind-arena/server/internal/handle"
	"rewind-arena/server/logging"
	"rewind-arena/server/logging/combat"
)

var (
	ErrDuplicateCharacter = errors.New("world: character id already in use")
	ErrUnknownCharacter   = errors.New("world: unknown character")
)

// World owns characters, static geometry and live projectiles. Obstacles are
// immutable after New; characters carry their own locks.
type World struct {
	cfg       Config
	params    ballistics.Params
	obstacles []Obstacle
	publisher logging.Publisher

	mu               sync.RWMutex
	characters       *handle.Arena[*Character]
	byID             map[string]handle.Handle
	projectiles      []*ballistics.Projectile
	nextProjectileID uint64
	tick             uint64
	now              float64
}

// New builds a world. params must be the same ballistic parameters the
// rewind verifier replays with.
func New(cfg Config, params ballistics.Params, publisher logging.Publisher) *World {
	cfg = cfg.normalized()
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	return &World{
		cfg:        cfg,
		params:     params,
		obstacles:  GenerateObstacles(cfg),
		publisher:  publisher,
		characters: &handle.Arena[*Character]{},
		byID:       make(map[string]handle.Handle),
	}
}

// NewWithObstacles builds a world with a fixed obstacle layout.
func NewWithObstacles(cfg Config, params ballistics.Params, publisher logging.Publisher, obstacles []Obstacle) *World {
	cfg.Obstacles = false
	w := New(cfg, params, publisher)
	w.obstacles = append([]Obstacle(nil), obstacles...)
	return w
}

func (w *World) Config() Config { return w.cfg }

func (w *World) Params() ballistics.Params { return w.params }

// Obstacles returns a copy of the static geometry.
func (w *World) Obstacles() []Obstacle {
	return append([]Obstacle(nil), w.obstacles...)
}

// SpawnPoint returns the default spawn location, the arena centre at
// standing height.
func (w *World) SpawnPoint() mgl64.Vec3 {
	return mgl64.Vec3{w.cfg.Width / 2, w.cfg.Depth / 2, w.cfg.StandHeight}
}

// Spawn adds a character with the default rig.
func (w *World) Spawn(id string, position mgl64.Vec3) (*Character, error) {
	return w.SpawnWithRig(id, position, DefaultRig())
}

// SpawnWithRig adds a character with a custom hitbox layout; the first spec
// is the head.
func (w *World) SpawnWithRig(id string, position mgl64.Vec3, rig []HitboxSpec) (*Character, error) {
	if !geom.Finite(position) {
		return nil, fmt.Errorf("world: spawn position %v is not finite", position)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.byID[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateCharacter, id)
	}
	h := w.characters.Insert(nil)
	character := newCharacter(id, h, position, rig)
	w.characters.Set(h, character)
	w.byID[id] = h
	return character, nil
}

// Despawn removes a character. Handles captured before removal stop resolving.
func (w *World) Despawn(h handle.Handle) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	character, ok := w.characters.Get(h)
	if !ok {
		return false
	}
	delete(w.byID, character.ID)
	return w.characters.Remove(h)
}

// Resolve returns the live character for h.
func (w *World) Resolve(h handle.Handle) (*Character, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.characters.Get(h)
}

// ByID returns the live character with the given public ID.
func (w *World) ByID(id string) (*Character, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	h, ok := w.byID[id]
	if !ok {
		return nil, false
	}
	return w.characters.Get(h)
}

// Characters returns the live characters in arena order.
func (w *World) Characters() []*Character {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]*Character, 0, w.characters.Len())
	w.characters.Each(func(_ handle.Handle, c *Character) bool {
		out = append(out, c)
		return true
	})
	return out
}

// Clock reports the tick and time of the last Step.
func (w *World) Clock() (uint64, float64) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.tick, w.now
}

// SetIntent records the desired ground movement and facing of a character.
func (w *World) SetIntent(h handle.Handle, move mgl64.Vec2, facing mgl64.Vec3) error {
	character, ok := w.Resolve(h)
	if !ok {
		return ErrUnknownCharacter
	}
	if math.IsNaN(move.X()) || math.IsNaN(move.Y()) || math.IsInf(move.X(), 0) || math.IsInf(move.Y(), 0) {
		move = mgl64.Vec2{}
	}
	character.Lock()
	defer character.Unlock()
	character.intent = move
	if geom.Finite(facing) {
		if yaw, ok := yawFromDirection(facing); ok {
			character.yaw = yaw
			character.refreshHitboxesLocked()
		}
	}
	return nil
}

// Dodge opens an invulnerability window starting at now. It returns false if
// the character is unknown, defeated, or already dodging.
func (w *World) Dodge(h handle.Handle, now float64) bool {
	character, ok := w.Resolve(h)
	if !ok {
		return false
	}
	character.Lock()
	defer character.Unlock()
	if character.health <= 0 || character.InvulnerableAt(now) {
		return false
	}
	character.invulnerableUntil = now + w.cfg.DodgeDuration
	return true
}

// Muzzle returns the launch origin for a character's shots.
func (w *World) Muzzle(h handle.Handle) (mgl64.Vec3, bool) {
	character, ok := w.Resolve(h)
	if !ok {
		return mgl64.Vec3{}, false
	}
	character.Lock()
	defer character.Unlock()
	return character.position.Add(mgl64.Vec3{0, 0, w.cfg.MuzzleHeight}), true
}

// Fire launches a server-simulated projectile from the character's muzzle.
func (w *World) Fire(h handle.Handle, direction mgl64.Vec3, now float64) (*ballistics.Projectile, error) {
	if !geom.Finite(direction) || direction.Len() == 0 {
		return nil, fmt.Errorf("world: fire direction %v: %w", direction, ballistics.ErrZeroVelocity)
	}
	origin, ok := w.Muzzle(h)
	if !ok {
		return nil, ErrUnknownCharacter
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextProjectileID++
	projectile := ballistics.Launch(w.nextProjectileID, h, origin, direction, now, w.params)
	w.projectiles = append(w.projectiles, projectile)
	return projectile, nil
}

// Projectiles returns copies of the live projectiles.
func (w *World) Projectiles() []ballistics.Projectile {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]ballistics.Projectile, len(w.projectiles))
	for i, p := range w.projectiles {
		out[i] = *p
	}
	return out
}

// Impact is a live projectile contact resolved during Step.
type Impact struct {
	Projectile ballistics.Projectile
	Hit        ballistics.Hit
	Damage     DamageResult
}

// Step advances movement and live projectiles by dt and returns the
// projectile contacts of this tick.
func (w *World) Step(ctx context.Context, tick uint64, dt, now float64) []Impact {
	w.mu.Lock()
	w.tick = tick
	w.now = now
	projectiles := w.projectiles
	w.projectiles = nil
	w.mu.Unlock()

	characters := w.Characters()
	for _, character := range characters {
		character.Lock()
		character.moveLocked(dt, w.cfg, w.obstacles)
		character.refreshHitboxesLocked()
		character.Unlock()
	}

	var impacts []Impact
	remaining := projectiles[:0]
	for _, projectile := range projectiles {
		hit, ok := projectile.Advance(dt, w.params, w.liveTracer(projectile.Owner, characters))
		if ok {
			impacts = append(impacts, w.resolveImpact(ctx, tick, now, projectile, hit))
			continue
		}
		if projectile.Stopped || projectile.Age >= w.cfg.ProjectileTTL || !w.inBounds(projectile.Position) {
			continue
		}
		remaining = append(remaining, projectile)
	}

	w.mu.Lock()
	w.projectiles = append(remaining, w.projectiles...)
	w.mu.Unlock()
	return impacts
}

func (w *World) resolveImpact(ctx context.Context, tick uint64, now float64, projectile *ballistics.Projectile, hit ballistics.Hit) Impact {
	impact := Impact{Projectile: *projectile, Hit: hit}
	combat.ProjectileImpact(ctx, w.publisher, tick, logging.CharacterRef(projectile.Owner.String()), combat.ProjectileImpactPayload{
		ProjectileID: projectile.ID,
		Component:    hit.Component,
		Location:     hit.Location,
		FlightTime:   hit.Time,
	}, nil)
	if hit.Owner.IsZero() {
		return impact
	}
	target, ok := w.Resolve(hit.Owner)
	if !ok {
		return impact
	}
	target.Lock()
	invulnerable := target.InvulnerableAt(now)
	head := hit.Component == target.head
	target.Unlock()
	if invulnerable {
		return impact
	}
	impact.Damage, _ = w.ApplyDamage(ctx, hit.Owner, projectile.Owner, w.params.DamageFor(head), DamageSource{
		Kind:     SourceProjectile,
		Hitbox:   hit.Component,
		Headshot: head,
	})
	return impact
}

func (w *World) inBounds(p mgl64.Vec3) bool {
	margin := w.cfg.Width + w.cfg.Depth
	return p.X() > -margin && p.X() < w.cfg.Width+margin &&
		p.Y() > -margin && p.Y() < w.cfg.Depth+margin && p.Z() > -margin
}

// sweepObstacles returns the first obstacle contact along the segment.
func (w *World) sweepObstacles(from, to mgl64.Vec3, radius float64) (ballistics.Hit, bool) {
	best := ballistics.Hit{Fraction: math.Inf(1)}
	found := false
	for _, obs := range w.obstacles {
		if fraction, ok := obs.Box.SweepSphere(from, to, radius); ok && fraction < best.Fraction {
			best = ballistics.Hit{Component: obs.ID, Fraction: fraction}
			found = true
		}
	}
	return best, found
}

// TraceFor builds the tracer a rewind replay runs against: static obstacles
// plus the target's query-enabled hitboxes. The tracer reads the target
// without locking it; the caller holds the target's lock while it runs.
func (w *World) TraceFor(target handle.Handle) ballistics.Tracer {
	character, _ := w.Resolve(target)
	return ballistics.TracerFunc(func(from, to mgl64.Vec3, radius float64) (ballistics.Hit, bool) {
		best, found := w.sweepObstacles(from, to, radius)
		if character == nil {
			return best, found
		}
		for _, hb := range character.hitboxes {
			if !hb.QueryEnabled {
				continue
			}
			if fraction, ok := hb.Pose.SweepSphere(from, to, radius); ok && (!found || fraction < best.Fraction) {
				best = ballistics.Hit{Owner: character.handle, Component: hb.Spec.Name, Fraction: fraction}
				found = true
			}
		}
		return best, found
	})
}

// liveTracer is used by server-simulated projectiles: static obstacles plus
// every live hitbox of every character except the shooter, each read under
// its character's lock.
func (w *World) liveTracer(shooter handle.Handle, characters []*Character) ballistics.Tracer {
	return ballistics.TracerFunc(func(from, to mgl64.Vec3, radius float64) (ballistics.Hit, bool) {
		best, found := w.sweepObstacles(from, to, radius)
		for _, character := range characters {
			if character.handle == shooter {
				continue
			}
			character.Lock()
			if character.health > 0 {
				for _, hb := range character.hitboxes {
					if fraction, ok := hb.Pose.SweepSphere(from, to, radius); ok && (!found || fraction < best.Fraction) {
						best = ballistics.Hit{Owner: character.handle, Component: hb.Spec.Name, Fraction: fraction}
						found = true
					}
				}
			}
			character.Unlock()
		}
		return best, found
	})
}

// States returns the broadcast view of every character.
func (w *World) States(now float64) []CharacterState {
	characters := w.Characters()
	states := make([]CharacterState, 0, len(characters))
	for _, character := range characters {
		states = append(states, character.State(now))
	}
	return states
}
