package world

import (
	"sync"

	"github.com/go-gl/mathgl/mgl64"

	"rewind-arena/server/internal/geom"
	"rewind-arena/server/internal/handle"
)

const (
	HitboxHead = "head"
	HitboxBody = "body"

	DefaultHealth = 100.0

	// characterRadius is the movement footprint used against obstacles.
	characterRadius = 40.0
)

// HitboxSpec places a named hitbox relative to the character origin.
type HitboxSpec struct {
	Name        string
	Offset      mgl64.Vec3
	Rotation    mgl64.Quat
	HalfExtents mgl64.Vec3
}

// DefaultRig is the standard humanoid hitbox layout. The first entry is the
// head.
func DefaultRig() []HitboxSpec {
	return []HitboxSpec{
		{Name: HitboxHead, Offset: mgl64.Vec3{0, 0, 70}, Rotation: mgl64.QuatIdent(), HalfExtents: mgl64.Vec3{16, 16, 16}},
		{Name: HitboxBody, Offset: mgl64.Vec3{-20, 0, 0}, Rotation: mgl64.QuatIdent(), HalfExtents: mgl64.Vec3{75, 25, 32}},
	}
}

// Hitbox is a live hitbox. Pose is its current world transform; queries are
// disabled unless a verification enables them.
type Hitbox struct {
	Spec         HitboxSpec
	Pose         geom.Box
	QueryEnabled bool
}

// Character is a simulated combatant. The mutex guards every field below it;
// hitbox state in particular must only be touched while it is held.
type Character struct {
	ID     string
	handle handle.Handle

	mu                sync.Mutex
	position          mgl64.Vec3
	yaw               float64
	intent            mgl64.Vec2
	hitboxes          []*Hitbox
	index             map[string]*Hitbox
	head              string
	health            float64
	maxHealth         float64
	invulnerableUntil float64
}

func newCharacter(id string, h handle.Handle, position mgl64.Vec3, rig []HitboxSpec) *Character {
	c := &Character{
		ID:        id,
		handle:    h,
		position:  position,
		index:     make(map[string]*Hitbox, len(rig)),
		health:    DefaultHealth,
		maxHealth: DefaultHealth,
	}
	for i, spec := range rig {
		if spec.Rotation == (mgl64.Quat{}) {
			spec.Rotation = mgl64.QuatIdent()
		}
		hb := &Hitbox{Spec: spec}
		c.hitboxes = append(c.hitboxes, hb)
		c.index[spec.Name] = hb
		if i == 0 {
			c.head = spec.Name
		}
	}
	c.refreshHitboxesLocked()
	return c
}

func (c *Character) Handle() handle.Handle { return c.handle }

func (c *Character) Lock()   { c.mu.Lock() }
func (c *Character) Unlock() { c.mu.Unlock() }

// Origin reports the character position. Caller holds the lock.
func (c *Character) Origin() mgl64.Vec3 { return c.position }

// InvulnerableAt reports whether a dodge window covers now. Caller holds the
// lock.
func (c *Character) InvulnerableAt(now float64) bool {
	return now < c.invulnerableUntil
}

func (c *Character) HeadHitbox() string { return c.head }

func (c *Character) HitboxNames() []string {
	names := make([]string, len(c.hitboxes))
	for i, hb := range c.hitboxes {
		names[i] = hb.Spec.Name
	}
	return names
}

func (c *Character) HitboxPose(name string) (geom.Box, bool) {
	hb, ok := c.index[name]
	if !ok {
		return geom.Box{}, false
	}
	return hb.Pose, true
}

func (c *Character) SetHitboxPose(name string, box geom.Box) {
	if hb, ok := c.index[name]; ok {
		hb.Pose = box
	}
}

func (c *Character) HitboxQueryEnabled(name string) bool {
	hb, ok := c.index[name]
	return ok && hb.QueryEnabled
}

func (c *Character) SetHitboxQueryEnabled(name string, enabled bool) {
	if hb, ok := c.index[name]; ok {
		hb.QueryEnabled = enabled
	}
}

// State is a consistent copy of the character for broadcast.
func (c *Character) State(now float64) CharacterState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CharacterState{
		ID:           c.ID,
		Handle:       c.handle.String(),
		Position:     c.position,
		Yaw:          c.yaw,
		Health:       c.health,
		MaxHealth:    c.maxHealth,
		Invulnerable: c.InvulnerableAt(now),
	}
}

// Health reports the current health.
func (c *Character) Health() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.health
}

// Position reports the current position.
func (c *Character) Position() mgl64.Vec3 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

func (c *Character) rotationLocked() mgl64.Quat {
	return mgl64.QuatRotate(c.yaw, mgl64.Vec3{0, 0, 1})
}

// refreshHitboxesLocked recomputes every hitbox world pose from the
// character transform.
func (c *Character) refreshHitboxesLocked() {
	rotation := c.rotationLocked()
	for _, hb := range c.hitboxes {
		hb.Pose = geom.Box{
			Center:      c.position.Add(rotation.Rotate(hb.Spec.Offset)),
			Rotation:    rotation.Mul(hb.Spec.Rotation),
			HalfExtents: hb.Spec.HalfExtents,
		}
	}
}

// CharacterState is the broadcast view of a character.
type CharacterState struct {
	ID           string     `json:"id" msgpack:"id"`
	Handle       string     `json:"handle" msgpack:"handle"`
	Position     mgl64.Vec3 `json:"position" msgpack:"position"`
	Yaw          float64    `json:"yaw" msgpack:"yaw"`
	Health       float64    `json:"health" msgpack:"health"`
	MaxHealth    float64    `json:"maxHealth" msgpack:"maxHealth"`
	Invulnerable bool       `json:"invulnerable" msgpack:"invulnerable"`
}
