package combat

import (
	"context"

	"rewind-arena/server/logging"
)

const (
	// EventDamage is emitted when a character takes damage.
	EventDamage logging.EventType = "combat.damage"
	// EventDefeat is emitted when a character's health reaches zero.
	EventDefeat logging.EventType = "combat.defeat"
	// EventProjectileImpact is emitted when a server-simulated projectile stops.
	EventProjectileImpact logging.EventType = "combat.projectile_impact"
)

// DamagePayload captures the amount dealt to a single target.
type DamagePayload struct {
	Source       string  `json:"source,omitempty"`
	Hitbox       string  `json:"hitbox,omitempty"`
	Amount       float64 `json:"amount"`
	TargetHealth float64 `json:"targetHealth"`
	Headshot     bool    `json:"headshot,omitempty"`
}

// DefeatPayload describes the context for a fatal blow.
type DefeatPayload struct {
	Source string `json:"source,omitempty"`
}

// ProjectileImpactPayload captures where a live projectile stopped.
type ProjectileImpactPayload struct {
	ProjectileID uint64     `json:"projectileId"`
	Component    string     `json:"component,omitempty"`
	Location     [3]float64 `json:"location"`
	FlightTime   float64    `json:"flightTime"`
}

// Damage publishes a combat damage event for a single target.
func Damage(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, target logging.EntityRef, payload DamagePayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventDamage,
		Tick:     tick,
		Actor:    actor,
		Targets:  []logging.EntityRef{target},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryCombat,
		Payload:  payload,
		Extra:    extra,
	})
}

// Defeat publishes a combat defeat event for the eliminated character.
func Defeat(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, target logging.EntityRef, payload DefeatPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventDefeat,
		Tick:     tick,
		Actor:    actor,
		Targets:  []logging.EntityRef{target},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryCombat,
		Payload:  payload,
		Extra:    extra,
	})
}

// ProjectileImpact publishes a debug event when a live projectile stops.
func ProjectileImpact(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload ProjectileImpactPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventProjectileImpact,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryCombat,
		Payload:  payload,
		Extra:    extra,
	})
}
