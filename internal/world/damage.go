package world

import (
	"context"
	"math"

	"rewind-arena/server/internal/handle"
	"rewind-arena/server/logging"
	"rewind-arena/server/logging/combat"
)

// HealthEpsilon defines the tolerance used when comparing health values.
const HealthEpsilon = 1e-6

const (
	SourceProjectile = "projectile"
	SourceRewind     = "rewind"
)

// DamageSource describes where damage came from.
type DamageSource struct {
	Kind     string
	Hitbox   string
	Headshot bool
}

// DamageResult reports what ApplyDamage did.
type DamageResult struct {
	Applied   float64 `json:"applied"`
	Remaining float64 `json:"remaining"`
	Defeated  bool    `json:"defeated"`
}

// ApplyDamage subtracts amount from the target's health, clamping at zero.
// Defeated characters take no further damage. It reports false when nothing
// was applied.
func (w *World) ApplyDamage(ctx context.Context, target, instigator handle.Handle, amount float64, source DamageSource) (DamageResult, bool) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return DamageResult{}, false
	}
	character, ok := w.Resolve(target)
	if !ok {
		return DamageResult{}, false
	}

	character.Lock()
	if character.health <= HealthEpsilon {
		character.Unlock()
		return DamageResult{}, false
	}
	before := character.health
	character.health = math.Max(0, before-amount)
	result := DamageResult{
		Applied:   before - character.health,
		Remaining: character.health,
		Defeated:  character.health <= HealthEpsilon,
	}
	targetID := character.ID
	character.Unlock()

	tick, _ := w.Clock()
	actor := logging.CharacterRef(instigator.String())
	if attacker, ok := w.Resolve(instigator); ok {
		actor = logging.CharacterRef(attacker.ID)
	}
	targetRef := logging.CharacterRef(targetID)
	combat.Damage(ctx, w.publisher, tick, actor, targetRef, combat.DamagePayload{
		Source:       source.Kind,
		Hitbox:       source.Hitbox,
		Amount:       result.Applied,
		TargetHealth: result.Remaining,
		Headshot:     source.Headshot,
	}, nil)
	if result.Defeated {
		combat.Defeat(ctx, w.publisher, tick, actor, targetRef, combat.DefeatPayload{Source: source.Kind}, nil)
	}
	return result, true
}

// Revive restores a character to full health.
func (w *World) Revive(h handle.Handle) bool {
	character, ok := w.Resolve(h)
	if !ok {
		return false
	}
	character.Lock()
	defer character.Unlock()
	character.health = character.maxHealth
	character.invulnerableUntil = 0
	return true
}
