package server

import (
	"context"

	"github.com/google/uuid"

	"rewind-arena/server/internal/net/proto"
	"rewind-arena/server/internal/rewind"
	"rewind-arena/server/internal/world"
)

// ReasonSelfHit marks claims where the attacker names itself as the target.
// They are ignored without verification.
const ReasonSelfHit = "self_hit"

// ReconcileHit verifies a client's hit claim against rewound hitboxes and, on
// a valid hit, applies damage to the target. It runs synchronously on the
// caller's goroutine. The returned HitResult is only meant for the claimant;
// ok is false when the claimant itself is unknown.
func (h *Hub) ReconcileHit(ctx context.Context, playerID string, msg proto.ReconcileHit) (proto.HitResult, bool) {
	attacker, ok := h.Handle(playerID)
	if !ok {
		return proto.HitResult{}, false
	}
	traceID := uuid.NewString()
	result := proto.HitResult{
		Ver:     proto.Version,
		Type:    proto.TypeHitResult,
		TraceID: traceID,
		Target:  msg.Target,
	}

	claim, err := msg.Claim(attacker, traceID)
	if err != nil {
		result.Reason = string(rewind.ReasonInvalidInput)
		return result, true
	}
	if claim.Target == attacker {
		result.Reason = ReasonSelfHit
		return result, true
	}

	verdict := h.verifier.Evaluate(ctx, claim)
	result.ValidHit = verdict.ValidHit
	result.IsHeadshot = verdict.IsHeadshot
	result.Reason = string(verdict.Reason)
	if !verdict.ValidHit {
		return result, true
	}

	amount := h.cfg.Ballistics.DamageFor(verdict.IsHeadshot)
	damage, applied := h.world.ApplyDamage(ctx, claim.Target, attacker, amount, world.DamageSource{
		Kind:     world.SourceRewind,
		Hitbox:   verdict.Hitbox,
		Headshot: verdict.IsHeadshot,
	})
	if applied {
		result.Damage = damage.Applied
		result.TargetHealth = damage.Remaining
	}
	return result, true
}
