package rewind

import (
	"context"

	"rewind-arena/server/logging"
)

const (
	// EventHitVerified is emitted when a rewound hit claim is accepted.
	EventHitVerified logging.EventType = "rewind.hit_verified"
	// EventHitRejected is emitted when a hit claim fails verification.
	EventHitRejected logging.EventType = "rewind.hit_rejected"
	// EventFrameSkipped is emitted when the recorder cannot sample a character.
	EventFrameSkipped logging.EventType = "rewind.frame_skipped"
)

// VerdictPayload describes a verification outcome.
type VerdictPayload struct {
	Reason      string  `json:"reason,omitempty"`
	Hitbox      string  `json:"hitbox,omitempty"`
	Headshot    bool    `json:"headshot,omitempty"`
	HitTime     float64 `json:"hitTime"`
	ServerTime  float64 `json:"serverTime"`
	RewindDepth float64 `json:"rewindDepth"`
}

// FrameSkippedPayload explains why a tick produced no frame.
type FrameSkippedPayload struct {
	Handle string `json:"handle"`
	Reason string `json:"reason"`
}

// HitVerified publishes an accepted claim.
func HitVerified(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, target logging.EntityRef, payload VerdictPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventHitVerified,
		Tick:     tick,
		Actor:    actor,
		Targets:  []logging.EntityRef{target},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryRewind,
		Payload:  payload,
		Extra:    extra,
	})
}

// HitRejected publishes a rejected claim. Rejections can indicate exploit
// attempts, so they are warnings.
func HitRejected(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, target logging.EntityRef, payload VerdictPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventHitRejected,
		Tick:     tick,
		Actor:    actor,
		Targets:  []logging.EntityRef{target},
		Severity: logging.SeverityWarn,
		Category: logging.CategoryRewind,
		Payload:  payload,
		Extra:    extra,
	})
}

// FrameSkipped publishes a debug event for a tick the recorder skipped.
func FrameSkipped(ctx context.Context, pub logging.Publisher, tick uint64, payload FrameSkippedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventFrameSkipped,
		Tick:     tick,
		Actor:    logging.WorldRef(),
		Severity: logging.SeverityDebug,
		Category: logging.CategoryRewind,
		Payload:  payload,
		Extra:    extra,
	})
}
