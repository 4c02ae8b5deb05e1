package lifecycle

import (
	"context"

	"rewind-arena/server/logging"
)

const (
	// EventCharacterJoined is emitted when a player's character spawns.
	EventCharacterJoined logging.EventType = "lifecycle.character_joined"
	// EventCharacterLeft is emitted when a player's character is removed.
	EventCharacterLeft logging.EventType = "lifecycle.character_left"
	// EventCharacterRespawned is emitted when a defeated character returns.
	EventCharacterRespawned logging.EventType = "lifecycle.character_respawned"
)

// JoinedPayload captures spawn metadata for a new character.
type JoinedPayload struct {
	Handle string     `json:"handle"`
	Spawn  [3]float64 `json:"spawn"`
}

// LeftPayload captures the reason a character left.
type LeftPayload struct {
	Reason string `json:"reason"`
}

// RespawnedPayload records how long the character was down.
type RespawnedPayload struct {
	DownFor float64 `json:"downFor"`
}

// CharacterJoined publishes a join event.
func CharacterJoined(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload JoinedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventCharacterJoined,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
		Extra:    extra,
	})
}

// CharacterLeft publishes a leave event.
func CharacterLeft(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload LeftPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventCharacterLeft,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
		Extra:    extra,
	})
}

// CharacterRespawned publishes a respawn event.
func CharacterRespawned(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload RespawnedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventCharacterRespawned,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
		Extra:    extra,
	})
}
