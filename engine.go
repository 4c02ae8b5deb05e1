package server

import (
	"context"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"rewind-arena/server/internal/handle"
	"rewind-arena/server/internal/sim"
	"rewind-arena/server/internal/world"
	"rewind-arena/server/logging"
	"rewind-arena/server/logging/lifecycle"
)

// Apply executes staged commands against the world. Commands from players who
// left since staging are dropped.
func (h *Hub) Apply(ctx context.Context, tick uint64, now float64, cmds []sim.Command) {
	for _, cmd := range cmds {
		actor, ok := h.Handle(cmd.ActorID)
		if !ok {
			continue
		}
		switch cmd.Type {
		case sim.CommandMove:
			if cmd.Move == nil {
				continue
			}
			if err := h.world.SetIntent(actor, mgl64.Vec2{cmd.Move.DX, cmd.Move.DY}, mgl64.Vec3(cmd.Move.Facing)); err != nil {
				h.logger.Printf("move ignored for %s: %v", cmd.ActorID, err)
			}
		case sim.CommandDodge:
			h.world.Dodge(actor, now)
		case sim.CommandFire:
			if cmd.Fire == nil {
				continue
			}
			if _, err := h.world.Fire(actor, mgl64.Vec3(cmd.Fire.Direction), now); err != nil {
				h.logger.Printf("fire ignored for %s: %v", cmd.ActorID, err)
			}
		case sim.CommandHeartbeat:
			if cmd.Heartbeat == nil {
				continue
			}
			h.UpdateHeartbeat(cmd.ActorID, cmd.Heartbeat.ReceivedAt, cmd.Heartbeat.ClientSent)
		}
	}
}

// Step advances the world, samples every tracked character into its history,
// revives characters whose respawn delay elapsed and drops players whose
// heartbeat lapsed.
func (h *Hub) Step(ctx context.Context, tick uint64, dt, now float64) {
	h.world.Step(ctx, tick, dt, now)
	h.recorder.Record(ctx, tick, now)
	h.respawnDefeated(ctx, tick, now)
	h.pruneStale(ctx, time.Now())
}

func (h *Hub) respawnDefeated(ctx context.Context, tick uint64, now float64) {
	if h.cfg.RespawnDelay < 0 {
		return
	}
	h.mu.Lock()
	handles := make([]handle.Handle, 0, len(h.players))
	for _, state := range h.players {
		handles = append(handles, state.handle)
	}
	h.mu.Unlock()

	down := make(map[handle.Handle]float64, len(h.downSince))
	for _, target := range handles {
		character, ok := h.world.Resolve(target)
		if !ok || character.Health() > world.HealthEpsilon {
			continue
		}
		since, seen := h.downSince[target]
		if !seen {
			since = now
		}
		if now-since < h.cfg.RespawnDelay {
			down[target] = since
			continue
		}
		if h.world.Revive(target) {
			lifecycle.CharacterRespawned(ctx, h.publisher, tick, logging.CharacterRef(target.String()),
				lifecycle.RespawnedPayload{DownFor: now - since}, nil)
		}
	}
	h.downSince = down
}

var _ sim.Engine = (*Hub)(nil)
