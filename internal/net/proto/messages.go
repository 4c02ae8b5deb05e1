package proto

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"

	"rewind-arena/server/internal/ballistics"
	"rewind-arena/server/internal/handle"
	"rewind-arena/server/internal/rewind"
	"rewind-arena/server/internal/sim"
	"rewind-arena/server/internal/world"
)

const (
	// Version tracks the wire-protocol revision expected by clients.
	Version = 1
)

// Client message type identifiers.
const (
	TypeJoin         = "join"
	TypeMove         = "move"
	TypeDodge        = "dodge"
	TypeFire         = "fire"
	TypeReconcileHit = "reconcileHit"
	TypeTimeSync     = "timeSync"
	TypeHeartbeat    = "heartbeat"
)

// Server message type identifiers.
const (
	TypeState         = "state"
	TypeHitResult     = "hitResult"
	TypeTimeSyncReply = "timeSyncReply"
	TypeCommandReject = "commandReject"
)

// ReconcileHit is a client's claim that its locally simulated projectile
// struck Target at HitTime (server clock seconds).
type ReconcileHit struct {
	Target          string          `json:"target"`
	TraceOrigin     QuantizedVec    `json:"traceOrigin"`
	InitialVelocity QuantizedVec100 `json:"initialVelocity"`
	HitTime         float64         `json:"hitTime"`
}

// Claim converts the wire payload into a verifier claim.
func (m ReconcileHit) Claim(attacker handle.Handle, traceID string) (rewind.Claim, error) {
	target, err := handle.Parse(m.Target)
	if err != nil {
		return rewind.Claim{}, fmt.Errorf("proto: reconcile target: %w", err)
	}
	return rewind.Claim{
		Attacker:        attacker,
		Target:          target,
		TraceOrigin:     m.TraceOrigin.Vec(),
		InitialVelocity: m.InitialVelocity.Vec(),
		HitTime:         m.HitTime,
		TraceID:         traceID,
	}, nil
}

// NewReconcileHit quantizes a client-side trace into its wire form.
func NewReconcileHit(target handle.Handle, origin, velocity mgl64.Vec3, hitTime float64) (ReconcileHit, error) {
	qo, err := Quantize(origin)
	if err != nil {
		return ReconcileHit{}, err
	}
	qv, err := Quantize100(velocity)
	if err != nil {
		return ReconcileHit{}, err
	}
	return ReconcileHit{Target: target.String(), TraceOrigin: qo, InitialVelocity: qv, HitTime: hitTime}, nil
}

// ClientMessage captures an inbound websocket message from the client.
type ClientMessage struct {
	Ver        int           `json:"ver,omitempty"`
	Type       string        `json:"type"`
	Name       string        `json:"name,omitempty"`
	DX         float64       `json:"dx,omitempty"`
	DY         float64       `json:"dy,omitempty"`
	Facing     [3]float64    `json:"facing,omitzero"`
	Direction  [3]float64    `json:"direction,omitzero"`
	Hit        *ReconcileHit `json:"hit,omitempty"`
	ClientTime float64       `json:"clientTime,omitempty"`
	SentAt     int64         `json:"sentAt,omitempty"`
}

// checkVersion fills in a missing version and rejects any other revision.
func (m *ClientMessage) checkVersion() error {
	if m.Ver == 0 {
		m.Ver = Version
	}
	if m.Ver != Version {
		return fmt.Errorf("unsupported client protocol version %d", m.Ver)
	}
	if m.Type == "" {
		return fmt.Errorf("missing message type")
	}
	return nil
}

// ClientCommand converts tick-driven messages into simulation commands. Origin
// metadata is populated by the hub when the command is accepted.
func ClientCommand(msg ClientMessage) (sim.Command, bool) {
	switch msg.Type {
	case TypeMove:
		return sim.Command{
			Type: sim.CommandMove,
			Move: &sim.MoveCommand{DX: msg.DX, DY: msg.DY, Facing: msg.Facing},
		}, true
	case TypeDodge:
		return sim.Command{Type: sim.CommandDodge}, true
	case TypeFire:
		if msg.Direction == ([3]float64{}) {
			return sim.Command{}, false
		}
		return sim.Command{
			Type: sim.CommandFire,
			Fire: &sim.FireCommand{Direction: msg.Direction},
		}, true
	case TypeHeartbeat:
		return sim.Command{
			Type:      sim.CommandHeartbeat,
			Heartbeat: &sim.HeartbeatCommand{ClientSent: msg.SentAt},
		}, true
	default:
		return sim.Command{}, false
	}
}

// ObstacleState is the wire view of a static blocker.
type ObstacleState struct {
	ID          string     `json:"id"`
	Center      mgl64.Vec3 `json:"center"`
	HalfExtents mgl64.Vec3 `json:"halfExtents"`
}

// ObstacleStates converts world obstacles for the wire.
func ObstacleStates(obstacles []world.Obstacle) []ObstacleState {
	out := make([]ObstacleState, len(obstacles))
	for i, obs := range obstacles {
		out[i] = ObstacleState{ID: obs.ID, Center: obs.Box.Center, HalfExtents: obs.Box.HalfExtents}
	}
	return out
}

// ProjectileState is the wire view of a live projectile.
type ProjectileState struct {
	ID       uint64     `json:"id"`
	Owner    string     `json:"owner"`
	Position mgl64.Vec3 `json:"position"`
	Velocity mgl64.Vec3 `json:"velocity"`
}

// ProjectileStates converts live projectiles for the wire.
func ProjectileStates(projectiles []ballistics.Projectile) []ProjectileState {
	out := make([]ProjectileState, 0, len(projectiles))
	for _, p := range projectiles {
		if p.Stopped {
			continue
		}
		out = append(out, ProjectileState{ID: p.ID, Owner: p.Owner.String(), Position: p.Position, Velocity: p.Velocity})
	}
	return out
}

// JoinResponse is returned by /join and carries everything a client needs to
// predict projectiles the same way the server replays them.
type JoinResponse struct {
	Ver        int                    `json:"ver"`
	ID         string                 `json:"id"`
	Handle     string                 `json:"handle"`
	ServerTime float64                `json:"serverTime"`
	Ballistics ballistics.Params      `json:"ballistics"`
	Obstacles  []ObstacleState        `json:"obstacles"`
	Characters []world.CharacterState `json:"characters"`
}

// StateSnapshot is broadcast after every tick.
type StateSnapshot struct {
	Ver         int                    `json:"ver"`
	Type        string                 `json:"type"`
	Tick        uint64                 `json:"t"`
	ServerTime  float64                `json:"serverTime"`
	Characters  []world.CharacterState `json:"characters"`
	Projectiles []ProjectileState      `json:"projectiles,omitempty"`
}

// HitResult tells the claimant how its ReconcileHit was judged.
type HitResult struct {
	Ver          int     `json:"ver"`
	Type         string  `json:"type"`
	TraceID      string  `json:"traceId"`
	Target       string  `json:"target"`
	ValidHit     bool    `json:"validHit"`
	IsHeadshot   bool    `json:"isHeadshot"`
	Reason       string  `json:"reason,omitempty"`
	Damage       float64 `json:"damage,omitempty"`
	TargetHealth float64 `json:"targetHealth,omitempty"`
}

// TimeSyncReply echoes the client's send time with the server clock.
type TimeSyncReply struct {
	Ver        int     `json:"ver"`
	Type       string  `json:"type"`
	ClientTime float64 `json:"clientTime"`
	ServerTime float64 `json:"serverTime"`
}

// Heartbeat echoes timing metadata back to the client.
type Heartbeat struct {
	Ver        int    `json:"ver"`
	Type       string `json:"type"`
	ServerTime int64  `json:"serverTime"`
	ClientTime int64  `json:"clientTime"`
	RTTMillis  int64  `json:"rtt"`
}

// CommandReject notifies the client that a message was refused.
type CommandReject struct {
	Ver     int    `json:"ver"`
	Type    string `json:"type"`
	Command string `json:"command"`
	Reason  string `json:"reason"`
}
