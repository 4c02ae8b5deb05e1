package sim

import "time"

// CommandType enumerates the supported simulation commands.
type CommandType string

const (
	CommandMove      CommandType = "Move"
	CommandDodge     CommandType = "Dodge"
	CommandFire      CommandType = "Fire"
	CommandHeartbeat CommandType = "Heartbeat"
)

// MoveCommand carries the desired ground movement and facing.
type MoveCommand struct {
	DX     float64    `json:"dx"`
	DY     float64    `json:"dy"`
	Facing [3]float64 `json:"facing"`
}

// FireCommand launches a server-simulated projectile.
type FireCommand struct {
	Direction [3]float64 `json:"direction"`
}

// HeartbeatCommand updates connectivity metadata for an actor.
type HeartbeatCommand struct {
	ReceivedAt time.Time     `json:"receivedAt"`
	ClientSent int64         `json:"clientSent"`
	RTT        time.Duration `json:"rtt"`
}

// Command represents an intent captured for processing on the next tick.
type Command struct {
	OriginTick uint64            `json:"originTick"`
	ActorID    string            `json:"actorId"`
	Type       CommandType       `json:"type"`
	IssuedAt   time.Time         `json:"issuedAt"`
	Move       *MoveCommand      `json:"move,omitempty"`
	Fire       *FireCommand      `json:"fire,omitempty"`
	Heartbeat  *HeartbeatCommand `json:"heartbeat,omitempty"`
}
