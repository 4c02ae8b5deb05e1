package server

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/gorilla/websocket"

	"rewind-arena/server/internal/ballistics"
	"rewind-arena/server/internal/clocksync"
	"rewind-arena/server/internal/handle"
	"rewind-arena/server/internal/net/proto"
	"rewind-arena/server/internal/rewind"
	"rewind-arena/server/internal/sim"
	"rewind-arena/server/internal/telemetry"
	"rewind-arena/server/internal/world"
	"rewind-arena/server/logging"
	"rewind-arena/server/logging/lifecycle"
)

const (
	// CommandRejectUnknownActor indicates the sender has no live character.
	CommandRejectUnknownActor = "unknown_actor"
	// CommandRejectInvalidCommand indicates the message did not map to a
	// simulation command.
	CommandRejectInvalidCommand = "invalid_command"

	writeWait = 10 * time.Second

	spawnRingRadius = 300.0
	goldenAngle     = 2.399963229728653

	playersMetricKey = "hub_players"
)

// HubConfig assembles the simulation collaborators.
type HubConfig struct {
	World            world.Config
	Ballistics       ballistics.Params
	HistoryFrames    int
	Limits           *rewind.Limits
	Loop             sim.LoopConfig
	HeartbeatTimeout time.Duration
	// RespawnDelay is how long, in server seconds, a defeated character stays
	// down. Negative disables respawning.
	RespawnDelay float64

	Clock     *clocksync.ServerClock
	Logger    telemetry.Logger
	Metrics   telemetry.Metrics
	Verdicts  telemetry.VerdictRecorder
	Publisher logging.Publisher
}

// DefaultHubConfig returns the standard arena configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		World:            world.DefaultConfig(),
		Ballistics:       ballistics.DefaultParams(),
		HistoryFrames:    rewind.DefaultHistoryFrames,
		Loop:             sim.DefaultLoopConfig(),
		HeartbeatTimeout: 10 * time.Second,
		RespawnDelay:     3,
	}
}

// Hub owns the world, the rewind recorder and verifier, the tick loop, and
// every connected player.
type Hub struct {
	cfg       HubConfig
	world     *world.World
	recorder  *rewind.Recorder
	verifier  *rewind.Verifier
	loop      *sim.Loop
	clock     *clocksync.ServerClock
	logger    telemetry.Logger
	metrics   telemetry.Metrics
	publisher logging.Publisher

	// downSince is owned by the tick goroutine.
	downSince map[handle.Handle]float64

	mu          sync.Mutex
	players     map[string]*playerState
	subscribers map[string]*Subscriber
	nextID      atomic.Uint64
}

type playerState struct {
	id            string
	handle        handle.Handle
	lastHeartbeat time.Time
	lastRTT       time.Duration
}

// NewHub wires a hub from cfg. Zero-valued fields fall back to defaults.
func NewHub(cfg HubConfig) *Hub {
	defaults := DefaultHubConfig()
	if cfg.Ballistics == (ballistics.Params{}) {
		cfg.Ballistics = defaults.Ballistics
	}
	if cfg.HistoryFrames <= 0 {
		cfg.HistoryFrames = defaults.HistoryFrames
	}
	if cfg.Loop.TickRate <= 0 {
		cfg.Loop = defaults.Loop
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = defaults.HeartbeatTimeout
	}
	if cfg.RespawnDelay == 0 {
		cfg.RespawnDelay = defaults.RespawnDelay
	}
	if cfg.Clock == nil {
		cfg.Clock = clocksync.NewServerClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = telemetry.LoggerFunc(nil)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.NopMetrics{}
	}
	if cfg.Publisher == nil {
		cfg.Publisher = logging.NopPublisher()
	}

	h := &Hub{
		cfg:         cfg,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		publisher:   cfg.Publisher,
		players:     make(map[string]*playerState),
		subscribers: make(map[string]*Subscriber),
	}
	h.world = world.New(cfg.World, cfg.Ballistics, cfg.Publisher)
	registry := rewind.RegistryFunc(func(target handle.Handle) (rewind.Target, bool) {
		character, ok := h.world.Resolve(target)
		if !ok {
			return nil, false
		}
		return character, true
	})
	h.recorder = rewind.NewRecorder(
		rewind.RoleAuthoritative,
		cfg.HistoryFrames,
		registry,
		rewind.WithRecorderPublisher(cfg.Publisher),
		rewind.WithRecorderMetrics(cfg.Metrics),
	)

	historySeconds := float64(cfg.HistoryFrames) / float64(cfg.Loop.TickRate)
	limits := rewind.DefaultLimits(cfg.Ballistics, historySeconds)
	if cfg.Limits != nil {
		limits = *cfg.Limits
	}
	h.verifier = rewind.NewVerifier(rewind.VerifierConfig{
		Recorder:  h.recorder,
		Registry:  registry,
		Scene:     h.world,
		Params:    cfg.Ballistics,
		Limits:    limits,
		Clock:     h.clock,
		Publisher: cfg.Publisher,
		Verdicts:  cfg.Verdicts,
	})

	h.loop = sim.NewLoop(h, cfg.Loop, sim.Deps{Logger: cfg.Logger, Metrics: cfg.Metrics, Clock: h.clock}, sim.LoopHooks{
		AfterStep: h.afterStep,
		OnQueueWarning: func(length int) {
			h.logger.Printf("[backpressure] command queue length=%d", length)
		},
	})
	return h
}

// World exposes the simulated world.
func (h *Hub) World() *world.World { return h.world }

// Recorder exposes the rewind recorder.
func (h *Hub) Recorder() *rewind.Recorder { return h.recorder }

// Verifier exposes the hit verifier.
func (h *Hub) Verifier() *rewind.Verifier { return h.verifier }

// Ballistics reports the projectile parameters shared with clients.
func (h *Hub) Ballistics() ballistics.Params { return h.cfg.Ballistics }

// TickRate reports the simulation frequency.
func (h *Hub) TickRate() int { return h.loop.Config().TickRate }

// Tick reports the last simulated tick.
func (h *Hub) Tick() uint64 { return h.loop.Tick() }

// ServerTime reports the authoritative clock in seconds.
func (h *Hub) ServerTime() float64 { return h.clock.Now() }

// Join spawns a new character, starts recording its history, and returns
// everything the client needs to start predicting.
func (h *Hub) Join(ctx context.Context) (proto.JoinResponse, error) {
	n := h.nextID.Add(1)
	playerID := fmt.Sprintf("player-%d", n)
	spawn := h.spawnFor(n)

	character, err := h.world.Spawn(playerID, spawn)
	if err != nil {
		return proto.JoinResponse{}, fmt.Errorf("join %s: %w", playerID, err)
	}
	h.recorder.Track(character.Handle())

	h.mu.Lock()
	h.players[playerID] = &playerState{id: playerID, handle: character.Handle(), lastHeartbeat: time.Now()}
	count := len(h.players)
	h.mu.Unlock()
	h.metrics.Store(playersMetricKey, uint64(count))

	tick := h.loop.Tick()
	lifecycle.CharacterJoined(ctx, h.publisher, tick, logging.CharacterRef(playerID), lifecycle.JoinedPayload{
		Handle: character.Handle().String(),
		Spawn:  spawn,
	}, nil)

	now := h.clock.Now()
	return proto.JoinResponse{
		Ver:        proto.Version,
		ID:         playerID,
		Handle:     character.Handle().String(),
		ServerTime: now,
		Ballistics: h.cfg.Ballistics,
		Obstacles:  proto.ObstacleStates(h.world.Obstacles()),
		Characters: h.world.States(now),
	}, nil
}

// spawnFor spreads joins around the arena centre so characters do not stack.
func (h *Hub) spawnFor(n uint64) mgl64.Vec3 {
	centre := h.world.SpawnPoint()
	angle := float64(n) * goldenAngle
	return centre.Add(mgl64.Vec3{math.Cos(angle) * spawnRingRadius, math.Sin(angle) * spawnRingRadius, 0})
}

// Subscribe associates a WebSocket connection with an existing player and
// returns the initial state snapshot.
func (h *Hub) Subscribe(playerID string, conn *websocket.Conn, format proto.Format) (*Subscriber, proto.StateSnapshot, bool) {
	h.mu.Lock()
	state, ok := h.players[playerID]
	if !ok {
		h.mu.Unlock()
		return nil, proto.StateSnapshot{}, false
	}
	state.lastHeartbeat = time.Now()
	existing := h.subscribers[playerID]
	sub := &Subscriber{conn: conn, format: format}
	h.subscribers[playerID] = sub
	h.mu.Unlock()

	if existing != nil {
		existing.Close()
	}
	return sub, h.snapshot(h.loop.Tick()), true
}

// Handle resolves a player's character handle.
func (h *Hub) Handle(playerID string) (handle.Handle, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	state, ok := h.players[playerID]
	if !ok {
		return handle.Handle{}, false
	}
	return state.handle, true
}

// Disconnect removes a player, its character and its history, and closes any
// active subscriber connection. It reports whether the player existed.
func (h *Hub) Disconnect(ctx context.Context, playerID, reason string) bool {
	h.mu.Lock()
	sub := h.subscribers[playerID]
	delete(h.subscribers, playerID)
	state, ok := h.players[playerID]
	delete(h.players, playerID)
	count := len(h.players)
	h.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	if !ok {
		return false
	}
	h.metrics.Store(playersMetricKey, uint64(count))
	h.recorder.Untrack(state.handle)
	h.world.Despawn(state.handle)
	lifecycle.CharacterLeft(ctx, h.publisher, h.loop.Tick(), logging.CharacterRef(playerID), lifecycle.LeftPayload{Reason: reason}, nil)
	return true
}

// Release ends a subscriber's session. The player is removed only while sub
// is still its active subscriber, so a superseded connection closing does not
// evict the player's newer session.
func (h *Hub) Release(ctx context.Context, playerID string, sub *Subscriber, reason string) bool {
	h.mu.Lock()
	current := h.subscribers[playerID]
	h.mu.Unlock()
	if current != sub {
		if sub != nil {
			sub.Close()
		}
		return false
	}
	return h.Disconnect(ctx, playerID, reason)
}

// Enqueue stages a tick-driven client message for the next simulation step.
func (h *Hub) Enqueue(playerID string, msg proto.ClientMessage) (sim.Command, bool, string) {
	command, ok := proto.ClientCommand(msg)
	if !ok {
		return sim.Command{}, false, CommandRejectInvalidCommand
	}
	if _, known := h.Handle(playerID); !known {
		return sim.Command{}, false, CommandRejectUnknownActor
	}
	command.ActorID = playerID
	command.IssuedAt = time.Now()
	if command.Heartbeat != nil {
		command.Heartbeat.ReceivedAt = command.IssuedAt
	}
	if ok, reason := h.loop.Enqueue(command); !ok {
		return sim.Command{}, false, reason
	}
	return command, true, ""
}

// UpdateHeartbeat records the most recent heartbeat time and RTT for a player.
func (h *Hub) UpdateHeartbeat(playerID string, receivedAt time.Time, clientSent int64) (time.Duration, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	state, ok := h.players[playerID]
	if !ok {
		return 0, false
	}
	state.lastHeartbeat = receivedAt
	if clientSent > 0 {
		clientTime := time.UnixMilli(clientSent)
		if clientTime.Before(receivedAt.Add(5 * time.Second)) {
			rtt := receivedAt.Sub(clientTime)
			if rtt < 0 {
				rtt = 0
			}
			state.lastRTT = rtt
		}
	}
	return state.lastRTT, true
}

// TimeSync answers a client's clock synchronisation request.
func (h *Hub) TimeSync(clientTime float64) proto.TimeSyncReply {
	reply := h.clock.Reply(clientTime)
	return proto.TimeSyncReply{Ver: proto.Version, Type: proto.TypeTimeSyncReply, ClientTime: reply.ClientTime, ServerTime: reply.ServerTime}
}

// RunSimulation drives the fixed-rate tick loop until ctx is cancelled.
func (h *Hub) RunSimulation(ctx context.Context) {
	h.loop.Run(ctx)
}

// Advance runs one tick synchronously. Tests use it to step the simulation
// without the ticker.
func (h *Hub) Advance(ctx context.Context, dt float64) sim.LoopStepResult {
	tick := h.loop.Tick() + 1
	result := h.loop.Advance(ctx, sim.LoopTickContext{Tick: tick, Now: h.clock.Now(), Delta: dt})
	h.afterStep(result)
	return result
}

// DiagnosticsPlayer is the per-player entry of the diagnostics endpoint.
type DiagnosticsPlayer struct {
	ID            string  `json:"id"`
	Handle        string  `json:"handle"`
	LastHeartbeat int64   `json:"lastHeartbeat"`
	RTTMillis     int64   `json:"rttMillis"`
	Health        float64 `json:"health"`
	HistoryOldest float64 `json:"historyOldest"`
	HistoryNewest float64 `json:"historyNewest"`
}

// DiagnosticsSnapshot exposes heartbeat and history data.
func (h *Hub) DiagnosticsSnapshot() []DiagnosticsPlayer {
	h.mu.Lock()
	states := make([]playerState, 0, len(h.players))
	for _, state := range h.players {
		states = append(states, *state)
	}
	h.mu.Unlock()

	players := make([]DiagnosticsPlayer, 0, len(states))
	for _, state := range states {
		entry := DiagnosticsPlayer{
			ID:            state.id,
			Handle:        state.handle.String(),
			LastHeartbeat: state.lastHeartbeat.UnixMilli(),
			RTTMillis:     state.lastRTT.Milliseconds(),
		}
		if character, ok := h.world.Resolve(state.handle); ok {
			entry.Health = character.Health()
		}
		if oldest, newest, ok := h.recorder.Span(state.handle); ok {
			entry.HistoryOldest = oldest
			entry.HistoryNewest = newest
		}
		players = append(players, entry)
	}
	return players
}

func (h *Hub) snapshot(tick uint64) proto.StateSnapshot {
	now := h.clock.Now()
	return proto.StateSnapshot{
		Ver:         proto.Version,
		Type:        proto.TypeState,
		Tick:        tick,
		ServerTime:  now,
		Characters:  h.world.States(now),
		Projectiles: proto.ProjectileStates(h.world.Projectiles()),
	}
}

func (h *Hub) afterStep(result sim.LoopStepResult) {
	h.BroadcastState(context.Background(), result.Tick)
}

// BroadcastState sends the latest world snapshot to every subscriber.
func (h *Hub) BroadcastState(ctx context.Context, tick uint64) {
	snapshot := h.snapshot(tick)

	h.mu.Lock()
	subs := make(map[string]*Subscriber, len(h.subscribers))
	for id, sub := range h.subscribers {
		subs[id] = sub
	}
	h.mu.Unlock()

	encoded := make(map[proto.Format][]byte, 2)
	for id, sub := range subs {
		data, ok := encoded[sub.format]
		if !ok {
			var err error
			data, err = proto.Encode(sub.format, snapshot)
			if err != nil {
				h.logger.Printf("failed to marshal state message: %v", err)
				return
			}
			encoded[sub.format] = data
		}
		if err := sub.WriteMessage(data); err != nil {
			h.logger.Printf("failed to send update to %s: %v", id, err)
			h.Disconnect(ctx, id, "write_failed")
		}
	}
}

// pruneStale disconnects players whose heartbeat lapsed.
func (h *Hub) pruneStale(ctx context.Context, now time.Time) {
	h.mu.Lock()
	var stale []string
	for id, state := range h.players {
		if now.Sub(state.lastHeartbeat) > h.cfg.HeartbeatTimeout {
			stale = append(stale, id)
		}
	}
	h.mu.Unlock()

	for _, id := range stale {
		h.logger.Printf("disconnecting %s due to heartbeat timeout", id)
		h.Disconnect(ctx, id, "heartbeat_timeout")
	}
}

// Subscriber is a player's outbound connection. Writes are serialised.
type Subscriber struct {
	conn   *websocket.Conn
	format proto.Format
	mu     sync.Mutex
	closed bool
}

// Format reports the frame encoding negotiated for the connection.
func (s *Subscriber) Format() proto.Format { return s.format }

// WriteMessage writes an already encoded frame.
func (s *Subscriber) WriteMessage(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.conn == nil {
		return websocket.ErrCloseSent
	}
	messageType := websocket.TextMessage
	if s.format == proto.FormatBinary {
		messageType = websocket.BinaryMessage
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(messageType, data)
}

// Send encodes msg in the subscriber's format and writes it.
func (s *Subscriber) Send(msg any) error {
	data, err := proto.Encode(s.format, msg)
	if err != nil {
		return err
	}
	return s.WriteMessage(data)
}

// Close closes the underlying connection once.
func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.conn != nil {
		s.conn.Close()
	}
}
