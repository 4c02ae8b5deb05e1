package sim

import (
	"sync"

	"rewind-arena/server/internal/telemetry"
)

const (
	commandBufferOccupancyMetricKey = "sim_command_buffer_occupancy"
	commandBufferOverflowMetricKey  = "sim_command_buffer_overflow_total"
	commandBufferCoalescedMetricKey = "sim_command_buffer_coalesced_total"
)

// StageResult reports what happened to a pushed command.
type StageResult int

const (
	// StageRejected means the ring was full.
	StageRejected StageResult = iota
	// StageLimited means the actor already holds its share of the ring.
	StageLimited
	// StageAppended means the command took a new slot.
	StageAppended
	// StageCoalesced means the command replaced the actor's staged move.
	StageCoalesced
)

// CommandBuffer holds commands staged by session goroutines until the next
// tick drains them. Only the newest move per actor is kept, in the slot of
// the first one. Safe for concurrent producers and one consumer.
type CommandBuffer struct {
	mu      sync.Mutex
	ring    []Command
	start   int
	size    int
	moves   map[string]int
	staged  map[string]int
	metrics telemetry.Metrics
}

// NewCommandBuffer constructs a buffer holding at most capacity commands.
func NewCommandBuffer(capacity int, metrics telemetry.Metrics) *CommandBuffer {
	if metrics == nil {
		metrics = telemetry.NopMetrics{}
	}
	return &CommandBuffer{
		ring:    make([]Command, max(capacity, 1)),
		moves:   make(map[string]int),
		staged:  make(map[string]int),
		metrics: metrics,
	}
}

// Capacity reports the maximum number of staged commands.
func (b *CommandBuffer) Capacity() int {
	if b == nil {
		return 0
	}
	return len(b.ring)
}

// Push stages cmd. A positive actorLimit caps how many slots one actor may
// hold; a coalesced move never counts against it.
func (b *CommandBuffer) Push(cmd Command, actorLimit int) StageResult {
	if b == nil {
		return StageRejected
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if cmd.Type == CommandMove && cmd.ActorID != "" {
		if slot, ok := b.moves[cmd.ActorID]; ok {
			b.ring[slot] = cmd
			b.metrics.Add(commandBufferCoalescedMetricKey, 1)
			return StageCoalesced
		}
	}
	if actorLimit > 0 && cmd.ActorID != "" && b.staged[cmd.ActorID] >= actorLimit {
		return StageLimited
	}
	if b.size == len(b.ring) {
		b.metrics.Add(commandBufferOverflowMetricKey, 1)
		return StageRejected
	}
	slot := (b.start + b.size) % len(b.ring)
	b.ring[slot] = cmd
	b.size++
	if cmd.ActorID != "" {
		b.staged[cmd.ActorID]++
	}
	if cmd.Type == CommandMove && cmd.ActorID != "" {
		b.moves[cmd.ActorID] = slot
	}
	b.metrics.Store(commandBufferOccupancyMetricKey, uint64(b.size))
	return StageAppended
}

// Drain returns the staged commands in arrival order and empties the buffer.
func (b *CommandBuffer) Drain() []Command {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.size == 0 {
		return nil
	}
	out := make([]Command, 0, b.size)
	for i := range b.size {
		slot := (b.start + i) % len(b.ring)
		out = append(out, b.ring[slot])
		b.ring[slot] = Command{}
	}
	b.start = (b.start + b.size) % len(b.ring)
	b.size = 0
	clear(b.moves)
	clear(b.staged)
	b.metrics.Store(commandBufferOccupancyMetricKey, 0)
	return out
}

// Len reports the number of staged commands.
func (b *CommandBuffer) Len() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}
