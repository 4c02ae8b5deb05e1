package sim

import (
	"sync"
	"testing"
)

type countingMetrics struct {
	mu     sync.Mutex
	counts map[string]uint64
	gauges map[string]uint64
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{counts: make(map[string]uint64), gauges: make(map[string]uint64)}
}

func (m *countingMetrics) Add(key string, delta uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[key] += delta
}

func (m *countingMetrics) Store(key string, value uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[key] = value
}

func (m *countingMetrics) count(key string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[key]
}

func (m *countingMetrics) gauge(key string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gauges[key]
}

func TestCommandBufferKeepsArrivalOrderAcrossWrap(t *testing.T) {
	buffer := NewCommandBuffer(3, nil)
	first := []Command{
		{ActorID: "a", Type: CommandDodge},
		{ActorID: "b", Type: CommandFire},
	}
	for _, cmd := range first {
		if got := buffer.Push(cmd, 0); got != StageAppended {
			t.Fatalf("expected %+v appended, got %v", cmd, got)
		}
	}
	buffer.Drain()

	// the ring now starts at slot 2, so the next three wrap
	second := []Command{
		{ActorID: "c", Type: CommandFire},
		{ActorID: "d", Type: CommandDodge},
		{ActorID: "e", Type: CommandFire},
	}
	for _, cmd := range second {
		buffer.Push(cmd, 0)
	}
	if got := buffer.Push(Command{ActorID: "f", Type: CommandFire}, 0); got != StageRejected {
		t.Fatalf("expected full ring to reject, got %v", got)
	}
	drained := buffer.Drain()
	if len(drained) != len(second) {
		t.Fatalf("expected %d commands, got %d", len(second), len(drained))
	}
	for i, cmd := range drained {
		if cmd.ActorID != second[i].ActorID {
			t.Fatalf("expected drain order %v, got %v", second[i].ActorID, cmd.ActorID)
		}
	}
}

func TestCommandBufferCoalescesMoves(t *testing.T) {
	metrics := newCountingMetrics()
	buffer := NewCommandBuffer(4, metrics)
	buffer.Push(Command{ActorID: "a", Type: CommandMove, Move: &MoveCommand{DX: 1}}, 0)
	buffer.Push(Command{ActorID: "a", Type: CommandFire}, 0)
	if got := buffer.Push(Command{ActorID: "a", Type: CommandMove, Move: &MoveCommand{DX: -1}}, 0); got != StageCoalesced {
		t.Fatalf("expected second move to coalesce, got %v", got)
	}
	buffer.Push(Command{ActorID: "b", Type: CommandMove, Move: &MoveCommand{DY: 1}}, 0)

	drained := buffer.Drain()
	if len(drained) != 3 {
		t.Fatalf("expected 3 staged commands, got %d", len(drained))
	}
	if drained[0].Move.DX != -1 || drained[1].Type != CommandFire || drained[2].ActorID != "b" {
		t.Fatalf("unexpected drain %+v", drained)
	}
	if got := metrics.count(commandBufferCoalescedMetricKey); got != 1 {
		t.Fatalf("expected one coalesced move, got %d", got)
	}

	if got := buffer.Push(Command{ActorID: "a", Type: CommandMove}, 0); got != StageAppended {
		t.Fatalf("expected moves to stop coalescing after a drain, got %v", got)
	}
}

func TestCommandBufferActorLimit(t *testing.T) {
	buffer := NewCommandBuffer(8, nil)
	buffer.Push(Command{ActorID: "a", Type: CommandFire}, 2)
	buffer.Push(Command{ActorID: "a", Type: CommandDodge}, 2)
	if got := buffer.Push(Command{ActorID: "a", Type: CommandFire}, 2); got != StageLimited {
		t.Fatalf("expected actor limit, got %v", got)
	}
	if got := buffer.Push(Command{ActorID: "b", Type: CommandFire}, 2); got != StageAppended {
		t.Fatalf("expected other actors unaffected, got %v", got)
	}
	buffer.Drain()
	if got := buffer.Push(Command{ActorID: "a", Type: CommandFire}, 2); got != StageAppended {
		t.Fatalf("expected the limit to reset after a drain, got %v", got)
	}
}

func TestCommandBufferMetrics(t *testing.T) {
	metrics := newCountingMetrics()
	buffer := NewCommandBuffer(1, metrics)
	if got := buffer.Push(Command{ActorID: "one"}, 0); got != StageAppended {
		t.Fatalf("expected initial push to succeed")
	}
	if got := metrics.gauge(commandBufferOccupancyMetricKey); got != 1 {
		t.Fatalf("expected occupancy 1, got %d", got)
	}
	if got := buffer.Push(Command{ActorID: "two"}, 0); got != StageRejected {
		t.Fatalf("expected push to fail when capacity exceeded")
	}
	if got := metrics.count(commandBufferOverflowMetricKey); got != 1 {
		t.Fatalf("expected one overflow, got %d", got)
	}
	drained := buffer.Drain()
	if len(drained) != 1 || drained[0].ActorID != "one" {
		t.Fatalf("unexpected drained commands: %+v", drained)
	}
	if got := metrics.gauge(commandBufferOccupancyMetricKey); got != 0 {
		t.Fatalf("expected occupancy 0 after drain, got %d", got)
	}
}
