package sim

import (
	"context"
	"sync"
	"time"

	"rewind-arena/server/internal/telemetry"
)

const (
	// CommandRejectQueueLimit indicates a command was dropped due to per-actor
	// queue throttling.
	CommandRejectQueueLimit = "queue_limit"
	// CommandRejectQueueFull indicates the global command buffer is saturated.
	CommandRejectQueueFull = "queue_full"

	DefaultTickRate = 60

	loopTicksMetricKey           = "sim_ticks_total"
	loopClampedTicksMetricKey    = "sim_ticks_clamped_total"
	loopCommandsDroppedMetricKey = "sim_commands_dropped_total"
)

// LoopConfig tunes the command buffer and tick loop orchestration.
type LoopConfig struct {
	TickRate        int
	CatchupMaxTicks int
	CommandCapacity int
	PerActorLimit   int
	WarningStep     int
}

// DefaultLoopConfig returns the standard 60Hz configuration.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		TickRate:        DefaultTickRate,
		CatchupMaxTicks: 4,
		CommandCapacity: 1024,
		PerActorLimit:   32,
		WarningStep:     256,
	}
}

// Loop coordinates command ingestion and the fixed-timestep simulation runner.
type Loop struct {
	engine  Engine
	buffer  *CommandBuffer
	hooks   LoopHooks
	config  LoopConfig
	logger  telemetry.Logger
	metrics telemetry.Metrics
	clock   Clock

	queueMu    sync.Mutex
	dropCounts map[string]uint64

	tick uint64
}

// NewLoop wraps engine with a ring-buffer queue and a fixed-step runner.
func NewLoop(engine Engine, cfg LoopConfig, deps Deps, hooks LoopHooks) *Loop {
	if engine == nil {
		return nil
	}
	if cfg.TickRate <= 0 {
		cfg.TickRate = DefaultTickRate
	}
	if cfg.CommandCapacity <= 0 {
		cfg.CommandCapacity = DefaultLoopConfig().CommandCapacity
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = telemetry.NopMetrics{}
	}
	return &Loop{
		engine:     engine,
		buffer:     NewCommandBuffer(cfg.CommandCapacity, metrics),
		hooks:      hooks,
		config:     cfg,
		logger:     deps.Logger,
		metrics:    metrics,
		clock:      deps.Clock,
		dropCounts: make(map[string]uint64),
	}
}

// Config reports the effective loop configuration.
func (l *Loop) Config() LoopConfig {
	if l == nil {
		return LoopConfig{}
	}
	return l.config
}

// Tick reports the last tick the loop advanced.
func (l *Loop) Tick() uint64 {
	if l == nil {
		return 0
	}
	l.queueMu.Lock()
	defer l.queueMu.Unlock()
	return l.tick
}

// Pending reports the number of staged commands.
func (l *Loop) Pending() int {
	if l == nil {
		return 0
	}
	return l.buffer.Len()
}

// Enqueue stages a command, enforcing per-actor throttling and capacity limits.
func (l *Loop) Enqueue(cmd Command) (bool, string) {
	if l == nil {
		return false, CommandRejectQueueFull
	}
	l.queueMu.Lock()
	if cmd.OriginTick == 0 {
		cmd.OriginTick = l.tick
	}
	var reason string
	var dropCount uint64
	switch l.buffer.Push(cmd, l.config.PerActorLimit) {
	case StageLimited:
		reason = CommandRejectQueueLimit
		dropCount = l.incrementDropLocked(cmd.ActorID)
	case StageRejected:
		reason = CommandRejectQueueFull
		dropCount = l.incrementDropLocked(cmd.ActorID)
	case StageAppended:
		if step := l.config.WarningStep; step > 0 {
			if length := l.buffer.Len(); length >= step && length%step == 0 {
				l.queueMu.Unlock()
				l.warnQueue(length)
				return true, ""
			}
		}
	}
	l.queueMu.Unlock()
	if reason != "" {
		l.reportDrop(reason, cmd, dropCount)
		return false, reason
	}
	return true, ""
}

// Advance executes a single simulation step using the staged commands.
func (l *Loop) Advance(ctx context.Context, tick LoopTickContext) LoopStepResult {
	if l == nil {
		return LoopStepResult{}
	}
	commands := l.drainCommands(tick.Tick)
	if l.hooks.Prepare != nil {
		l.hooks.Prepare(tick)
	}
	l.engine.Apply(ctx, tick.Tick, tick.Now, commands)
	l.engine.Step(ctx, tick.Tick, tick.Delta, tick.Now)
	l.metrics.Add(loopTicksMetricKey, 1)
	return LoopStepResult{
		Tick:     tick.Tick,
		Now:      tick.Now,
		Delta:    tick.Delta,
		Commands: commands,
	}
}

// Run drives the fixed-timestep loop until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	if l == nil {
		return
	}
	tickRate := l.config.TickRate
	budgetDuration := time.Second / time.Duration(tickRate)
	ticker := time.NewTicker(budgetDuration)
	defer ticker.Stop()

	clock := l.clock
	if clock == nil {
		start := time.Now()
		clock = clockFunc(func() float64 { return time.Since(start).Seconds() })
	}
	last := clock.Now()
	budgetSeconds := 1.0 / float64(tickRate)
	maxDt := budgetSeconds
	if l.config.CatchupMaxTicks > 1 {
		maxDt = budgetSeconds * float64(l.config.CatchupMaxTicks)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := clock.Now()
			dt, clamped := clampDelta(now-last, budgetSeconds, maxDt)
			last = now

			started := time.Now()
			result := l.Advance(ctx, LoopTickContext{Tick: l.nextTick(), Now: now, Delta: dt})
			result.Duration = time.Since(started)
			result.Budget = budgetDuration
			result.ClampedDelta = clamped
			result.MaxDelta = maxDt
			if clamped {
				l.metrics.Add(loopClampedTicksMetricKey, 1)
			}
			if result.Duration > budgetDuration && l.logger != nil {
				l.logger.Printf("[sim] tick %d overran budget: %s > %s", result.Tick, result.Duration, budgetDuration)
			}

			if l.hooks.AfterStep != nil {
				l.hooks.AfterStep(result)
			}
		}
	}
}

// clampDelta keeps dt within one budget for stalls of zero and catch-up
// bursts above maxDt.
func clampDelta(dt, budget, maxDt float64) (float64, bool) {
	if dt <= 0 {
		return budget, false
	}
	if dt > maxDt {
		return maxDt, true
	}
	return dt, false
}

type clockFunc func() float64

func (f clockFunc) Now() float64 { return f() }

func (l *Loop) nextTick() uint64 {
	l.queueMu.Lock()
	defer l.queueMu.Unlock()
	return l.tick + 1
}

func (l *Loop) drainCommands(tick uint64) []Command {
	l.queueMu.Lock()
	defer l.queueMu.Unlock()
	commands := l.buffer.Drain()
	if tick > l.tick {
		l.tick = tick
	}
	return commands
}

func (l *Loop) incrementDropLocked(actorID string) uint64 {
	if actorID == "" {
		return 0
	}
	count := l.dropCounts[actorID] + 1
	l.dropCounts[actorID] = count
	return count
}

func (l *Loop) warnQueue(length int) {
	if l.hooks.OnQueueWarning != nil {
		l.hooks.OnQueueWarning(length)
	}
}

func (l *Loop) reportDrop(reason string, cmd Command, count uint64) {
	l.metrics.Add(loopCommandsDroppedMetricKey, 1)
	if l.hooks.OnCommandDrop != nil {
		l.hooks.OnCommandDrop(reason, cmd)
	}
	if count > 0 && count&(count-1) == 0 && l.logger != nil {
		l.logger.Printf(
			"[backpressure] dropping command actor=%s type=%s reason=%s count=%d limit=%d",
			cmd.ActorID,
			cmd.Type,
			reason,
			count,
			l.config.PerActorLimit,
		)
	}
}
