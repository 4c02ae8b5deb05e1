package sim

import (
	"context"
	"time"

	"rewind-arena/server/internal/telemetry"
)

// Clock supplies server time in seconds.
type Clock interface {
	Now() float64
}

// Deps carries the ambient collaborators of the loop.
type Deps struct {
	Logger  telemetry.Logger
	Metrics telemetry.Metrics
	Clock   Clock
}

// Engine is the simulation the loop drives: commands are applied first, then
// the world advances and history is recorded.
type Engine interface {
	Apply(ctx context.Context, tick uint64, now float64, cmds []Command)
	Step(ctx context.Context, tick uint64, dt, now float64)
}

// LoopTickContext describes the tick about to run.
type LoopTickContext struct {
	Tick  uint64
	Now   float64
	Delta float64
}

// LoopStepResult summarises a completed tick.
type LoopStepResult struct {
	Tick         uint64
	Now          float64
	Delta        float64
	Commands     []Command
	Duration     time.Duration
	Budget       time.Duration
	ClampedDelta bool
	MaxDelta     float64
}

// LoopHooks lets the owner observe the loop.
type LoopHooks struct {
	Prepare        func(LoopTickContext)
	AfterStep      func(LoopStepResult)
	OnCommandDrop  func(reason string, cmd Command)
	OnQueueWarning func(length int)
}
