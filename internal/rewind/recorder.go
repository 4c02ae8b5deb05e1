package rewind

import (
	"context"
	"errors"
	"sync"

	"rewind-arena/server/internal/handle"
	"rewind-arena/server/internal/telemetry"
	"rewind-arena/server/logging"
	loggingrewind "rewind-arena/server/logging/rewind"
)

const (
	framesRecordedMetricKey = "rewind_frames_recorded_total"
	framesSkippedMetricKey  = "rewind_frames_skipped_total"
	trackedMetricKey        = "rewind_tracked_characters"
)

// Role describes how this process relates to the characters it simulates.
// Only the authoritative server records history.
type Role int

const (
	RoleAuthoritative Role = iota
	RoleClient
	RoleSimulatedProxy
)

func (r Role) String() string {
	switch r {
	case RoleAuthoritative:
		return "authoritative"
	case RoleClient:
		return "client"
	case RoleSimulatedProxy:
		return "simulated_proxy"
	default:
		return "unknown"
	}
}

// Recorder samples tracked characters once per tick and owns their histories.
// Histories are mutated only under the owning character's lock.
type Recorder struct {
	mu        sync.RWMutex
	role      Role
	capacity  int
	registry  Registry
	histories map[handle.Handle]*History
	publisher logging.Publisher
	metrics   telemetry.Metrics
}

// RecorderOption customises a Recorder.
type RecorderOption func(*Recorder)

// WithRecorderPublisher routes skip events to pub.
func WithRecorderPublisher(pub logging.Publisher) RecorderOption {
	return func(r *Recorder) {
		if pub != nil {
			r.publisher = pub
		}
	}
}

// WithRecorderMetrics reports frame counters to metrics.
func WithRecorderMetrics(metrics telemetry.Metrics) RecorderOption {
	return func(r *Recorder) {
		if metrics != nil {
			r.metrics = metrics
		}
	}
}

// NewRecorder constructs a recorder retaining capacity frames per character.
func NewRecorder(role Role, capacity int, registry Registry, opts ...RecorderOption) *Recorder {
	if capacity < 1 {
		capacity = DefaultHistoryFrames
	}
	r := &Recorder{
		role:      role,
		capacity:  capacity,
		registry:  registry,
		histories: make(map[handle.Handle]*History),
		publisher: logging.NopPublisher(),
		metrics:   telemetry.NopMetrics{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Role reports the recorder's role.
func (r *Recorder) Role() Role {
	return r.role
}

// Enabled reports whether the recorder captures frames at all.
func (r *Recorder) Enabled() bool {
	return r != nil && r.role == RoleAuthoritative && r.registry != nil
}

// Capacity reports the per-character ring size.
func (r *Recorder) Capacity() int {
	return r.capacity
}

// Track starts recording h. It is a no-op for disabled recorders and for
// handles already tracked.
func (r *Recorder) Track(h handle.Handle) bool {
	if !r.Enabled() || h.IsZero() {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.histories[h]; exists {
		return false
	}
	r.histories[h] = NewHistory(r.capacity)
	r.metrics.Store(trackedMetricKey, uint64(len(r.histories)))
	return true
}

// Untrack stops recording h and discards its history.
func (r *Recorder) Untrack(h handle.Handle) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.histories, h)
	r.metrics.Store(trackedMetricKey, uint64(len(r.histories)))
}

// Tracked reports how many characters have a history.
func (r *Recorder) Tracked() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.histories)
}

// Record appends one frame stamped now for every tracked character. Characters
// whose handle no longer resolves are skipped without touching their history.
// It returns the number of frames appended.
func (r *Recorder) Record(ctx context.Context, tick uint64, now float64) int {
	if !r.Enabled() {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	recorded := 0
	for h, history := range r.histories {
		target, ok := r.registry.Lookup(h)
		if !ok {
			r.skip(ctx, tick, h, "unresolved")
			continue
		}
		target.Lock()
		err := history.Append(capture(target, now))
		target.Unlock()
		if err != nil {
			reason := "append_failed"
			if errors.Is(err, ErrNonMonotonic) {
				reason = "non_monotonic"
			}
			r.skip(ctx, tick, h, reason)
			continue
		}
		recorded++
	}
	if recorded > 0 {
		r.metrics.Add(framesRecordedMetricKey, uint64(recorded))
	}
	return recorded
}

func (r *Recorder) skip(ctx context.Context, tick uint64, h handle.Handle, reason string) {
	r.metrics.Add(framesSkippedMetricKey, 1)
	loggingrewind.FrameSkipped(ctx, r.publisher, tick, loggingrewind.FrameSkippedPayload{Handle: h.String(), Reason: reason}, nil)
}

// history returns the ring for h. The caller must hold h's lock before
// reading it.
func (r *Recorder) history(h handle.Handle) (*History, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	history, ok := r.histories[h]
	return history, ok
}

// Locate resolves target's history at timestamp. See Locate.
func (r *Recorder) Locate(target handle.Handle, timestamp float64) FrameSnapshot {
	history, ok := r.history(target)
	if !ok {
		return InvalidFrame()
	}
	live, ok := r.registry.Lookup(target)
	if !ok {
		return InvalidFrame()
	}
	live.Lock()
	defer live.Unlock()
	return Locate(history, timestamp)
}

// Span reports the retained time window for target.
func (r *Recorder) Span(target handle.Handle) (oldest, newest float64, ok bool) {
	history, found := r.history(target)
	if !found {
		return 0, 0, false
	}
	live, found := r.registry.Lookup(target)
	if !found {
		return 0, 0, false
	}
	live.Lock()
	defer live.Unlock()
	return history.Span()
}
