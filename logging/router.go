package logging

import (
	"context"
	"io"
	"log"
	"maps"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"rewind-arena/server/internal/telemetry"
)

const (
	eventsMetricKey      = "logging_events_total"
	droppedMetricKey     = "logging_events_dropped_total"
	sinkDroppedMetricKey = "logging_sink_events_dropped_total"

	defaultSinkBuffer = 32
	maxSinkBuffer     = 1024
	maxRetryBackoff   = 32 * time.Second
)

type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time {
	return f()
}

type Sink interface {
	Write(Event) error
	Close(context.Context) error
}

type NamedSink struct {
	Name string
	Sink Sink
}

// Router fans published events out to every configured sink. Publish never
// blocks the tick or a verification: a full queue drops the event and counts
// it.
type Router struct {
	cfg      Config
	clock    Clock
	fallback *log.Logger
	metrics  telemetry.Metrics

	queue  chan Event
	stop   chan struct{}
	closed atomic.Bool
	wg     sync.WaitGroup
	sinks  []*sinkWorker

	forwarded atomic.Uint64
	dropped   atomic.Uint64
	nextWarn  atomic.Int64
}

type RouterStats struct {
	EventsTotal  uint64
	DroppedTotal uint64
	SinkDrops    map[string]uint64
}

// RouterOption customises router construction.
type RouterOption func(*Router)

// WithFallbackWriter redirects the router's own diagnostics.
func WithFallbackWriter(w io.Writer) RouterOption {
	return func(r *Router) {
		if w == nil {
			w = io.Discard
		}
		r.fallback = log.New(w, "[logging] ", log.LstdFlags)
	}
}

// WithRouterMetrics reports forwarded and dropped event counts.
func WithRouterMetrics(metrics telemetry.Metrics) RouterOption {
	return func(r *Router) {
		if metrics != nil {
			r.metrics = metrics
		}
	}
}

func NewRouter(clock Clock, cfg Config, namedSinks []NamedSink, opts ...RouterOption) (*Router, error) {
	if clock == nil {
		clock = ClockFunc(time.Now)
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	cfg.Fields = cfg.CloneFields()
	cfg.CategorySeverity = maps.Clone(cfg.CategorySeverity)
	r := &Router{
		cfg:      cfg,
		clock:    clock,
		fallback: log.New(os.Stderr, "[logging] ", log.LstdFlags),
		metrics:  telemetry.NopMetrics{},
		queue:    make(chan Event, cfg.BufferSize),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	perSink := min(max(cfg.BufferSize, defaultSinkBuffer), maxSinkBuffer)
	for _, named := range namedSinks {
		if named.Sink == nil {
			continue
		}
		worker := &sinkWorker{
			name:     named.Name,
			sink:     named.Sink,
			events:   make(chan Event, perSink),
			fallback: r.fallback,
			metrics:  r.metrics,
		}
		r.sinks = append(r.sinks, worker)
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			worker.run()
		}()
	}

	r.wg.Add(1)
	go r.dispatch()
	return r, nil
}

// dispatch moves events from the shared queue to the sink workers until
// Close, then flushes what is left.
func (r *Router) dispatch() {
	defer r.wg.Done()
	defer func() {
		for _, worker := range r.sinks {
			close(worker.events)
		}
	}()
	for {
		select {
		case event := <-r.queue:
			r.forward(event)
		case <-r.stop:
			for {
				select {
				case event := <-r.queue:
					r.forward(event)
				default:
					return
				}
			}
		}
	}
}

func (r *Router) forward(event Event) {
	if event.Severity < r.cfg.Threshold(event.Category) {
		return
	}
	if event.Time.IsZero() {
		event.Time = r.clock.Now()
	}
	event = mergeFields(event, r.cfg.Fields)
	r.forwarded.Add(1)
	r.metrics.Add(eventsMetricKey, 1)
	for _, worker := range r.sinks {
		worker.enqueue(event)
	}
}

func (r *Router) Publish(ctx context.Context, event Event) {
	if event.Type == "" || r.closed.Load() {
		return
	}
	select {
	case r.queue <- event:
	default:
		r.drop(event)
	}
}

// drop counts a queue overflow and warns at most once per DropWarnInterval.
func (r *Router) drop(event Event) {
	r.dropped.Add(1)
	r.metrics.Add(droppedMetricKey, 1)
	interval := r.cfg.DropWarnInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	now := time.Now().UnixNano()
	next := r.nextWarn.Load()
	if now >= next && r.nextWarn.CompareAndSwap(next, now+interval.Nanoseconds()) {
		r.fallback.Printf("queue full, dropping %s (tick %d, %d dropped so far)", event.Type, event.Tick, r.dropped.Load())
	}
}

// Close stops accepting events, flushes queued ones to the sinks and closes
// every sink. A second call waits for ctx.
func (r *Router) Close(ctx context.Context) error {
	if !r.closed.CompareAndSwap(false, true) {
		<-ctx.Done()
		return ctx.Err()
	}
	close(r.stop)

	flushed := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(flushed)
	}()
	select {
	case <-flushed:
	case <-ctx.Done():
		return ctx.Err()
	}

	var firstErr error
	for _, worker := range r.sinks {
		if err := worker.sink.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Router) Stats() RouterStats {
	stats := RouterStats{
		EventsTotal:  r.forwarded.Load(),
		DroppedTotal: r.dropped.Load(),
	}
	if len(r.sinks) > 0 {
		stats.SinkDrops = make(map[string]uint64, len(r.sinks))
		for _, worker := range r.sinks {
			stats.SinkDrops[worker.name] = worker.dropped.Load()
		}
	}
	return stats
}

// Sink returns the sink registered under name, or nil.
func (r *Router) Sink(name string) Sink {
	for _, worker := range r.sinks {
		if worker.name == name {
			return worker.sink
		}
	}
	return nil
}

// sinkWorker serialises writes to one sink and backs off after failures so a
// broken file or terminal cannot spin the CPU.
type sinkWorker struct {
	name     string
	sink     Sink
	events   chan Event
	fallback *log.Logger
	metrics  telemetry.Metrics
	dropped  atomic.Uint64

	failures int
	retryAt  time.Time
}

func (w *sinkWorker) enqueue(event Event) {
	select {
	case w.events <- cloneEvent(event):
	default:
		w.dropped.Add(1)
		w.metrics.Add(sinkDroppedMetricKey, 1)
		w.fallback.Printf("sink %s backlog full, dropping %s", w.name, event.Type)
	}
}

func (w *sinkWorker) run() {
	for event := range w.events {
		if w.failures > 0 {
			if wait := time.Until(w.retryAt); wait > 0 {
				time.Sleep(wait)
			}
		}
		if err := w.sink.Write(event); err != nil {
			w.failures++
			backoff := min(time.Duration(1<<min(w.failures, 5))*time.Second, maxRetryBackoff)
			w.retryAt = time.Now().Add(backoff)
			w.fallback.Printf("sink %s failed: %v (retry in %s)", w.name, err, backoff)
			continue
		}
		w.failures = 0
	}
}
