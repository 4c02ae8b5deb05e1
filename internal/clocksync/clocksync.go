// Package clocksync provides the authoritative server clock and the client
// side estimate of it.
package clocksync

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// DefaultResyncInterval is how often a client asks for the server time.
const DefaultResyncInterval = 3.0

// ServerClock reports seconds elapsed since it was started. It is the single
// time source for recorded frames and sync replies.
type ServerClock struct {
	start time.Time
	since func(time.Time) time.Duration
}

// NewServerClock starts a clock at the current instant.
func NewServerClock() *ServerClock {
	return &ServerClock{start: time.Now(), since: time.Since}
}

// NewServerClockFunc starts a clock whose elapsed time is computed by since.
func NewServerClockFunc(start time.Time, since func(time.Time) time.Duration) *ServerClock {
	if since == nil {
		since = time.Since
	}
	return &ServerClock{start: start, since: since}
}

// Now returns the elapsed seconds.
func (c *ServerClock) Now() float64 {
	if c == nil {
		return 0
	}
	return c.since(c.start).Seconds()
}

// Sync is the reply to a client time-sync request.
type Sync struct {
	ClientTime float64 `json:"clientTime" msgpack:"clientTime"`
	ServerTime float64 `json:"serverTime" msgpack:"serverTime"`
}

// Reply echoes clientTime with the current server time.
func (c *ServerClock) Reply(clientTime float64) Sync {
	return Sync{ClientTime: clientTime, ServerTime: c.Now()}
}

// Estimator turns sync replies into a running server time estimate. It
// assumes symmetric latency, so one-way delay is half the round trip.
type Estimator struct {
	mu       sync.Mutex
	delta    float64
	synced   bool
	rtt      float64
	interval float64
	elapsed  float64
	rng      *rand.Rand
}

// NewEstimator constructs an estimator that asks for a resync roughly every
// interval seconds.
func NewEstimator(interval float64, rng *rand.Rand) *Estimator {
	if interval <= 0 {
		interval = DefaultResyncInterval
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Estimator{interval: interval, rng: rng}
}

// Observe folds a reply received at localNow into the estimate. Replies that
// arrive before they were sent are ignored.
func (e *Estimator) Observe(reply Sync, localNow float64) bool {
	rtt := localNow - reply.ClientTime
	if rtt < 0 || math.IsNaN(rtt) || math.IsInf(rtt, 0) || math.IsNaN(reply.ServerTime) {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rtt = rtt
	e.delta = reply.ServerTime + rtt/2 - localNow
	e.synced = true
	return true
}

// ServerTime estimates the server clock at localNow. Before the first reply
// it returns localNow unchanged.
func (e *Estimator) ServerTime(localNow float64) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return localNow + e.delta
}

// RoundTrip reports the last measured round trip and whether any reply has
// been observed.
func (e *Estimator) RoundTrip() (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rtt, e.synced
}

// Due advances the resync timer by dt and reports whether a new request
// should be sent. The timer restarts at a random offset in [-1, 1) seconds so
// clients do not resync in lockstep.
func (e *Estimator) Due(dt float64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.elapsed += dt
	if e.elapsed <= e.interval {
		return false
	}
	e.elapsed = e.rng.Float64()*2 - 1
	return true
}
