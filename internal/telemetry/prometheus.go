package telemetry

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus backs the Metrics interface with lazily registered Prometheus
// counters (Add) and gauges (Store). Keys become metric names under the
// configured namespace.
type Prometheus struct {
	mu        sync.Mutex
	registry  prometheus.Registerer
	namespace string
	counters  map[string]prometheus.Counter
	gauges    map[string]prometheus.Gauge
	verdicts  *prometheus.CounterVec
}

// NewPrometheus registers the verdict vector on registry and returns the
// adapter.
func NewPrometheus(registry prometheus.Registerer, namespace string) (*Prometheus, error) {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	verdicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "hit_verifications_total",
		Help:      "Hit claims processed by the rewind verifier, by outcome and reason.",
	}, []string{"outcome", "reason"})
	if err := registry.Register(verdicts); err != nil {
		return nil, err
	}
	return &Prometheus{
		registry:  registry,
		namespace: namespace,
		counters:  make(map[string]prometheus.Counter),
		gauges:    make(map[string]prometheus.Gauge),
		verdicts:  verdicts,
	}, nil
}

// Add increments the counter named key.
func (p *Prometheus) Add(key string, delta uint64) {
	if p == nil {
		return
	}
	if counter := p.counter(key); counter != nil {
		counter.Add(float64(delta))
	}
}

// Store sets the gauge named key.
func (p *Prometheus) Store(key string, value uint64) {
	if p == nil {
		return
	}
	if gauge := p.gauge(key); gauge != nil {
		gauge.Set(float64(value))
	}
}

// ObserveVerdict counts one verification outcome.
func (p *Prometheus) ObserveVerdict(outcome, reason string) {
	if p == nil {
		return
	}
	p.verdicts.WithLabelValues(outcome, reason).Inc()
}

func (p *Prometheus) counter(key string) prometheus.Counter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if counter, ok := p.counters[key]; ok {
		return counter
	}
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: p.namespace,
		Name:      metricName(key),
		Help:      "Counter for " + key + ".",
	})
	if err := p.registry.Register(counter); err != nil {
		existing, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil
		}
		counter, ok = existing.ExistingCollector.(prometheus.Counter)
		if !ok {
			return nil
		}
	}
	p.counters[key] = counter
	return counter
}

func (p *Prometheus) gauge(key string) prometheus.Gauge {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gauge, ok := p.gauges[key]; ok {
		return gauge
	}
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: p.namespace,
		Name:      metricName(key),
		Help:      "Gauge for " + key + ".",
	})
	if err := p.registry.Register(gauge); err != nil {
		existing, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil
		}
		gauge, ok = existing.ExistingCollector.(prometheus.Gauge)
		if !ok {
			return nil
		}
	}
	p.gauges[key] = gauge
	return gauge
}

// metricName maps arbitrary keys onto the Prometheus name alphabet.
func metricName(key string) string {
	var b strings.Builder
	for i, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r == ':':
			b.WriteRune(r)
		case r >= '0' && r <= '9' && i > 0:
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "unnamed"
	}
	return b.String()
}
