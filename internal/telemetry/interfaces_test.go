package telemetry

import (
	"bytes"
	"log"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestWrapLogger(t *testing.T) {
	t.Run("nil logger", func(t *testing.T) {
		logger := WrapLogger(nil)
		logger.Printf("ignored %d", 42)
	})

	t.Run("forwards to logger", func(t *testing.T) {
		var buf bytes.Buffer
		base := log.New(&buf, "", 0)
		logger := WrapLogger(base)
		logger.Printf("hello %s", "world")
		if got := buf.String(); got != "hello world\n" {
			t.Fatalf("unexpected log output: %q", got)
		}
	})
}

func TestPrometheusCountersAndGauges(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics, err := NewPrometheus(registry, "rewind")
	if err != nil {
		t.Fatalf("new prometheus: %v", err)
	}

	metrics.Add("sim_command_buffer_overflow_total", 2)
	metrics.Add("sim_command_buffer_overflow_total", 3)
	metrics.Store("sim_command_buffer_occupancy", 7)
	metrics.Store("sim_command_buffer_occupancy", 4)
	metrics.ObserveVerdict("rejected", "miss")
	metrics.ObserveVerdict("rejected", "miss")
	metrics.ObserveVerdict("accepted", "")

	if got := testutil.ToFloat64(metrics.counter("sim_command_buffer_overflow_total")); got != 5 {
		t.Fatalf("expected counter 5, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.gauge("sim_command_buffer_occupancy")); got != 4 {
		t.Fatalf("expected gauge 4, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.verdicts.WithLabelValues("rejected", "miss")); got != 2 {
		t.Fatalf("expected 2 misses, got %v", got)
	}

	// Ensure nil metrics do not panic.
	var nilMetrics *Prometheus
	nilMetrics.Add("ignored", 1)
	nilMetrics.Store("ignored", 1)
	nilMetrics.ObserveVerdict("ignored", "ignored")
}

func TestMetricName(t *testing.T) {
	cases := map[string]string{
		"sim.tick-duration": "sim_tick_duration",
		"9lives":            "_lives",
		"":                  "unnamed",
	}
	for in, want := range cases {
		if got := metricName(in); got != want {
			t.Fatalf("metricName(%q) = %q, want %q", in, got, want)
		}
	}
}
