package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestMetrics_RecordTransitionAndInstanceLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordInstanceStarted()
	m.RecordTransition("start", "approved", 5*time.Millisecond)
	m.RecordInstanceCompleted("approved")

	if got := counterValue(t, m.InstancesStarted); got != 1 {
		t.Fatalf("expected 1 started instance, got %v", got)
	}
	if got := counterValue(t, m.InstancesCompleted.WithLabelValues("approved")); got != 1 {
		t.Fatalf("expected 1 completed instance, got %v", got)
	}
	if got := counterValue(t, m.TransitionsTotal.WithLabelValues("start", "approved")); got != 1 {
		t.Fatalf("expected 1 transition, got %v", got)
	}
}

func TestMetrics_PausedGaugeAndTimeouts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SetPausedInstances(3)
	m.RecordTimeout("transition")

	var gm dto.Metric
	if err := m.PausedInstances.Write(&gm); err != nil {
		t.Fatalf("write gauge: %v", err)
	}
	if gm.GetGauge().GetValue() != 3 {
		t.Fatalf("expected paused gauge 3, got %v", gm.GetGauge().GetValue())
	}
	if got := counterValue(t, m.TimeoutsFiredTotal.WithLabelValues("transition")); got != 1 {
		t.Fatalf("expected 1 timeout fired, got %v", got)
	}
}

func TestMetrics_CustomGaugeAndCounterAreMemoized(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	g1 := m.Gauge("statewheel_custom_backlog", "backlog depth", "flow")
	g2 := m.Gauge("statewheel_custom_backlog", "backlog depth", "flow")
	if g1 != g2 {
		t.Fatal("expected repeated Gauge() calls to return the same collector")
	}

	c1 := m.Counter("statewheel_custom_events_total", "custom events", "flow")
	c2 := m.Counter("statewheel_custom_events_total", "custom events", "flow")
	if c1 != c2 {
		t.Fatal("expected repeated Counter() calls to return the same collector")
	}
}
