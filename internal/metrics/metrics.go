// Package metrics exposes Prometheus instrumentation for the engine and
// executor, grounded on the teacher's pkg/observability/prometheus/metrics.go
// (same promauto/registerer pattern, renamed to this domain's concerns).
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DefaultRegistry is the package-level Prometheus registry.
	DefaultRegistry = prometheus.NewRegistry()

	// DefaultRegisterer namespaces all metrics under a "service" label.
	DefaultRegisterer = prometheus.WrapRegistererWith(prometheus.Labels{"service": "statewheel"}, DefaultRegistry)

	metricsOnce sync.Once
	metrics     *Metrics
)

// Metrics holds every gauge/counter/histogram the engine and executor
// publish (spec.md §3 domain-stack: instance counts, transitions/sec,
// paused gauge, timeout-monitor tick duration).
type Metrics struct {
	InstancesStarted    prometheus.Counter
	InstancesCompleted  *prometheus.CounterVec // label: final_state
	TransitionsTotal    *prometheus.CounterVec // labels: from, to
	TransitionDuration  prometheus.Histogram
	HandlerErrorsTotal  *prometheus.CounterVec // label: state
	PausedInstances     prometheus.Gauge
	TimeoutsFiredTotal  *prometheus.CounterVec // label: action
	TimeoutSweepSeconds prometheus.Histogram
	HTTPRequestsTotal   *prometheus.CounterVec // labels: method, path, status
	HTTPRequestDuration *prometheus.HistogramVec

	customMu  sync.RWMutex
	gauges    map[string]*prometheus.GaugeVec
	counters  map[string]*prometheus.CounterVec
}

// Get returns the process-wide Metrics instance, building it on first use.
func Get() *Metrics {
	metricsOnce.Do(func() {
		metrics = New(DefaultRegisterer)
	})
	return metrics
}

// New constructs a Metrics bound to registerer (nil uses DefaultRegisterer;
// tests typically pass a fresh prometheus.NewRegistry() to avoid collisions).
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = DefaultRegisterer
	}
	return &Metrics{
		InstancesStarted: promauto.With(registerer).NewCounter(prometheus.CounterOpts{
			Name: "statewheel_instances_started_total",
			Help: "Total number of workflow instances started.",
		}),
		InstancesCompleted: promauto.With(registerer).NewCounterVec(prometheus.CounterOpts{
			Name: "statewheel_instances_completed_total",
			Help: "Total number of workflow instances reaching a terminal state.",
		}, []string{"final_state"}),
		TransitionsTotal: promauto.With(registerer).NewCounterVec(prometheus.CounterOpts{
			Name: "statewheel_transitions_total",
			Help: "Total number of state transitions taken.",
		}, []string{"from", "to"}),
		TransitionDuration: promauto.With(registerer).NewHistogram(prometheus.HistogramOpts{
			Name:    "statewheel_transition_duration_seconds",
			Help:    "Time taken to process one event, from handler invocation to persisted transition.",
			Buckets: prometheus.DefBuckets,
		}),
		HandlerErrorsTotal: promauto.With(registerer).NewCounterVec(prometheus.CounterOpts{
			Name: "statewheel_handler_errors_total",
			Help: "Total number of handler invocation errors by state.",
		}, []string{"state"}),
		PausedInstances: promauto.With(registerer).NewGauge(prometheus.GaugeOpts{
			Name: "statewheel_paused_instances",
			Help: "Current number of instances parked awaiting external resumption.",
		}),
		TimeoutsFiredTotal: promauto.With(registerer).NewCounterVec(prometheus.CounterOpts{
			Name: "statewheel_timeouts_fired_total",
			Help: "Total number of pause timeouts that fired, by configured action kind.",
		}, []string{"action"}),
		TimeoutSweepSeconds: promauto.With(registerer).NewHistogram(prometheus.HistogramOpts{
			Name:    "statewheel_timeout_sweep_seconds",
			Help:    "Duration of each timeout-monitor sweep over paused instances.",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
		}),
		HTTPRequestsTotal: promauto.With(registerer).NewCounterVec(prometheus.CounterOpts{
			Name: "statewheel_http_requests_total",
			Help: "Total HTTP requests served by the facade.",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: promauto.With(registerer).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "statewheel_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		gauges:   make(map[string]*prometheus.GaugeVec),
		counters: make(map[string]*prometheus.CounterVec),
	}
}

// RecordTransition is called once per successful step.
func (m *Metrics) RecordTransition(from, to string, elapsed time.Duration) {
	m.TransitionsTotal.WithLabelValues(from, to).Inc()
	m.TransitionDuration.Observe(elapsed.Seconds())
}

// RecordInstanceStarted is called from Engine.Start.
func (m *Metrics) RecordInstanceStarted() {
	m.InstancesStarted.Inc()
}

// RecordInstanceCompleted is called when RunUntilComplete reaches a terminal
// state.
func (m *Metrics) RecordInstanceCompleted(finalState string) {
	m.InstancesCompleted.WithLabelValues(finalState).Inc()
}

// RecordHandlerError is called from Engine.Process when the state machine
// step for the given state returns an error.
func (m *Metrics) RecordHandlerError(state string) {
	m.HandlerErrorsTotal.WithLabelValues(state).Inc()
}

// SetPausedInstances reflects the executor's current parked-instance count.
func (m *Metrics) SetPausedInstances(n int) {
	m.PausedInstances.Set(float64(n))
}

// RecordTimeout is called from the executor's handleTimeout.
func (m *Metrics) RecordTimeout(action string) {
	m.TimeoutsFiredTotal.WithLabelValues(action).Inc()
}

// RecordTimeoutSweep is called after each timeout-monitor tick.
func (m *Metrics) RecordTimeoutSweep(elapsed time.Duration) {
	m.TimeoutSweepSeconds.Observe(elapsed.Seconds())
}

// RecordHTTPRequest is called from the httpapi middleware chain.
func (m *Metrics) RecordHTTPRequest(method, path, status string, elapsed time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(elapsed.Seconds())
}

// Gauge returns (creating if necessary) a custom gauge, for ad-hoc per-flow
// metrics the operator wants without changing this package.
func (m *Metrics) Gauge(name, help string, labels ...string) *prometheus.GaugeVec {
	m.customMu.RLock()
	if g, ok := m.gauges[name]; ok {
		m.customMu.RUnlock()
		return g
	}
	m.customMu.RUnlock()

	m.customMu.Lock()
	defer m.customMu.Unlock()
	if g, ok := m.gauges[name]; ok {
		return g
	}
	g := promauto.With(DefaultRegisterer).NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labels)
	m.gauges[name] = g
	return g
}

// Counter returns (creating if necessary) a custom counter.
func (m *Metrics) Counter(name, help string, labels ...string) *prometheus.CounterVec {
	m.customMu.RLock()
	if c, ok := m.counters[name]; ok {
		m.customMu.RUnlock()
		return c
	}
	m.customMu.RUnlock()

	m.customMu.Lock()
	defer m.customMu.Unlock()
	if c, ok := m.counters[name]; ok {
		return c
	}
	c := promauto.With(DefaultRegisterer).NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
	m.counters[name] = c
	return c
}
