package telemetry

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/roach88/lemonstate/internal/engine"
)

// Error phases used as the "phase" label.
const (
	PhasePass = "pass"
	PhaseRead = "read"
)

// codeDerivation labels errors returned by user derivations.
const codeDerivation = "DERIVATION"

// Metrics is an engine.Observer that records Prometheus metrics.
type Metrics struct {
	passes     prometheus.Counter
	recomputes *prometheus.CounterVec
	errors     *prometheus.CounterVec
	changed    prometheus.Histogram
	duration   prometheus.Histogram
}

// MetricsOption configures NewMetrics.
type MetricsOption func(*metricsConfig)

type metricsConfig struct {
	namespace string
	buckets   []float64
}

// WithNamespace sets the metric namespace. Default: "lemonstate".
func WithNamespace(ns string) MetricsOption {
	return func(c *metricsConfig) {
		c.namespace = ns
	}
}

// WithBuckets sets the pass duration buckets in seconds.
// Default: prometheus.DefBuckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *metricsConfig) {
		c.buckets = buckets
	}
}

// NewMetrics registers the engine metrics with reg. Passing nil registers
// nothing, which is useful when several engines share a process.
func NewMetrics(reg prometheus.Registerer, opts ...MetricsOption) *Metrics {
	cfg := metricsConfig{namespace: "lemonstate", buckets: prometheus.DefBuckets}
	for _, opt := range opts {
		opt(&cfg)
	}
	factory := promauto.With(reg)

	return &Metrics{
		passes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "passes_total",
			Help:      "Completed propagation passes.",
		}),
		recomputes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "recomputations_total",
			Help:      "Computed value evaluations by store.",
		}, []string{"store"}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "errors_total",
			Help:      "Failed passes and reads by error code.",
		}, []string{"code", "phase"}),
		changed: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.namespace,
			Name:      "pass_changed_values",
			Help:      "Values changed per propagation pass.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.namespace,
			Name:      "pass_duration_seconds",
			Help:      "Propagation pass duration, including nested passes.",
			Buckets:   cfg.buckets,
		}),
	}
}

// PassStarted implements engine.Observer.
func (m *Metrics) PassStarted(int) {}

// Recomputed implements engine.Observer.
func (m *Metrics) Recomputed(ref engine.ValueRef) {
	m.recomputes.WithLabelValues(ref.Store).Inc()
}

// PassCompleted implements engine.Observer.
func (m *Metrics) PassCompleted(stats engine.PassStats) {
	m.passes.Inc()
	m.changed.Observe(float64(stats.Changed))
	m.duration.Observe(stats.Duration.Seconds())
}

// PassFailed implements engine.Observer.
func (m *Metrics) PassFailed(err error) {
	m.errors.WithLabelValues(errorCode(err), PhasePass).Inc()
}

// Failed implements engine.Observer.
func (m *Metrics) Failed(err error) {
	m.errors.WithLabelValues(errorCode(err), PhaseRead).Inc()
}

func errorCode(err error) string {
	var e *engine.Error
	if errors.As(err, &e) {
		return string(e.Code)
	}
	return codeDerivation
}
