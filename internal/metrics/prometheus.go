package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements Collector backed by Prometheus.
// Metrics are created and registered lazily on first use.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	claims           *prometheus.CounterVec
	progress         *prometheus.CounterVec
	completions      *prometheus.CounterVec
	conflicts        *prometheus.CounterVec
	exhausted        *prometheus.CounterVec
	replays          prometheus.Counter
	expired          prometheus.Counter
	emitFailures     *prometheus.CounterVec
	operationLatency *prometheus.HistogramVec
}

// Compile-time assertion that PrometheusCollector implements Collector.
var _ Collector = (*PrometheusCollector)(nil)

// NewPrometheus creates a Prometheus-backed collector.
//
// Parameters:
//   - reg: Prometheus registerer (uses prometheus.DefaultRegisterer if nil)
//   - namespace: metrics namespace (defaults to "quests" if empty)
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "quests"
	}
	return &PrometheusCollector{reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.claims = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "engine",
			Name:      "claims_total",
			Help:      "Claim attempts by task type and whether a new assignment was created.",
		}, []string{"type", "created"})

		p.progress = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "engine",
			Name:      "transitions_total",
			Help:      "Committed assignment transitions by log action.",
		}, []string{"action"})

		p.completions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "engine",
			Name:      "completions_total",
			Help:      "Assignments that reached completed, by task type.",
		}, []string{"type"})

		p.conflicts = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "engine",
			Name:      "version_conflicts_total",
			Help:      "Lost compare-and-swap attempts by operation.",
		}, []string{"op"})

		p.exhausted = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "engine",
			Name:      "retries_exhausted_total",
			Help:      "Operations that failed after exhausting conflict retries.",
		}, []string{"op"})

		p.replays = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "engine",
			Name:      "idempotent_replays_total",
			Help:      "Progress reports answered from a recorded idempotency key.",
		})

		p.expired = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "sweeper",
			Name:      "assignments_expired_total",
			Help:      "Assignments moved to expired by the sweep.",
		})

		p.emitFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "events",
			Name:      "emit_failures_total",
			Help:      "Completion events that could not be delivered, by reason.",
		}, []string{"reason"})

		p.operationLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "engine",
			Name:      "operation_duration_seconds",
			Help:      "Latency of engine operations in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms .. ~2s
		}, []string{"op", "result"})

		p.reg.MustRegister(
			p.claims,
			p.progress,
			p.completions,
			p.conflicts,
			p.exhausted,
			p.replays,
			p.expired,
			p.emitFailures,
			p.operationLatency,
		)
	})
}

// RecordClaim implements Collector.
func (p *PrometheusCollector) RecordClaim(taskType string, created bool) {
	p.ensureRegistered()
	p.claims.WithLabelValues(taskType, strconv.FormatBool(created)).Inc()
}

// RecordProgress implements Collector.
func (p *PrometheusCollector) RecordProgress(action string) {
	p.ensureRegistered()
	p.progress.WithLabelValues(action).Inc()
}

// RecordCompletion implements Collector.
func (p *PrometheusCollector) RecordCompletion(taskType string) {
	p.ensureRegistered()
	p.completions.WithLabelValues(taskType).Inc()
}

// RecordVersionConflict implements Collector.
func (p *PrometheusCollector) RecordVersionConflict(op string) {
	p.ensureRegistered()
	p.conflicts.WithLabelValues(op).Inc()
}

// RecordRetriesExhausted implements Collector.
func (p *PrometheusCollector) RecordRetriesExhausted(op string) {
	p.ensureRegistered()
	p.exhausted.WithLabelValues(op).Inc()
}

// RecordIdempotentReplay implements Collector.
func (p *PrometheusCollector) RecordIdempotentReplay() {
	p.ensureRegistered()
	p.replays.Inc()
}

// RecordExpired implements Collector.
func (p *PrometheusCollector) RecordExpired(count int64) {
	if count <= 0 {
		return
	}
	p.ensureRegistered()
	p.expired.Add(float64(count))
}

// RecordEmitFailure implements Collector.
func (p *PrometheusCollector) RecordEmitFailure(reason string) {
	p.ensureRegistered()
	p.emitFailures.WithLabelValues(reason).Inc()
}

// ObserveOperation implements Collector.
func (p *PrometheusCollector) ObserveOperation(op, result string, seconds float64) {
	p.ensureRegistered()
	p.operationLatency.WithLabelValues(op, result).Observe(seconds)
}
