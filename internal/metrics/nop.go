package metrics

// NopMetrics implements a no-op metrics collector.
//
// All metrics are discarded. Useful for testing or when external
// metrics collection is used.
type NopMetrics struct{}

// Compile-time assertion that NopMetrics implements Collector.
var _ Collector = (*NopMetrics)(nil)

// NewNop creates a new no-op metrics collector.
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

// RecordClaim discards the claim metric.
func (n *NopMetrics) RecordClaim(_ string, _ bool) {}

// RecordProgress discards the progress metric.
func (n *NopMetrics) RecordProgress(_ string) {}

// RecordCompletion discards the completion metric.
func (n *NopMetrics) RecordCompletion(_ string) {}

// RecordVersionConflict discards the conflict metric.
func (n *NopMetrics) RecordVersionConflict(_ string) {}

// RecordRetriesExhausted discards the exhaustion metric.
func (n *NopMetrics) RecordRetriesExhausted(_ string) {}

// RecordIdempotentReplay discards the replay metric.
func (n *NopMetrics) RecordIdempotentReplay() {}

// RecordExpired discards the expiration metric.
func (n *NopMetrics) RecordExpired(_ int64) {}

// RecordEmitFailure discards the emit failure metric.
func (n *NopMetrics) RecordEmitFailure(_ string) {}

// ObserveOperation discards the latency observation.
func (n *NopMetrics) ObserveOperation(_, _ string, _ float64) {}
