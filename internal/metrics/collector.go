// Package metrics defines the instrumentation points of the progress engine
// and provides a no-op collector plus a Prometheus-backed one.
package metrics

// Collector receives engine measurements. Implementations must be safe for
// concurrent use.
type Collector interface {
	// RecordClaim counts a claim attempt; created is false when an existing
	// assignment for the cycle was returned instead.
	RecordClaim(taskType string, created bool)

	// RecordProgress counts a committed transition by log action.
	RecordProgress(action string)

	// RecordCompletion counts an assignment reaching completed.
	RecordCompletion(taskType string)

	// RecordVersionConflict counts one lost compare-and-swap attempt.
	RecordVersionConflict(op string)

	// RecordRetriesExhausted counts operations that gave up after conflicts.
	RecordRetriesExhausted(op string)

	// RecordIdempotentReplay counts progress reports answered from an
	// already recorded idempotency key.
	RecordIdempotentReplay()

	// RecordExpired adds the number of assignments moved to expired.
	RecordExpired(count int64)

	// RecordEmitFailure counts completion events that could not be handed
	// to the dispatcher or a handler.
	RecordEmitFailure(reason string)

	// ObserveOperation records the latency of an engine operation.
	ObserveOperation(op, result string, seconds float64)
}
