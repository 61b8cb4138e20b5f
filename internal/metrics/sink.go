package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or
// propagate errors. If the metrics backend is unavailable, implementations
// log warnings and continue.
type Sink interface {
	// Engine metrics
	RunStarted()
	RunCompleted(duration time.Duration, due, sent, failed, skipped int, err error)
	RunSkippedLockHeld()

	// Dispatcher metrics
	ResolveFailed()
	ActionCompleted(actionType, statusClass string, duration time.Duration)
	PairsInFlightIncr()
	PairsInFlightDecr()
}
