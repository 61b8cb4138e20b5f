package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) RunStarted()                                                              {}
func (n *NoopSink) RunCompleted(d time.Duration, due, sent, failed, skipped int, err error)  {}
func (n *NoopSink) RunSkippedLockHeld()                                                      {}
func (n *NoopSink) ResolveFailed()                                                           {}
func (n *NoopSink) ActionCompleted(actionType, statusClass string, duration time.Duration)   {}
func (n *NoopSink) PairsInFlightIncr()                                                       {}
func (n *NoopSink) PairsInFlightDecr()                                                       {}
