package quotawatch

import "time"

// Metrics defines the interface for tracking probe and monitor activity.
type Metrics interface {
	// RecordRefresh records one provider refresh attempt with its duration and outcome.
	RecordRefresh(providerID string, duration time.Duration, err error)

	// RecordStatusTransition records a provider moving from one status to another.
	RecordStatusTransition(providerID string, previous, current Status)

	// RecordPollCycle records the duration of one full polling cycle.
	RecordPollCycle(duration time.Duration)

	// RecordHistoryOperation records the duration and status of a history store operation.
	RecordHistoryOperation(operation string, duration time.Duration, err error)

	// SetPercentRemaining publishes the latest remaining percentage for a quota.
	SetPercentRemaining(providerID, kind string, percent float64)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordRefresh(providerID string, duration time.Duration, err error)         {}
func (n *NoopMetrics) RecordStatusTransition(providerID string, previous, current Status)         {}
func (n *NoopMetrics) RecordPollCycle(duration time.Duration)                                     {}
func (n *NoopMetrics) RecordHistoryOperation(operation string, duration time.Duration, err error) {}
func (n *NoopMetrics) SetPercentRemaining(providerID, kind string, percent float64)               {}
