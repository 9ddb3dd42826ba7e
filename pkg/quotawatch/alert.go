package quotawatch

import "context"

// Alerter receives status-transition notifications from the monitor. It is
// invoked exactly once per transition, for deteriorations and recoveries
// alike, and must not block for long: the monitor calls it inline.
type Alerter interface {
	Alert(ctx context.Context, providerID string, previous, current Status)
}

// AlertFunc adapts a function to the Alerter interface.
type AlertFunc func(ctx context.Context, providerID string, previous, current Status)

// Alert calls f.
func (f AlertFunc) Alert(ctx context.Context, providerID string, previous, current Status) {
	f(ctx, providerID, previous, current)
}
