package quotawatch

import (
	"context"
	"time"
)

// HistoryStore persists captured snapshots for usage-over-time queries.
// Implementations live under storage/ and are optional: a monitor without
// one simply keeps no history.
type HistoryStore interface {
	// Append stores a snapshot.
	Append(ctx context.Context, snapshot *Snapshot) error

	// Recent returns up to limit snapshots for a provider, newest first.
	Recent(ctx context.Context, providerID string, limit int) ([]*Snapshot, error)

	// Prune removes snapshots captured before the given time.
	Prune(ctx context.Context, before time.Time) error

	// Close releases the store's resources.
	Close() error
}
