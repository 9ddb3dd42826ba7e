// Package memory provides an in-memory implementation of the
// quotawatch.HistoryStore interface. Snapshots live in per-provider rings,
// which suits tests and short-lived monitors.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mihaimyh/quotawatch/pkg/quotawatch"
)

// DefaultMaxEntries bounds per-provider history when Config.MaxEntries is 0
const DefaultMaxEntries = 500

// Config holds memory storage configuration
type Config struct {
	// MaxEntries caps the snapshots kept per provider (default: 500)
	MaxEntries int
}

// Store implements quotawatch.HistoryStore in process memory
type Store struct {
	mu         sync.RWMutex
	maxEntries int
	history    map[string][]*quotawatch.Snapshot // oldest first
}

// New creates a new in-memory history store
func New(config Config) *Store {
	// Set defaults
	if config.MaxEntries <= 0 {
		config.MaxEntries = DefaultMaxEntries
	}

	return &Store{
		maxEntries: config.MaxEntries,
		history:    make(map[string][]*quotawatch.Snapshot),
	}
}

// Append implements quotawatch.HistoryStore
func (s *Store) Append(_ context.Context, snapshot *quotawatch.Snapshot) error {
	if snapshot == nil || snapshot.ProviderID == "" {
		return fmt.Errorf("snapshot with provider id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := append(s.history[snapshot.ProviderID], snapshot.Clone())
	if over := len(entries) - s.maxEntries; over > 0 {
		entries = entries[over:]
	}
	s.history[snapshot.ProviderID] = entries
	return nil
}

// Recent implements quotawatch.HistoryStore
func (s *Store) Recent(_ context.Context, providerID string, limit int) ([]*quotawatch.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.history[providerID]
	if limit <= 0 || limit > len(entries) {
		limit = len(entries)
	}

	out := make([]*quotawatch.Snapshot, 0, limit)
	for i := len(entries) - 1; i >= len(entries)-limit; i-- {
		out = append(out, entries[i].Clone())
	}
	return out, nil
}

// Prune implements quotawatch.HistoryStore
func (s *Store) Prune(_ context.Context, before time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, entries := range s.history {
		kept := entries[:0]
		for _, snap := range entries {
			if !snap.CapturedAt.Before(before) {
				kept = append(kept, snap)
			}
		}
		if len(kept) == 0 {
			delete(s.history, id)
			continue
		}
		s.history[id] = kept
	}
	return nil
}

// Close implements quotawatch.HistoryStore
func (s *Store) Close() error {
	return nil
}
