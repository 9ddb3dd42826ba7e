// Package tiered provides a hot/cold composite of two history stores: a
// fast ephemeral tier answering recency queries and a durable tier holding
// the full record. Appends write through to the cold tier by default; an
// async mode trades durability lag for non-blocking refreshes.
package tiered

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mihaimyh/quotawatch/pkg/quotawatch"
)

// DefaultAppendBufferSize is the async queue capacity when Config leaves it 0
const DefaultAppendBufferSize = 256

// Config configures the tiered store
type Config struct {
	// Hot is the fast tier consulted first on reads (e.g. memory)
	Hot quotawatch.HistoryStore

	// Cold is the durable tier and source of truth (e.g. sqlite, postgres)
	Cold quotawatch.HistoryStore

	// AsyncAppend makes cold writes non-blocking: Append returns once the
	// hot tier holds the snapshot and a worker flushes to cold in order.
	// When false, Append is write-through and cold failures are returned.
	AsyncAppend bool

	// AppendBufferSize is the async queue capacity (default: 256)
	AppendBufferSize int

	// AsyncErrorHandler receives cold-tier failures in async mode. Without
	// it they are silently dropped.
	AsyncErrorHandler func(error)
}

// Store implements quotawatch.HistoryStore over a hot and a cold tier
type Store struct {
	hot  quotawatch.HistoryStore
	cold quotawatch.HistoryStore
	conf Config

	syncQueue chan func() error
	shutdown  chan struct{}
	wg        sync.WaitGroup
}

// New creates a new tiered history store
func New(config Config) (*Store, error) {
	if config.Hot == nil || config.Cold == nil {
		return nil, errors.New("tiered storage: both hot and cold tiers are required")
	}

	// Set defaults
	if config.AppendBufferSize <= 0 {
		config.AppendBufferSize = DefaultAppendBufferSize
	}

	s := &Store{
		hot:       config.Hot,
		cold:      config.Cold,
		conf:      config,
		syncQueue: make(chan func() error, config.AppendBufferSize),
		shutdown:  make(chan struct{}),
	}

	if config.AsyncAppend {
		s.startWorker()
	}

	return s, nil
}

// startWorker runs the background flush loop. A single worker keeps cold
// appends in the order they were enqueued.
func (s *Store) startWorker() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case job := <-s.syncQueue:
				if err := job(); err != nil {
					s.reportAsyncError(fmt.Errorf("tiered flush failed: %w", err))
				}
			case <-s.shutdown:
				// Drain the queue on shutdown, best effort
				for {
					select {
					case job := <-s.syncQueue:
						if err := job(); err != nil {
							s.reportAsyncError(fmt.Errorf("tiered flush failed during shutdown: %w", err))
						}
					default:
						return
					}
				}
			}
		}
	}()
}

func (s *Store) reportAsyncError(err error) {
	if s.conf.AsyncErrorHandler != nil {
		s.conf.AsyncErrorHandler(err)
	}
}

// Append implements quotawatch.HistoryStore. In write-through mode the cold
// tier is written first and its failure is the caller's; the hot tier is
// then filled best effort. In async mode the order flips: the hot tier is
// written synchronously and the cold write is queued.
func (s *Store) Append(ctx context.Context, snapshot *quotawatch.Snapshot) error {
	if snapshot == nil || snapshot.ProviderID == "" {
		return fmt.Errorf("snapshot with provider id is required")
	}

	if !s.conf.AsyncAppend {
		if err := s.cold.Append(ctx, snapshot); err != nil {
			return err
		}
		_ = s.hot.Append(ctx, snapshot)
		return nil
	}

	if err := s.hot.Append(ctx, snapshot); err != nil {
		return err
	}

	// The snapshot is cloned by value receivers downstream, but the queue
	// job must not retain the caller's context.
	clone := snapshot.Clone()
	select {
	case s.syncQueue <- func() error {
		return s.cold.Append(context.Background(), clone)
	}:
	default:
		s.reportAsyncError(errors.New("tiered storage: append queue full, dropping cold write"))
	}
	return nil
}

// Recent implements quotawatch.HistoryStore. The hot tier answers when it
// holds the full requested window; anything else, including unbounded
// queries, goes to the cold tier.
func (s *Store) Recent(ctx context.Context, providerID string, limit int) ([]*quotawatch.Snapshot, error) {
	if limit > 0 {
		recent, err := s.hot.Recent(ctx, providerID, limit)
		if err == nil && len(recent) >= limit {
			return recent, nil
		}
	}
	return s.cold.Recent(ctx, providerID, limit)
}

// Prune implements quotawatch.HistoryStore. The cold tier's failure is the
// caller's; the hot tier is pruned best effort.
func (s *Store) Prune(ctx context.Context, before time.Time) error {
	if err := s.cold.Prune(ctx, before); err != nil {
		return err
	}
	_ = s.hot.Prune(ctx, before)
	return nil
}

// Close stops the async worker, draining queued cold writes, then closes
// both tiers.
func (s *Store) Close() error {
	if s.conf.AsyncAppend {
		select {
		case <-s.shutdown:
			// Already closed
		default:
			close(s.shutdown)
			s.wg.Wait()
		}
	}

	hotErr := s.hot.Close()
	coldErr := s.cold.Close()
	if coldErr != nil {
		return coldErr
	}
	return hotErr
}
