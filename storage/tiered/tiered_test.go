package tiered

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mihaimyh/quotawatch/pkg/quotawatch"
	"github.com/mihaimyh/quotawatch/storage/memory"
)

// stubStore wraps a memory store with injectable failures and an optional
// gate that holds appends open until released.
type stubStore struct {
	inner     *memory.Store
	appendErr error
	recentErr error
	pruneErr  error
	closeErr  error

	mu     sync.Mutex
	closed bool

	gate  chan struct{}
	began chan struct{}
}

func newStubStore() *stubStore {
	return &stubStore{inner: memory.New(memory.Config{})}
}

func newGatedStore() *stubStore {
	s := newStubStore()
	s.gate = make(chan struct{})
	s.began = make(chan struct{}, 8)
	return s
}

func (s *stubStore) Append(ctx context.Context, snapshot *quotawatch.Snapshot) error {
	if s.gate != nil {
		s.began <- struct{}{}
		<-s.gate
	}
	if s.appendErr != nil {
		return s.appendErr
	}
	return s.inner.Append(ctx, snapshot)
}

func (s *stubStore) Recent(ctx context.Context, providerID string, limit int) ([]*quotawatch.Snapshot, error) {
	if s.recentErr != nil {
		return nil, s.recentErr
	}
	return s.inner.Recent(ctx, providerID, limit)
}

func (s *stubStore) Prune(ctx context.Context, before time.Time) error {
	if s.pruneErr != nil {
		return s.pruneErr
	}
	return s.inner.Prune(ctx, before)
}

func (s *stubStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.closeErr
}

func (s *stubStore) wasClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func snapshotAt(id string, at time.Time, percent float64) *quotawatch.Snapshot {
	return &quotawatch.Snapshot{
		ProviderID: id,
		CapturedAt: at,
		Quotas: []quotawatch.Quota{{
			ProviderID:       id,
			Kind:             quotawatch.SessionKind(),
			PercentRemaining: percent,
		}},
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{Hot: newStubStore()}); err == nil {
		t.Error("Expected error without cold tier")
	}
	if _, err := New(Config{Cold: newStubStore()}); err == nil {
		t.Error("Expected error without hot tier")
	}
}

func TestStore_WriteThroughAppend(t *testing.T) {
	hot := newStubStore()
	cold := newStubStore()
	store, err := New(Config{Hot: hot, Cold: cold})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Append(ctx, snapshotAt("claude", time.Now().UTC(), 80)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	for name, tier := range map[string]*stubStore{"hot": hot, "cold": cold} {
		recent, err := tier.inner.Recent(ctx, "claude", 0)
		if err != nil {
			t.Fatalf("Recent on %s tier failed: %v", name, err)
		}
		if len(recent) != 1 {
			t.Errorf("Expected 1 snapshot in %s tier, got %d", name, len(recent))
		}
	}
}

func TestStore_WriteThroughColdFailure(t *testing.T) {
	hot := newStubStore()
	cold := newStubStore()
	cold.appendErr = errors.New("disk full")
	store, err := New(Config{Hot: hot, Cold: cold})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Append(ctx, snapshotAt("claude", time.Now().UTC(), 80)); err == nil {
		t.Fatal("Expected cold tier failure to surface")
	}

	// The hot tier must not hold a snapshot the source of truth rejected.
	recent, _ := hot.inner.Recent(ctx, "claude", 0)
	if len(recent) != 0 {
		t.Errorf("Expected empty hot tier after cold failure, got %d entries", len(recent))
	}
}

func TestStore_AppendValidation(t *testing.T) {
	store, err := New(Config{Hot: newStubStore(), Cold: newStubStore()})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	if err := store.Append(context.Background(), nil); err == nil {
		t.Error("Expected error for nil snapshot")
	}
	if err := store.Append(context.Background(), &quotawatch.Snapshot{}); err == nil {
		t.Error("Expected error for snapshot without provider id")
	}
}

func TestStore_RecentPrefersHotWindow(t *testing.T) {
	hot := newStubStore()
	cold := newStubStore()
	store, err := New(Config{Hot: hot, Cold: cold})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	ctx := context.Background()
	base := time.Now().UTC()
	for i := 0; i < 2; i++ {
		if err := store.Append(ctx, snapshotAt("claude", base.Add(time.Duration(i)*time.Minute), 80)); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	// With the cold tier broken, only queries the hot tier can satisfy
	// succeed.
	cold.recentErr = errors.New("connection refused")

	if _, err := store.Recent(ctx, "claude", 2); err != nil {
		t.Errorf("Expected hot tier to serve a full window, got %v", err)
	}
	if _, err := store.Recent(ctx, "claude", 3); err == nil {
		t.Error("Expected a short hot tier to fall through to cold")
	}
	if _, err := store.Recent(ctx, "claude", 0); err == nil {
		t.Error("Expected unbounded queries to go to cold")
	}
}

func TestStore_AsyncAppendFlushesInOrder(t *testing.T) {
	hot := newStubStore()
	cold := newStubStore()
	store, err := New(Config{Hot: hot, Cold: cold, AsyncAppend: true})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	ctx := context.Background()
	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		if err := store.Append(ctx, snapshotAt("claude", base.Add(time.Duration(i)*time.Minute), float64(90-i))); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	// The hot tier is written synchronously.
	recent, _ := hot.inner.Recent(ctx, "claude", 0)
	if len(recent) != 3 {
		t.Fatalf("Expected 3 snapshots in hot tier, got %d", len(recent))
	}

	// Close drains the queue, so afterwards the cold tier holds everything
	// in capture order.
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	flushed, _ := cold.inner.Recent(ctx, "claude", 0)
	if len(flushed) != 3 {
		t.Fatalf("Expected 3 snapshots flushed to cold tier, got %d", len(flushed))
	}
	if !flushed[0].CapturedAt.After(flushed[2].CapturedAt) {
		t.Error("Expected newest-first ordering from the flushed cold tier")
	}
}

func TestStore_AsyncQueueFullDropsColdWrite(t *testing.T) {
	var mu sync.Mutex
	var reported []error
	handler := func(err error) {
		mu.Lock()
		reported = append(reported, err)
		mu.Unlock()
	}

	hot := newStubStore()
	cold := newGatedStore()
	store, err := New(Config{
		Hot:               hot,
		Cold:              cold,
		AsyncAppend:       true,
		AppendBufferSize:  1,
		AsyncErrorHandler: handler,
	})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	ctx := context.Background()
	base := time.Now().UTC()

	// First append: the worker picks it up and blocks inside the cold
	// tier, leaving the queue empty.
	if err := store.Append(ctx, snapshotAt("claude", base, 90)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	select {
	case <-cold.began:
	case <-time.After(5 * time.Second):
		t.Fatal("Worker never reached the cold tier")
	}

	// Second append fills the queue; the third has nowhere to go.
	if err := store.Append(ctx, snapshotAt("claude", base.Add(time.Minute), 80)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := store.Append(ctx, snapshotAt("claude", base.Add(2*time.Minute), 70)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	mu.Lock()
	drops := len(reported)
	var message string
	if drops > 0 {
		message = reported[0].Error()
	}
	mu.Unlock()
	if drops != 1 {
		t.Fatalf("Expected exactly 1 dropped write, got %d", drops)
	}
	if !strings.Contains(message, "queue full") {
		t.Errorf("Expected a queue full error, got %q", message)
	}

	close(cold.gate)
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// The dropped snapshot never reaches cold; the other two do.
	flushed, _ := cold.inner.Recent(ctx, "claude", 0)
	if len(flushed) != 2 {
		t.Errorf("Expected 2 snapshots in cold tier, got %d", len(flushed))
	}
}

func TestStore_PruneBothTiers(t *testing.T) {
	hot := newStubStore()
	cold := newStubStore()
	store, err := New(Config{Hot: hot, Cold: cold})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	ctx := context.Background()
	base := time.Now().UTC()
	for i := 0; i < 4; i++ {
		if err := store.Append(ctx, snapshotAt("claude", base.Add(time.Duration(i)*time.Hour), 80)); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	if err := store.Prune(ctx, base.Add(2*time.Hour)); err != nil {
		t.Fatalf("Prune failed: %v", err)
	}

	for name, tier := range map[string]*stubStore{"hot": hot, "cold": cold} {
		recent, _ := tier.inner.Recent(ctx, "claude", 0)
		if len(recent) != 2 {
			t.Errorf("Expected 2 snapshots left in %s tier, got %d", name, len(recent))
		}
	}
}

func TestStore_PruneColdFailure(t *testing.T) {
	cold := newStubStore()
	cold.pruneErr = errors.New("connection refused")
	store, err := New(Config{Hot: newStubStore(), Cold: cold})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	if err := store.Prune(context.Background(), time.Now()); err == nil {
		t.Error("Expected cold tier prune failure to surface")
	}
}

func TestStore_CloseClosesBothTiers(t *testing.T) {
	hot := newStubStore()
	cold := newStubStore()
	cold.closeErr = errors.New("already closed")
	store, err := New(Config{Hot: hot, Cold: cold})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	if err := store.Close(); err == nil {
		t.Error("Expected the cold tier close error")
	}
	if !hot.wasClosed() || !cold.wasClosed() {
		t.Error("Expected both tiers closed")
	}
}
