package quotawatch

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const (
	maxSubscribers  = 100
	eventBufferSize = 100
)

// EventKind classifies monitor notifications.
type EventKind string

const (
	// EventRefreshed signals that a refresh cycle completed
	EventRefreshed EventKind = "refreshed"
	// EventError signals that a provider's refresh failed
	EventError EventKind = "error"
)

// Event is one monitor notification. Error events carry the failed
// provider's ID, the probe error and its stable code; refreshed events
// carry neither.
type Event struct {
	Kind       EventKind `json:"kind"`
	ProviderID string    `json:"provider_id,omitempty"`
	ErrorCode  string    `json:"error_code,omitempty"`
	Err        error     `json:"-"`
	At         time.Time `json:"at"`
}

// Broadcaster fans monitor events out to subscribers without blocking the
// monitor: a subscriber whose buffer is full misses events instead of
// stalling refreshes.
type Broadcaster struct {
	mu      sync.RWMutex
	subs    map[string]chan Event
	subSeq  atomic.Uint64
	dropped atomic.Uint64
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[string]chan Event)}
}

// Subscribe adds a subscriber and returns its ID and event channel.
// Returns ("", nil) at capacity.
func (b *Broadcaster) Subscribe() (string, <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.subs) >= maxSubscribers {
		return "", nil
	}
	id := fmt.Sprintf("sub-%d", b.subSeq.Add(1))
	ch := make(chan Event, eventBufferSize)
	b.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel. Unknown IDs are
// ignored.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs[id]; ok {
		close(ch)
		delete(b.subs, id)
	}
}

// Publish delivers an event to every subscriber that has buffer room.
func (b *Broadcaster) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
}

// SubscriberCount returns the current number of subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many events were discarded because a subscriber's
// buffer was full.
func (b *Broadcaster) Dropped() uint64 {
	return b.dropped.Load()
}
