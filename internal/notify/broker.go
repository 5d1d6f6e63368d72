// Package notify propagates overlay changes between projection service
// instances. Every overlay save broadcasts a Change; services watching the
// same project re-read the store instead of polling it.
package notify

import (
	"context"
	"sync"
	"time"
)

// Change describes one overlay write, carrying the storage key and the
// project it is scoped to
type Change struct {
	Key       string    `json:"key"`
	ProjectID string    `json:"project_id"`
	Origin    string    `json:"origin,omitempty"`
	At        time.Time `json:"at"`
}

// Broker defines the cross-instance change channel
type Broker interface {
	// Publish broadcasts a change to all subscribers, including ones in
	// other processes
	Publish(ctx context.Context, change Change) error

	// Subscribe returns a channel of changes and a cancel function that
	// releases the subscription
	Subscribe(ctx context.Context) (<-chan Change, func(), error)

	// HealthCheck checks if the channel is available
	HealthCheck(ctx context.Context) error

	// Close releases the broker
	Close() error
}

// MemoryBroker implements Broker in-process. Used by tests and by
// single-instance deployments that run without redis.
type MemoryBroker struct {
	mu   sync.Mutex
	subs map[int]chan Change
	next int
}

// NewMemoryBroker creates a new in-process broker
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[int]chan Change)}
}

// Publish delivers the change to every subscriber. Slow subscribers drop
// changes rather than block the writer; a dropped change only delays a
// resync until the subscriber's next received change.
func (b *MemoryBroker) Publish(_ context.Context, change Change) error {
	if change.At.IsZero() {
		change.At = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- change:
		default:
		}
	}
	return nil
}

// Subscribe registers a new subscriber
func (b *MemoryBroker) Subscribe(_ context.Context) (<-chan Change, func(), error) {
	ch := make(chan Change, 16)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
		b.mu.Unlock()
	}

	return ch, cancel, nil
}

// HealthCheck always succeeds for the in-process broker
func (b *MemoryBroker) HealthCheck(context.Context) error {
	return nil
}

// Close releases all subscriptions
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	return nil
}
