// Package overlay persists the per-project transient UI state and exposes
// the mutation helpers the presentation layer calls on user interaction.
package overlay

import (
	"context"
	"sync"
	"time"
)

// KV is the durable key/value store backing the overlay
type KV interface {
	// Get returns the stored value; ok is false when the key is absent
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Set writes the value. A positive ttl bounds how long an untouched
	// overlay is retained.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes the key
	Delete(ctx context.Context, key string) error

	// HealthCheck checks if the store is available
	HealthCheck(ctx context.Context) error

	// Close releases the store
	Close() error
}

// MemoryKV implements KV in process memory. Used by tests and by
// single-instance deployments that run without redis; TTLs are not
// enforced since process lifetime already bounds retention.
type MemoryKV struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewMemoryKV creates an empty in-memory store
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{values: make(map[string][]byte)}
}

// Get returns the stored value for a key
func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.values[key]
	if !ok {
		return nil, false, nil
	}

	cp := make([]byte, len(value))
	copy(cp, value)
	return cp, true, nil
}

// Set stores a value for a key
func (m *MemoryKV) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	cp := make([]byte, len(value))
	copy(cp, value)

	m.mu.Lock()
	m.values[key] = cp
	m.mu.Unlock()
	return nil
}

// Delete removes a key
func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.values, key)
	m.mu.Unlock()
	return nil
}

// HealthCheck always succeeds for the in-memory store
func (m *MemoryKV) HealthCheck(context.Context) error {
	return nil
}

// Close releases the store
func (m *MemoryKV) Close() error {
	return nil
}
