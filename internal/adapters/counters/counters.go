// Package counters keeps the pool-level metadata counters maintained by
// the image import hook.
package counters

import (
	"context"
	"errors"
	"sync"
)

// Counter names.
const (
	TotalImages = "total_images"
	PoolSize    = "pool_size"
)

// ErrUnknownCounter is returned for names outside the known set.
var ErrUnknownCounter = errors.New("unknown counter")

// Counters is a set of named integer counters.
type Counters interface {
	// Add applies delta and returns the new value.
	Add(ctx context.Context, name string, delta int64) (int64, error)
	Get(ctx context.Context, name string) (int64, error)
	Close() error
}

func known(name string) bool {
	return name == TotalImages || name == PoolSize
}

// Memory is an in-process Counters.
type Memory struct {
	mu     sync.Mutex
	values map[string]int64
}

// NewMemory returns zeroed in-process counters.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]int64)}
}

func (m *Memory) Add(_ context.Context, name string, delta int64) (int64, error) {
	if !known(name) {
		return 0, ErrUnknownCounter
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[name] += delta
	return m.values[name], nil
}

func (m *Memory) Get(_ context.Context, name string) (int64, error) {
	if !known(name) {
		return 0, ErrUnknownCounter
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[name], nil
}

func (m *Memory) Close() error { return nil }
