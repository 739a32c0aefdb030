package store

import (
	"context"
	"sync"

	"github.com/petrel-stream/petrel/monoid"
)

// Memory is an in-process Mergeable. It is safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	combine monoid.Combiner
	vals    map[BatchKey]any
}

// NewMemory returns an empty Memory folding deltas with combine.
func NewMemory(combine monoid.Combiner) *Memory {
	return &Memory{
		combine: combine,
		vals:    make(map[BatchKey]any),
	}
}

func (m *Memory) Merge(_ context.Context, k BatchKey, delta any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.vals[k]; ok {
		m.vals[k] = m.combine(cur, delta)
		return nil
	}
	m.vals[k] = delta
	return nil
}

func (m *Memory) Get(_ context.Context, k BatchKey) (any, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vals[k]
	return v, ok, nil
}

func (m *Memory) Close() error { return nil }

// Len returns the number of values held.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.vals)
}

// Snapshot returns a copy of all values held. Handy in tests and for local
// inspection; the copy is detached from the store.
func (m *Memory) Snapshot() map[BatchKey]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[BatchKey]any, len(m.vals))
	for k, v := range m.vals {
		out[k] = v
	}
	return out
}
