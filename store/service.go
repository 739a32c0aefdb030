package store

import (
	"context"
	"sync"
)

// Service is an external key-value lookup service, joined against by keyed
// records. Lookups may run concurrently.
type Service interface {
	// Lookup returns the value held for key and whether one exists.
	Lookup(ctx context.Context, key any) (any, bool, error)

	Close() error
}

// Joined pairs a record's value with the result of a service lookup on its
// key. Found reports whether the service held a value.
type Joined struct {
	Value  any
	Result any
	Found  bool
}

// FuncService adapts a function to the Service interface.
type FuncService func(ctx context.Context, key any) (any, bool, error)

func (f FuncService) Lookup(ctx context.Context, key any) (any, bool, error) {
	return f(ctx, key)
}

func (FuncService) Close() error { return nil }

// MemoryService is an in-process Service over a map. Safe for concurrent
// use.
type MemoryService struct {
	mu   sync.RWMutex
	vals map[any]any
}

// NewMemoryService returns a service holding vals. The map is copied.
func NewMemoryService(vals map[any]any) *MemoryService {
	cp := make(map[any]any, len(vals))
	for k, v := range vals {
		cp[k] = v
	}
	return &MemoryService{vals: cp}
}

func (s *MemoryService) Lookup(_ context.Context, key any) (any, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vals[key]
	return v, ok, nil
}

// Put stores a value for key.
func (s *MemoryService) Put(key, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vals[key] = value
}

func (s *MemoryService) Close() error { return nil }
