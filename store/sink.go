package store

import (
	"context"
	"sync"
)

// Sink accepts one record payload. Accept returns once the payload is
// durably handed off; units call it under their in-flight gate, so a slow
// sink applies backpressure instead of queueing without bound.
type Sink interface {
	Accept(ctx context.Context, v any) error
}

// FuncSink adapts a function to the Sink interface.
type FuncSink func(ctx context.Context, v any) error

func (f FuncSink) Accept(ctx context.Context, v any) error {
	return f(ctx, v)
}

// SpySink records every accepted payload. Useful in tests and examples.
type SpySink struct {
	mu   sync.Mutex
	vals []any
}

// NewSpySink returns an empty SpySink.
func NewSpySink() *SpySink {
	return &SpySink{}
}

func (s *SpySink) Accept(_ context.Context, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vals = append(s.vals, v)
	return nil
}

// Values returns a copy of all accepted payloads in acceptance order.
func (s *SpySink) Values() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]any, len(s.vals))
	copy(out, s.vals)
	return out
}

// Len returns the number of accepted payloads.
func (s *SpySink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.vals)
}
