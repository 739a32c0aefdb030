package petrel

import (
	"context"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/semaphore"
)

// Inflight gates a unit instance's asynchronous operations: at most max may
// run at once, and Flush awaits every started operation before reporting
// their collected errors. Admission blocks while the gate is full, so a slow
// collaborator applies backpressure instead of growing an unbounded queue.
type Inflight struct {
	sem *semaphore.Weighted

	wg   sync.WaitGroup
	mu   sync.Mutex
	errs []error
}

// NewInflight creates a gate admitting up to max concurrent operations.
// Panics if max is not positive.
func NewInflight(max int) *Inflight {
	if max <= 0 {
		panic("petrel: in-flight cap must be positive")
	}
	return &Inflight{sem: semaphore.NewWeighted(int64(max))}
}

// Go admits fn and runs it in its own goroutine, releasing the gate when it
// returns. Blocks while the gate is full; returns ctx's error if admission
// is cancelled. fn's error is collected and reported by the next Flush.
func (f *Inflight) Go(ctx context.Context, fn func(context.Context) error) error {
	if err := f.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer f.sem.Release(1)
		if err := fn(ctx); err != nil {
			f.mu.Lock()
			f.errs = append(f.errs, err)
			f.mu.Unlock()
		}
	}()
	return nil
}

// Do admits fn and runs it inline, releasing the gate when it returns. The
// error is returned to the caller, not collected.
func (f *Inflight) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := f.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer f.sem.Release(1)
	return fn(ctx)
}

// Flush waits for every operation started by Go and returns their collected
// errors, combined. The error buffer is reset, keeping allocated memory.
func (f *Inflight) Flush(ctx context.Context) error {
	f.wg.Wait()

	f.mu.Lock()
	defer f.mu.Unlock()
	err := multierr.Combine(f.errs...)
	f.errs = f.errs[:0]
	return err
}
