package pdag

import (
	"context"
	"errors"
	"time"
)

// Record is one event: the payload plus the event time that rides beside it
// from source to sink. Keyed stages carry a KV as Data.
type Record struct {
	Time time.Time
	Data any
}

// KV is a keyed payload. Key must be comparable.
type KV struct {
	Key   any
	Value any
}

// ErrExhausted is returned by Poll when a finite producer has handed out all
// of its records. Runtimes treat it as graceful end of input, not a failure.
var ErrExhausted = errors.New("producer exhausted")

// Producer supplies the records a source node reads.
//
// Poll returns the next batch of records, blocking until at least one is
// available, ctx is done, or the producer is exhausted.
type Producer interface {
	Poll(ctx context.Context) ([]Record, error)
	Close() error
}

// Committer is implemented by producers that can acknowledge consumed input,
// e.g. a Kafka consumer committing offsets. Called after downstream flush.
type Committer interface {
	Commit(ctx context.Context) error
}

// ParallelismHinter is implemented by producers that suggest how many
// instances should read from them. An option override still wins.
type ParallelismHinter interface {
	DefaultParallelism() int
}

// SliceProducer hands out a fixed record slice once, then reports
// ErrExhausted. Useful for examples and tests.
type SliceProducer struct {
	recs []Record
	done bool
}

// NewSliceProducer returns a producer over recs.
func NewSliceProducer(recs ...Record) *SliceProducer {
	return &SliceProducer{recs: recs}
}

func (p *SliceProducer) Poll(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.done {
		return nil, ErrExhausted
	}
	p.done = true
	return p.recs, nil
}

func (p *SliceProducer) Close() error { return nil }
