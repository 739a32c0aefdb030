// Package batch partitions event time into contiguous, monotonically
// increasing intervals. Aggregated values are keyed by (logical key, batch ID)
// and values owned by different batch IDs are never combined.
package batch

import "time"

// ID identifies one batch interval.
type ID int64

// Batcher maps an event timestamp to the batch that owns it. Implementations
// must be pure: the same timestamp always yields the same ID, and later
// timestamps never yield smaller IDs.
type Batcher interface {
	BatchOf(t time.Time) ID
}

// Fixed returns a Batcher with intervals of length d, aligned to the Unix
// epoch. Timestamps before the epoch map to negative IDs. Panics if d is not
// positive.
func Fixed(d time.Duration) Batcher {
	if d <= 0 {
		panic("batch: interval must be positive")
	}
	return fixed(d)
}

// Daily is a convenience for Fixed(24 * time.Hour).
func Daily() Batcher {
	return Fixed(24 * time.Hour)
}

type fixed time.Duration

func (f fixed) BatchOf(t time.Time) ID {
	n := t.UnixNano()
	d := int64(f)
	q := n / d
	// Floor division so pre-epoch timestamps land in the interval below.
	if n < 0 && n%d != 0 {
		q--
	}
	return ID(q)
}

// Single assigns every timestamp to batch 0. Use it when aggregation must
// never split by event time.
var Single Batcher = single{}

type single struct{}

func (single) BatchOf(time.Time) ID { return 0 }
