// Package store defines the storage, lookup, and sink contracts that compiled
// plans write to, plus in-memory implementations for tests and local runs.
package store

import (
	"context"

	"github.com/petrel-stream/petrel/batch"
)

// BatchKey addresses one aggregated value: the logical key paired with the
// batch that owns it. Two BatchKeys differing only in Batch address distinct
// values whose contents are never combined. Key must be comparable.
type BatchKey struct {
	Key   any
	Batch batch.ID
}

// Mergeable is a key-value store whose writes fold a delta into the value
// currently held for the key with an associative combine operation.
type Mergeable interface {
	// Merge folds delta into the value held for k and persists the result.
	// If no value is held, delta becomes the value.
	Merge(ctx context.Context, k BatchKey, delta any) error

	// Get returns the value held for k and whether one exists.
	Get(ctx context.Context, k BatchKey) (any, bool, error)

	Close() error
}

// Supplier constructs the store handle for one summer unit instance. It runs
// when the unit initializes, never during plan compilation.
type Supplier func() (Mergeable, error)

// Static returns a Supplier handing out an existing store. Close on the
// handle is the caller's concern; units treat it as shared.
func Static(m Mergeable) Supplier {
	return func() (Mergeable, error) { return shared{m}, nil }
}

// shared suppresses Close so unit shutdown cannot tear down a store the
// caller still owns.
type shared struct {
	Mergeable
}

func (shared) Close() error { return nil }
