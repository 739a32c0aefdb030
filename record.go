// Package petrel compiles a physical node graph into an execution plan:
// schedulable units wired with explicit routing strategies, ready to hand to
// a stream-processing runtime.
package petrel

import (
	"context"

	"github.com/petrel-stream/petrel/pdag"
)

// Record is one event flowing through a compiled plan.
type Record = pdag.Record

// KV is a keyed payload.
type KV = pdag.KV

// Producer supplies source records.
type Producer = pdag.Producer

// Emit hands one record to the next step or downstream unit.
type Emit func(Record) error

// Operation is a composed per-record function: zero, one, or many outputs
// per input, delivered through emit. Implementations may be invoked
// concurrently across independent records.
type Operation func(ctx context.Context, rec Record, emit Emit) error
