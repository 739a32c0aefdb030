// Package local runs a compiled plan in-process: one goroutine per unit
// instance, channels for routing edges honoring the plan's routing
// strategies, and the flush/drain discipline units require. It accepts
// exactly a *petrel.Plan and needs nothing else from the compiler.
package local

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/petrel-stream/petrel"
	"github.com/petrel-stream/petrel/pdag"
	"github.com/petrel-stream/petrel/store"
	"golang.org/x/sync/errgroup"
)

// Option is a function that configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the runtime logger.
var WithLogger = func(log logr.Logger) Option {
	return func(r *Runtime) {
		r.log = log
	}
}

// WithBuffer sets the capacity of the channels backing routing edges.
var WithBuffer = func(n int) Option {
	return func(r *Runtime) {
		r.buffer = n
	}
}

// Runtime executes a plan in-process.
type Runtime struct {
	plan   *petrel.Plan
	log    logr.Logger
	buffer int
}

// New creates a runtime for plan.
func New(plan *petrel.Plan, opts ...Option) *Runtime {
	r := &Runtime{
		plan:   plan,
		log:    logr.Discard(),
		buffer: 64,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// stage is the runtime state of one unit: its input channels and the count
// of upstream instances still feeding it.
type stage struct {
	spec  *petrel.UnitSpec
	keyed bool

	// One channel per instance when keyed, a single shared channel
	// otherwise.
	in []chan petrel.Record

	// senders counts upstream instances; inputs close when it reaches
	// zero.
	senders sync.WaitGroup
}

func (s *stage) instances() int {
	if s.spec.Kind == petrel.UnitSource {
		// Producers are shared handles; one poller reads each.
		return 1
	}
	if s.spec.Parallelism < 1 {
		return 1
	}
	return s.spec.Parallelism
}

// Run executes the plan until every source is exhausted and downstream
// units have drained, or ctx is cancelled. Record failures propagate per
// each unit's resolved policy.
func (r *Runtime) Run(ctx context.Context) error {
	stages := make(map[string]*stage, len(r.plan.Units))
	for i := range r.plan.Units {
		spec := &r.plan.Units[i]
		st := &stage{spec: spec}
		inbound := r.plan.Inbound(spec.Name)
		for _, e := range inbound {
			if e.Routing == petrel.RouteKeyPartitioned {
				st.keyed = true
			}
		}
		if len(inbound) > 0 {
			n := 1
			if st.keyed {
				n = st.instances()
			}
			st.in = make([]chan petrel.Record, n)
			for j := range st.in {
				st.in[j] = make(chan petrel.Record, r.buffer)
			}
		}
		stages[spec.Name] = st
	}

	// Register senders before anything starts so no input closes early.
	for _, st := range stages {
		for _, e := range r.plan.Inbound(st.spec.Name) {
			up, ok := stages[e.From]
			if !ok {
				return fmt.Errorf("plan edge from unknown unit %q", e.From)
			}
			st.senders.Add(up.instances())
		}
	}

	parent := ctx
	g, ctx := errgroup.WithContext(ctx)

	for _, st := range stages {
		st := st
		switch st.spec.Kind {
		case petrel.UnitSource:
			g.Go(func() error {
				return r.runSource(ctx, st, stages)
			})
		default:
			for i := 0; i < st.instances(); i++ {
				i := i
				g.Go(func() error {
					return r.runWorker(ctx, st, i, stages)
				})
			}
		}
		// Close inputs once every upstream instance is done.
		if len(st.in) > 0 {
			go func() {
				st.senders.Wait()
				for _, ch := range st.in {
					close(ch)
				}
			}()
		}
	}

	err := g.Wait()
	// Caller-initiated shutdown is not a failure.
	if err != nil && parent.Err() != nil && errors.Is(err, parent.Err()) {
		return nil
	}
	return err
}

// emitTo routes a record along the stage's outbound edges: hashed to one
// instance channel for key-partitioned destinations, the shared channel
// otherwise.
func (r *Runtime) emitTo(ctx context.Context, from *stage, stages map[string]*stage) petrel.Emit {
	edges := r.plan.Outbound(from.spec.Name)
	return func(rec petrel.Record) error {
		for _, e := range edges {
			dest := stages[e.To]
			ch := dest.in[0]
			if dest.keyed {
				kv, ok := rec.Data.(petrel.KV)
				if !ok {
					return fmt.Errorf("%w: key-partitioned edge %s -> %s got %T",
						petrel.ErrPayloadNotKeyed, e.From, e.To, rec.Data)
				}
				ch = dest.in[int(hashKey(partitionKey(kv.Key))%uint64(len(dest.in)))]
			}
			select {
			case ch <- rec:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}
}

func (r *Runtime) runSource(ctx context.Context, st *stage, stages map[string]*stage) error {
	defer r.done(st, stages)

	unit, err := st.spec.NewSource()
	if err != nil {
		return fmt.Errorf("source %s: %w", st.spec.Name, err)
	}
	defer unit.Close()

	emit := r.emitTo(ctx, st, stages)
	for {
		recs, err := unit.Poll(ctx)
		if errors.Is(err, pdag.ErrExhausted) {
			break
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			break
		}
		if err != nil {
			if st.spec.Policy == petrel.PolicyDrop {
				r.log.Error(err, "poll failed, dropping batch", "unit", st.spec.Name)
				continue
			}
			return fmt.Errorf("source %s: %w", st.spec.Name, err)
		}
		for _, rec := range recs {
			if err := emit(rec); err != nil {
				return err
			}
		}
	}

	if ctx.Err() == nil {
		if err := unit.Commit(ctx); err != nil {
			return fmt.Errorf("source %s: commit: %w", st.spec.Name, err)
		}
	}
	return nil
}

func (r *Runtime) runWorker(ctx context.Context, st *stage, instance int, stages map[string]*stage) error {
	defer r.done(st, stages)

	unit, err := st.spec.NewUnit()
	if err != nil {
		return fmt.Errorf("unit %s: %w", st.spec.Name, err)
	}
	defer unit.Close()

	emit := r.emitTo(ctx, st, stages)

	var in chan petrel.Record
	if len(st.in) > 0 {
		if st.keyed {
			in = st.in[instance]
		} else {
			in = st.in[0]
		}
	}
	if in == nil {
		// Effective source without a producer: nothing will ever arrive.
		return unit.Flush(ctx, emit)
	}

	var tick <-chan time.Time
	if st.spec.FlushEvery > 0 {
		t := time.NewTicker(st.spec.FlushEvery)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case rec, ok := <-in:
			if !ok {
				if err := unit.Flush(ctx, emit); err != nil {
					return fmt.Errorf("unit %s: flush: %w", st.spec.Name, err)
				}
				return nil
			}
			if err := unit.Process(ctx, rec, emit); err != nil {
				if st.spec.Policy == petrel.PolicyDrop {
					r.log.Error(err, "record failed, dropping", "unit", st.spec.Name)
					continue
				}
				return fmt.Errorf("unit %s: %w", st.spec.Name, err)
			}
		case <-tick:
			if err := unit.Flush(ctx, emit); err != nil {
				if st.spec.Policy == petrel.PolicyDrop {
					r.log.Error(err, "flush failed, dropping", "unit", st.spec.Name)
					continue
				}
				return fmt.Errorf("unit %s: flush: %w", st.spec.Name, err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// done signals every downstream stage that one of this stage's instances
// finished, final flush included.
func (r *Runtime) done(st *stage, stages map[string]*stage) {
	for _, e := range r.plan.Outbound(st.spec.Name) {
		stages[e.To].senders.Done()
	}
}

// partitionKey normalizes the key an edge partitions on. Pre-aggregated
// records carry a (key, batch) pair; routing on the logical key alone keeps
// them on the same instance as records that arrive unbatched, so equal keys
// converge regardless of which upstream kind sent them.
func partitionKey(key any) any {
	if bk, ok := key.(store.BatchKey); ok {
		return bk.Key
	}
	return key
}

func hashKey(key any) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%v", key)
	return h.Sum64()
}
