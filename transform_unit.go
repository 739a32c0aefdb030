package petrel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/petrel-stream/petrel/batch"
	"github.com/petrel-stream/petrel/monoid"
	"github.com/petrel-stream/petrel/pdag"
	"github.com/petrel-stream/petrel/store"
)

// TransformUnit runs the fused operation of one transform node. When the
// node feeds an aggregation, outputs are interpreted as key/value pairs,
// assigned a batch from the downstream batcher, and opportunistically
// pre-combined in a bounded cache before leaving the unit.
type TransformUnit struct {
	op Operation
	fl *Inflight

	// nil unless the unit feeds an aggregation.
	pre *preagg
}

func (u *TransformUnit) Process(ctx context.Context, rec Record, emit Emit) error {
	if u.pre == nil {
		return u.op(ctx, rec, emit)
	}
	return u.op(ctx, rec, func(out Record) error {
		kv, ok := out.Data.(KV)
		if !ok {
			return fmt.Errorf("%w: aggregation input got %T", ErrPayloadNotKeyed, out.Data)
		}
		bk := store.BatchKey{Key: kv.Key, Batch: u.pre.batcher.BatchOf(out.Time)}
		for _, e := range u.pre.add(bk, kv.Value, out.Time) {
			if err := emit(Record{Time: e.time, Data: KV{Key: e.key, Value: e.val}}); err != nil {
				return err
			}
		}
		return nil
	})
}

// Flush awaits in-flight writes and drains the pre-aggregation cache.
func (u *TransformUnit) Flush(ctx context.Context, emit Emit) error {
	if u.pre != nil {
		for _, e := range u.pre.drain() {
			if err := emit(Record{Time: e.time, Data: KV{Key: e.key, Value: e.val}}); err != nil {
				return err
			}
		}
	}
	return u.fl.Flush(ctx)
}

func (u *TransformUnit) Close() error {
	// In-flight operations were drained by the final Flush; nothing owned
	// beyond the cache, which needs no teardown.
	return nil
}

// preagg is the bounded pre-aggregation cache of a transform feeding an
// aggregation. It folds values sharing a (key, batch) with the downstream
// combine operation and never merges across batch boundaries, because
// entries differing in batch ID occupy distinct cache keys. Owned by one
// unit instance; the mutex covers concurrent Process calls.
type preagg struct {
	batcher batch.Batcher
	combine monoid.Combiner
	limit   int

	mu      sync.Mutex
	entries map[store.BatchKey]preaggEntry
}

type preaggEntry struct {
	val  any
	time time.Time
}

type flushedEntry struct {
	key  store.BatchKey
	val  any
	time time.Time
}

func newPreagg(b batch.Batcher, combine monoid.Combiner, limit int) *preagg {
	return &preagg{
		batcher: b,
		combine: combine,
		limit:   limit,
		entries: make(map[store.BatchKey]preaggEntry, limit),
	}
}

// add folds v into the entry for k. When the cache reaches its bound it is
// drained and the evicted entries are returned for downstream emission.
func (c *preagg) add(k store.BatchKey, v any, t time.Time) []flushedEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.entries[k]; ok {
		if t.Before(cur.time) {
			t = cur.time
		}
		c.entries[k] = preaggEntry{val: c.combine(cur.val, v), time: t}
	} else {
		c.entries[k] = preaggEntry{val: v, time: t}
	}

	if len(c.entries) < c.limit {
		return nil
	}
	return c.drainLocked()
}

func (c *preagg) drain() []flushedEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drainLocked()
}

func (c *preagg) drainLocked() []flushedEntry {
	if len(c.entries) == 0 {
		return nil
	}
	out := make([]flushedEntry, 0, len(c.entries))
	for k, e := range c.entries {
		out = append(out, flushedEntry{key: k, val: e.val, time: e.time})
	}
	clear(c.entries)
	return out
}

// buildTransformSpec translates a transform node via fusion. The downstream
// aggregation node, if any, must be the node's sole child; its batcher and
// combine operation parameterize the pre-aggregation cache.
func buildTransformSpec(g *pdag.Graph, node *pdag.Node, reg *Registry, cfg *RuntimeConfig, log logr.Logger) (UnitSpec, error) {
	var agg *pdag.SumOp
	for _, childID := range node.Children {
		child, ok := g.Nodes[childID]
		if !ok {
			return UnitSpec{}, fmt.Errorf("%w: node %s: unknown child %s", ErrUnknownNodeKind, node.ID, childID)
		}
		if child.Kind != pdag.NodeAggregation {
			continue
		}
		if len(node.Children) != 1 {
			return UnitSpec{}, fmt.Errorf("%w: node %s feeds aggregation %s but has %d children",
				ErrMalformedAggregation, node.ID, childID, len(node.Children))
		}
		sum, err := sumOf(child)
		if err != nil {
			return UnitSpec{}, err
		}
		agg = sum
	}

	par := Resolve(reg, node.Names, TransformParallelism{N: cfg.TransformParallelism})
	logResolution(log, node.ID, "TransformParallelism", par.Name, par.Default)

	maxInFlight := Resolve(reg, node.Names, MaxInFlight{N: cfg.MaxInFlight})
	logResolution(log, node.ID, "MaxInFlight", maxInFlight.Name, maxInFlight.Default)

	policy := Resolve(reg, node.Names, ErrorPolicy{Policy: PolicyFail})
	logResolution(log, node.ID, "ErrorPolicy", policy.Name, policy.Default)

	flushEvery := Resolve(reg, node.Names, FlushInterval{D: cfg.FlushInterval})
	logResolution(log, node.ID, "FlushInterval", flushEvery.Name, flushEvery.Default)

	var cacheSize Resolution[CacheSize]
	if agg != nil {
		cacheSize = Resolve(reg, node.Names, CacheSize{Entries: cfg.CacheSize})
		logResolution(log, node.ID, "CacheSize", cacheSize.Name, cacheSize.Default)
	}

	// Fuse once up front so illegal chains fail the compile, not the run.
	if _, err := fuseOps(node.ID, node.Ops, NewInflight(1)); err != nil {
		return UnitSpec{}, err
	}

	id, ops := node.ID, node.Ops
	aggRef := agg
	newUnit := func() (Unit, error) {
		fl := NewInflight(maxInFlight.Value.N)
		op, err := fuseOps(id, ops, fl)
		if err != nil {
			return nil, err
		}
		u := &TransformUnit{op: op, fl: fl}
		if aggRef != nil {
			u.pre = newPreagg(aggRef.Batcher, aggRef.Combine, cacheSize.Value.Entries)
		}
		return u, nil
	}

	return UnitSpec{
		Name:        string(node.ID),
		Kind:        UnitTransform,
		Parallelism: par.Value.N,
		HasUpstream: len(node.Parents) > 0,
		FlushEvery:  flushEvery.Value.D,
		Policy:      policy.Value.Policy,
		NewUnit:     newUnit,
	}, nil
}
