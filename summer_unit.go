package petrel

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/petrel-stream/petrel/batch"
	"github.com/petrel-stream/petrel/pdag"
	"github.com/petrel-stream/petrel/store"
	"go.uber.org/multierr"
)

// SummerUnit is an aggregation sink: each incoming (key, batch) entry is
// folded into the store's accumulator for exactly that pair and persisted
// asynchronously under the in-flight gate. Entries with different batch IDs
// address different accumulators and are never combined.
type SummerUnit struct {
	store   store.Mergeable
	batcher batch.Batcher
	fl      *Inflight

	onSuccess func(store.BatchKey, any)
	onFailure func(store.BatchKey, error)
}

func (u *SummerUnit) Process(ctx context.Context, rec Record, _ Emit) error {
	kv, ok := rec.Data.(KV)
	if !ok {
		return fmt.Errorf("%w: summer got %T", ErrPayloadNotKeyed, rec.Data)
	}
	// Pre-aggregated input arrives already keyed by (key, batch); anything
	// else is batched here from its event time.
	bk, ok := kv.Key.(store.BatchKey)
	if !ok {
		bk = store.BatchKey{Key: kv.Key, Batch: u.batcher.BatchOf(rec.Time)}
	}

	val := kv.Value
	return u.fl.Go(ctx, func(ctx context.Context) error {
		if err := u.store.Merge(ctx, bk, val); err != nil {
			if u.onFailure != nil {
				u.onFailure(bk, err)
			}
			return fmt.Errorf("merge key %v batch %d: %w", bk.Key, bk.Batch, err)
		}
		if u.onSuccess != nil {
			u.onSuccess(bk, val)
		}
		return nil
	})
}

// Flush awaits every in-flight persistence operation.
func (u *SummerUnit) Flush(ctx context.Context, _ Emit) error {
	return u.fl.Flush(ctx)
}

// Close drains in-flight persistence before releasing the store.
func (u *SummerUnit) Close() error {
	err := u.fl.Flush(context.Background())
	return multierr.Append(err, u.store.Close())
}

// sumOf extracts the Sum marker of an aggregation node. The node must hold
// exactly one Sum, at the innermost position, with only Name or Identity
// wrappers around it.
func sumOf(node *pdag.Node) (*pdag.SumOp, error) {
	if len(node.Ops) == 0 {
		return nil, fmt.Errorf("%w: node %s has no operators", ErrMalformedAggregation, node.ID)
	}
	for _, op := range node.Ops[:len(node.Ops)-1] {
		switch op.(type) {
		case *pdag.NameOp, *pdag.IdentityOp:
		default:
			return nil, fmt.Errorf("%w: node %s: operator %s around Sum",
				ErrMalformedAggregation, node.ID, op.Kind())
		}
	}
	sum, ok := node.Ops[len(node.Ops)-1].(*pdag.SumOp)
	if !ok {
		return nil, fmt.Errorf("%w: node %s: innermost operator is %s, want Sum",
			ErrMalformedAggregation, node.ID, node.Ops[len(node.Ops)-1].Kind())
	}
	if sum.Supplier == nil || sum.Batcher == nil || sum.Combine == nil {
		return nil, fmt.Errorf("%w: node %s: Sum is missing supplier, batcher, or combine",
			ErrMalformedAggregation, node.ID)
	}
	return sum, nil
}

// buildSummerSpec translates an aggregation node.
func buildSummerSpec(node *pdag.Node, reg *Registry, cfg *RuntimeConfig, log logr.Logger) (UnitSpec, error) {
	sum, err := sumOf(node)
	if err != nil {
		return UnitSpec{}, err
	}

	par := Resolve(reg, node.Names, SummerParallelism{N: cfg.SummerParallelism})
	logResolution(log, node.ID, "SummerParallelism", par.Name, par.Default)

	maxInFlight := Resolve(reg, node.Names, MaxInFlight{N: cfg.MaxInFlight})
	logResolution(log, node.ID, "MaxInFlight", maxInFlight.Name, maxInFlight.Default)

	policy := Resolve(reg, node.Names, ErrorPolicy{Policy: PolicyFail})
	logResolution(log, node.ID, "ErrorPolicy", policy.Name, policy.Default)

	flushEvery := Resolve(reg, node.Names, FlushInterval{D: cfg.FlushInterval})
	logResolution(log, node.ID, "FlushInterval", flushEvery.Name, flushEvery.Default)

	onSuccess := Resolve(reg, node.Names, OnSuccess{})
	logResolution(log, node.ID, "OnSuccess", onSuccess.Name, onSuccess.Default)

	onFailure := Resolve(reg, node.Names, OnFailure{})
	logResolution(log, node.ID, "OnFailure", onFailure.Name, onFailure.Default)

	newUnit := func() (Unit, error) {
		st, err := sum.Supplier()
		if err != nil {
			return nil, fmt.Errorf("summer %s: build store: %w", node.ID, err)
		}
		return &SummerUnit{
			store:     st,
			batcher:   sum.Batcher,
			fl:        NewInflight(maxInFlight.Value.N),
			onSuccess: onSuccess.Value.Fn,
			onFailure: onFailure.Value.Fn,
		}, nil
	}

	return UnitSpec{
		Name:        string(node.ID),
		Kind:        UnitSummer,
		Parallelism: par.Value.N,
		HasUpstream: true,
		FlushEvery:  flushEvery.Value.D,
		Policy:      policy.Value.Policy,
		NewUnit:     newUnit,
	}, nil
}
