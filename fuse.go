package petrel

import (
	"context"
	"fmt"

	"github.com/petrel-stream/petrel/pdag"
	"github.com/petrel-stream/petrel/store"
)

// chainShape tracks what the running chain is known to produce while fusing.
// The shape at the chain's input end is unknown: it depends on the upstream
// node, which the fuser never sees.
type chainShape int

const (
	shapeUnknown chainShape = iota
	shapeKeyed
	shapeUnkeyed
)

// fuseOps folds the operator list of one transform node into a single
// composed operation, as if each operator ran in sequence with no
// intermediate materialization. ops are ordered output end first; fusion
// processes them from the input end.
//
// Asynchronous steps (joins, sink writes) run under fl, the owning unit's
// in-flight gate.
//
// Fusion is a pure fold: the same list always yields the same composed
// behavior.
func fuseOps(id pdag.NodeID, ops []pdag.Op, fl *Inflight) (Operation, error) {
	steps := make([]Operation, 0, len(ops))
	shape := shapeUnknown

	// Input end of the chain is the last list element.
	for i := len(ops) - 1; i >= 0; i-- {
		switch op := ops[i].(type) {
		case *pdag.SourceOp:
			return nil, fmt.Errorf("%w: node %s: Source marker inside a transform chain", ErrIllegalOperator, id)
		case *pdag.SumOp:
			return nil, fmt.Errorf("%w: node %s: Sum marker inside a transform chain", ErrIllegalOperator, id)
		case *pdag.MapOp:
			steps = append(steps, mapStep(op))
			shape = shapeOf(op.Shape)
		case *pdag.FlatMapOp:
			steps = append(steps, flatMapStep(op))
			shape = shapeOf(op.Shape)
		case *pdag.KeyFlatMapOp:
			if shape == shapeUnkeyed {
				return nil, fmt.Errorf("%w: node %s: KeyFlatMap on an unkeyed chain", ErrChainNotKeyed, id)
			}
			steps = append(steps, keyFlatMapStep(op))
			shape = shapeKeyed
		case *pdag.JoinOp:
			if shape == shapeUnkeyed {
				return nil, fmt.Errorf("%w: node %s: Join on an unkeyed chain", ErrChainNotKeyed, id)
			}
			steps = append(steps, joinStep(op, fl))
			shape = shapeKeyed
		case *pdag.WriteOp:
			steps = append(steps, writeStep(op, fl))
		case *pdag.MergeOp, *pdag.NameOp, *pdag.IdentityOp:
			// No fusion effect. Merge becomes inbound edges; Name and
			// Identity only contribute assigned names.
		default:
			return nil, fmt.Errorf("%w: node %s: operator %s", ErrIllegalOperator, id, ops[i].Kind())
		}
	}

	// Compose back to front so steps[0] runs first.
	composed := Operation(func(ctx context.Context, rec Record, emit Emit) error {
		return emit(rec)
	})
	for i := len(steps) - 1; i >= 0; i-- {
		step, rest := steps[i], composed
		composed = func(ctx context.Context, rec Record, emit Emit) error {
			return step(ctx, rec, func(out Record) error {
				return rest(ctx, out, emit)
			})
		}
	}
	return composed, nil
}

func shapeOf(s pdag.Shape) chainShape {
	switch s {
	case pdag.ShapeKeyed:
		return shapeKeyed
	case pdag.ShapeUnkeyed:
		return shapeUnkeyed
	default:
		return shapeUnknown
	}
}

func mapStep(op *pdag.MapOp) Operation {
	return func(ctx context.Context, rec Record, emit Emit) error {
		out, keep := op.Fn(rec.Data)
		if !keep {
			return nil
		}
		return emit(Record{Time: rec.Time, Data: out})
	}
}

func flatMapStep(op *pdag.FlatMapOp) Operation {
	return func(ctx context.Context, rec Record, emit Emit) error {
		for _, out := range op.Fn(rec.Data) {
			if err := emit(Record{Time: rec.Time, Data: out}); err != nil {
				return err
			}
		}
		return nil
	}
}

func keyFlatMapStep(op *pdag.KeyFlatMapOp) Operation {
	return func(ctx context.Context, rec Record, emit Emit) error {
		kv, ok := rec.Data.(KV)
		if !ok {
			return fmt.Errorf("%w: KeyFlatMap got %T", ErrPayloadNotKeyed, rec.Data)
		}
		for _, k := range op.Fn(kv.Key) {
			if err := emit(Record{Time: rec.Time, Data: KV{Key: k, Value: kv.Value}}); err != nil {
				return err
			}
		}
		return nil
	}
}

// joinStep looks up the record's key and emits the value paired with the
// (possibly absent) result. The lookup runs under the in-flight gate and is
// awaited inline: the record is not forwarded until the result is known.
func joinStep(op *pdag.JoinOp, fl *Inflight) Operation {
	return func(ctx context.Context, rec Record, emit Emit) error {
		kv, ok := rec.Data.(KV)
		if !ok {
			return fmt.Errorf("%w: Join got %T", ErrPayloadNotKeyed, rec.Data)
		}

		var joined store.Joined
		err := fl.Do(ctx, func(ctx context.Context) error {
			res, found, err := op.Service.Lookup(ctx, kv.Key)
			if err != nil {
				return fmt.Errorf("join lookup for key %v: %w", kv.Key, err)
			}
			joined = store.Joined{Value: kv.Value, Result: res, Found: found}
			return nil
		})
		if err != nil {
			return err
		}

		return emit(Record{Time: rec.Time, Data: KV{Key: kv.Key, Value: joined}})
	}
}

// writeStep forwards the record unchanged while the sink call runs
// asynchronously. The call is tracked by the gate; its outcome surfaces at
// the unit's next Flush, never in the forwarded record.
func writeStep(op *pdag.WriteOp, fl *Inflight) Operation {
	return func(ctx context.Context, rec Record, emit Emit) error {
		data := rec.Data
		if err := fl.Go(ctx, func(ctx context.Context) error {
			return op.Sink.Accept(ctx, data)
		}); err != nil {
			return err
		}
		return emit(rec)
	}
}
