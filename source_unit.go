package petrel

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/petrel-stream/petrel/pdag"
)

// SourceUnit reads records from a producer, applying the filters folded out
// of the node's wrapper operators. It has no routed input; the runtime polls
// it and fans records out along the plan's outbound edges.
type SourceUnit struct {
	producer Producer

	// filter folds the node's Map wrappers over the full record, i.e. the
	// (timestamp, value) pair the producer carries. nil means passthrough.
	filter func(Record) (Record, bool)
}

// Poll returns the producer's next records with the wrapper filters
// applied.
func (u *SourceUnit) Poll(ctx context.Context) ([]Record, error) {
	recs, err := u.producer.Poll(ctx)
	if err != nil {
		return nil, err
	}
	if u.filter == nil {
		return recs, nil
	}
	// The producer keeps ownership of its slice; filtering never writes
	// into it.
	out := make([]Record, 0, len(recs))
	for _, rec := range recs {
		if mapped, keep := u.filter(rec); keep {
			out = append(out, mapped)
		}
	}
	return out, nil
}

// Commit acknowledges consumed input if the producer supports it. The
// runtime calls it after downstream units flushed.
func (u *SourceUnit) Commit(ctx context.Context) error {
	if c, ok := u.producer.(pdag.Committer); ok {
		return c.Commit(ctx)
	}
	return nil
}

func (u *SourceUnit) Close() error {
	return u.producer.Close()
}

// buildSourceSpec translates a source node. The Source marker must be the
// innermost operator; the remaining wrappers fold into a record filter. Any
// other operator kind is a planning error.
func buildSourceSpec(node *pdag.Node, reg *Registry, cfg *RuntimeConfig, log logr.Logger) (UnitSpec, error) {
	if len(node.Ops) == 0 {
		return UnitSpec{}, fmt.Errorf("%w: source node %s has no operators", ErrIllegalOperator, node.ID)
	}
	src, ok := node.Ops[len(node.Ops)-1].(*pdag.SourceOp)
	if !ok {
		return UnitSpec{}, fmt.Errorf("%w: source node %s: innermost operator is %s, want Source",
			ErrIllegalOperator, node.ID, node.Ops[len(node.Ops)-1].Kind())
	}

	var filter func(Record) (Record, bool)
	// Wrappers from the input end outward.
	for i := len(node.Ops) - 2; i >= 0; i-- {
		switch op := node.Ops[i].(type) {
		case *pdag.NameOp, *pdag.IdentityOp:
		case *pdag.MapOp:
			prev := filter
			fn := op.Fn
			filter = func(rec Record) (Record, bool) {
				if prev != nil {
					mapped, keep := prev(rec)
					if !keep {
						return rec, false
					}
					rec = mapped
				}
				out, keep := fn(any(rec))
				if !keep {
					return rec, false
				}
				mapped, ok := out.(Record)
				if !ok {
					// A source-position map must stay a record transform.
					return Record{Time: rec.Time, Data: out}, true
				}
				return mapped, true
			}
		default:
			return UnitSpec{}, fmt.Errorf("%w: source node %s: operator %s",
				ErrIllegalOperator, node.ID, node.Ops[i].Kind())
		}
	}

	defPar := cfg.SourceParallelism
	if h, ok := src.Producer.(pdag.ParallelismHinter); ok {
		defPar = h.DefaultParallelism()
	}
	par := Resolve(reg, node.Names, SourceParallelism{N: defPar})
	logResolution(log, node.ID, "SourceParallelism", par.Name, par.Default)

	policy := Resolve(reg, node.Names, ErrorPolicy{Policy: PolicyFail})
	logResolution(log, node.ID, "ErrorPolicy", policy.Name, policy.Default)

	producer := src.Producer
	f := filter
	return UnitSpec{
		Name:        string(node.ID),
		Kind:        UnitSource,
		Parallelism: par.Value.N,
		Policy:      policy.Value.Policy,
		NewSource: func() (*SourceUnit, error) {
			return &SourceUnit{producer: producer, filter: f}, nil
		},
	}, nil
}
