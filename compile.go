package petrel

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/go-logr/logr"
	"github.com/petrel-stream/petrel/pdag"
)

// CompileOption configures one compile run.
type CompileOption func(*compiler)

// WithLogger sets the logger used for resolution diagnostics. Defaults to
// logr.Discard.
var WithLogger = func(log logr.Logger) CompileOption {
	return func(c *compiler) {
		c.log = log
	}
}

// WithConfigTransform applies fn to the baseline runtime configuration
// before it is finalized into the plan. Transforms apply in the order given.
var WithConfigTransform = func(fn func(*RuntimeConfig)) CompileOption {
	return func(c *compiler) {
		c.transforms = append(c.transforms, fn)
	}
}

type compiler struct {
	log        logr.Logger
	transforms []func(*RuntimeConfig)
}

// Compile translates the physical node graph into an execution plan:
// one schedulable unit per node, one labeled routing edge per dependency
// edge, and the finalized runtime configuration. Compilation is synchronous,
// performs no I/O, and is deterministic: equal inputs yield structurally
// equal plans regardless of node-visitation order. Any node failure aborts
// the whole compilation.
func Compile(g *pdag.Graph, reg *Registry, opts ...CompileOption) (*Plan, error) {
	c := &compiler{log: logr.Discard()}
	for _, opt := range opts {
		opt(c)
	}

	if err := g.Validate(); err != nil {
		return nil, err
	}

	cfg := DefaultRuntimeConfig()
	for _, fn := range c.transforms {
		fn(&cfg)
	}

	// Units are emitted parents-first; ties break on node ID, so equal
	// inputs still yield structurally equal plans.
	ids, err := g.TopologicalSort()
	if err != nil {
		return nil, err
	}

	plan := &Plan{}
	for _, id := range ids {
		node := g.Nodes[id]

		var (
			spec UnitSpec
			err  error
		)
		switch node.Kind {
		case pdag.NodeSource:
			spec, err = buildSourceSpec(node, reg, &cfg, c.log)
		case pdag.NodeTransform:
			spec, err = buildTransformSpec(g, node, reg, &cfg, c.log)
		case pdag.NodeAggregation:
			spec, err = buildSummerSpec(node, reg, &cfg, c.log)
		default:
			err = fmt.Errorf("%w: node %s has kind %d", ErrUnknownNodeKind, node.ID, node.Kind)
		}
		if err != nil {
			return nil, fmt.Errorf("compile node %s: %w", node.ID, err)
		}
		plan.Units = append(plan.Units, spec)

		routing := RouteUnconstrained
		if node.Kind == pdag.NodeAggregation {
			// Partitioned on the (key, batch) pair: equal keys must
			// converge on one summer instance or partial sums diverge.
			routing = RouteKeyPartitioned
		}
		for _, parent := range node.Parents {
			plan.Edges = append(plan.Edges, Edge{
				From:    string(parent),
				To:      string(node.ID),
				Routing: routing,
			})
		}
	}

	slices.SortFunc(plan.Edges, func(a, b Edge) int {
		if a.From != b.From {
			if a.From < b.From {
				return -1
			}
			return 1
		}
		if a.To != b.To {
			if a.To < b.To {
				return -1
			}
			return 1
		}
		return 0
	})

	logical, err := json.Marshal(g.Snapshot())
	if err != nil {
		return nil, fmt.Errorf("snapshot node graph: %w", err)
	}
	physical, err := json.Marshal(snapshotPlan(plan))
	if err != nil {
		return nil, fmt.Errorf("snapshot plan: %w", err)
	}
	cfg.Diagnostics = Diagnostics{Logical: logical, Physical: physical}
	plan.Config = cfg

	return plan, nil
}

// planSnapshot is the machine-readable form of the compiled units and
// edges, attached to the runtime configuration for diagnostics.
type planSnapshot struct {
	Units []unitSnapshot `json:"units"`
	Edges []edgeSnapshot `json:"edges"`
}

type unitSnapshot struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Parallelism int    `json:"parallelism"`
	HasUpstream bool   `json:"hasUpstream"`
}

type edgeSnapshot struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Routing string `json:"routing"`
}

func snapshotPlan(p *Plan) planSnapshot {
	snap := planSnapshot{
		Units: make([]unitSnapshot, 0, len(p.Units)),
		Edges: make([]edgeSnapshot, 0, len(p.Edges)),
	}
	for _, u := range p.Units {
		snap.Units = append(snap.Units, unitSnapshot{
			Name:        u.Name,
			Kind:        u.Kind.String(),
			Parallelism: u.Parallelism,
			HasUpstream: u.HasUpstream,
		})
	}
	for _, e := range p.Edges {
		snap.Edges = append(snap.Edges, edgeSnapshot{
			From:    e.From,
			To:      e.To,
			Routing: e.Routing.String(),
		})
	}
	return snap
}

// logResolution records one option lookup: defaults at V(1), applied
// overrides at Info with the attributed name.
func logResolution(log logr.Logger, node pdag.NodeID, option, from string, isDefault bool) {
	if isDefault {
		log.V(1).Info("option default used", "node", string(node), "option", option)
		return
	}
	log.Info("option override applied", "node", string(node), "option", option, "from", from)
}
