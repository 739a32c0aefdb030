package pdag

import (
	"fmt"
)

// Builder constructs a physical node graph. It stands in for the upstream
// partitioning step, which normally derives the graph from a logical
// dataflow description.
//
// IMPORTANT: Builder is NOT safe for concurrent use. All registration
// methods must be called from a single goroutine. The resulting Graph
// is immutable and safe to use concurrently.
type Builder struct {
	graph *Graph
}

// NewBuilder creates a new graph builder.
func NewBuilder() *Builder {
	return &Builder{
		graph: NewGraph(),
	}
}

// Build validates and finalizes the graph.
func (b *Builder) Build() (*Graph, error) {
	if err := b.graph.Validate(); err != nil {
		return nil, err
	}
	return b.graph, nil
}

// MustBuild is like Build but panics on error.
func (b *Builder) MustBuild() *Graph {
	g, err := b.Build()
	if err != nil {
		panic(err)
	}
	return g
}

// GetNode returns a node by ID if it exists.
func (b *Builder) GetNode(id NodeID) (*Node, bool) {
	node, ok := b.graph.Nodes[id]
	return node, ok
}

// AddNode adds a node of the given kind owning ops, ordered output end
// first. Assigned names are derived from the NameOps in the list, most
// recently applied first, with the node ID appended as the least specific
// fallback name.
func (b *Builder) AddNode(id NodeID, kind NodeKind, ops ...Op) error {
	if err := id.Validate(); err != nil {
		return err
	}
	if _, exists := b.graph.Nodes[id]; exists {
		return fmt.Errorf("%w: %s", ErrNodeAlreadyExists, id)
	}

	names := make([]string, 0, 1)
	for _, op := range ops {
		if n, ok := op.(*NameOp); ok {
			names = append(names, n.Name)
		}
	}
	names = append(names, string(id))

	node := &Node{
		ID:       id,
		Kind:     kind,
		Ops:      ops,
		Names:    names,
		Parents:  []NodeID{},
		Children: []NodeID{},
	}

	b.graph.Nodes[id] = node
	b.graph.Order = append(b.graph.Order, id)
	return nil
}

// AddSource adds a source node: the producer wrapped in src as the innermost
// operator, plus any wrappers (Name, Identity, Map) applied after it,
// outermost first.
func (b *Builder) AddSource(id NodeID, src *SourceOp, wrappers ...Op) error {
	ops := make([]Op, 0, len(wrappers)+1)
	ops = append(ops, wrappers...)
	ops = append(ops, src)
	return b.AddNode(id, NodeSource, ops...)
}

// AddTransform adds a transform node owning ops, ordered output end first.
func (b *Builder) AddTransform(id NodeID, ops ...Op) error {
	return b.AddNode(id, NodeTransform, ops...)
}

// AddAggregation adds an aggregation node: sum as the node's tail content,
// plus any Name or Identity wrappers applied after it, outermost first.
func (b *Builder) AddAggregation(id NodeID, sum *SumOp, wrappers ...Op) error {
	ops := make([]Op, 0, len(wrappers)+1)
	ops = append(ops, wrappers...)
	ops = append(ops, sum)
	return b.AddNode(id, NodeAggregation, ops...)
}

// Connect adds a dependency edge from parent to child.
func (b *Builder) Connect(parent, child NodeID) error {
	return b.graph.AddEdge(parent, child)
}

// MustAddSource is like AddSource but panics on error.
func (b *Builder) MustAddSource(id NodeID, src *SourceOp, wrappers ...Op) {
	must(b.AddSource(id, src, wrappers...))
}

// MustAddTransform is like AddTransform but panics on error.
func (b *Builder) MustAddTransform(id NodeID, ops ...Op) {
	must(b.AddTransform(id, ops...))
}

// MustAddAggregation is like AddAggregation but panics on error.
func (b *Builder) MustAddAggregation(id NodeID, sum *SumOp, wrappers ...Op) {
	must(b.AddAggregation(id, sum, wrappers...))
}

// MustConnect is like Connect but panics on error.
func (b *Builder) MustConnect(parent, child NodeID) {
	must(b.Connect(parent, child))
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
