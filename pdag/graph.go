// Package pdag holds the physical node graph the planner compiles: typed
// physical nodes (source, transform, aggregation), each owning an ordered
// list of logical operators, wired with dependency edges. The graph is the
// output of the upstream partitioning step; Builder is a programmatic
// stand-in for it.
package pdag

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for graph construction and validation failures.
var (
	ErrNodeAlreadyExists = errors.New("node already exists")
	ErrNodeNotFound      = errors.New("node not found")
	ErrCycleDetected     = errors.New("cycle detected in graph")
	ErrOrphanedNodes     = errors.New("orphaned nodes found")
	ErrInvalidNodeID     = errors.New("invalid node ID")
	ErrInvalidGraph      = errors.New("invalid graph")
)

// NodeID is a strongly-typed identifier for physical nodes.
// NodeIDs must be non-empty and cannot contain whitespace.
type NodeID string

// Validate checks if the NodeID is valid.
// Returns ErrInvalidNodeID if the ID is empty or contains whitespace.
func (id NodeID) Validate() error {
	if id == "" {
		return fmt.Errorf("%w: NodeID cannot be empty", ErrInvalidNodeID)
	}
	if strings.ContainsAny(string(id), " \t\n\r") {
		return fmt.Errorf("%w: NodeID %q cannot contain whitespace", ErrInvalidNodeID, id)
	}
	return nil
}

// NodeKind is the physical kind of a node.
type NodeKind int

const (
	NodeSource NodeKind = iota
	NodeTransform
	NodeAggregation
)

func (k NodeKind) String() string {
	switch k {
	case NodeSource:
		return "Source"
	case NodeTransform:
		return "Transform"
	case NodeAggregation:
		return "Aggregation"
	default:
		return "Unknown"
	}
}

// Node is one physical node: its kind, the logical operators it owns, the
// names assigned to it, and its dependency edges.
//
// Ops are ordered from the output end inward: Ops[0] is the most recently
// applied (outermost) operator, Ops[len-1] the innermost. For a source node
// the innermost operator is the SourceOp itself.
//
// Names are ordered most specific first and are used only for option lookup.
type Node struct {
	ID   NodeID
	Kind NodeKind

	Ops   []Op
	Names []string

	// Parent edges (incoming)
	Parents []NodeID

	// Child edges (outgoing)
	Children []NodeID
}

// Graph is the physical node graph handed to the planner. It contains only
// structural information; runtime behavior is compiled out of it.
type Graph struct {
	Nodes map[NodeID]*Node

	// Deterministic node ordering (insertion order)
	Order []NodeID
}

// NewGraph creates a new empty graph.
func NewGraph() *Graph {
	return &Graph{
		Nodes: make(map[NodeID]*Node),
		Order: make([]NodeID, 0),
	}
}

// AddNode adds a node to the graph.
func (g *Graph) AddNode(node *Node) error {
	if err := node.ID.Validate(); err != nil {
		return err
	}
	if _, exists := g.Nodes[node.ID]; exists {
		return fmt.Errorf("%w: %s", ErrNodeAlreadyExists, node.ID)
	}
	g.Nodes[node.ID] = node
	g.Order = append(g.Order, node.ID)
	return nil
}

// AddEdge adds a directed dependency edge from parent to child.
func (g *Graph) AddEdge(parentID, childID NodeID) error {
	parent, ok := g.Nodes[parentID]
	if !ok {
		return fmt.Errorf("%w: parent %s", ErrNodeNotFound, parentID)
	}
	child, ok := g.Nodes[childID]
	if !ok {
		return fmt.Errorf("%w: child %s", ErrNodeNotFound, childID)
	}

	if parent.Kind == NodeAggregation {
		return fmt.Errorf("%w: aggregation node %s cannot have children", ErrInvalidGraph, parentID)
	}
	if child.Kind == NodeSource {
		return fmt.Errorf("%w: source node %s cannot be a child", ErrInvalidGraph, childID)
	}

	parent.Children = append(parent.Children, childID)
	child.Parents = append(child.Parents, parentID)
	return nil
}
