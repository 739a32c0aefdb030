package pdag

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// Validation limits to prevent pathological cases
const (
	MaxNodesPerGraph   = 10000
	MaxDepth           = 500
	MaxChildrenPerNode = 1000
)

// Validate performs all structural validations: size limits, cycle
// detection, orphan detection, and per-kind edge constraints.
// Returns early on first error for better UX.
func (g *Graph) Validate() error {
	if len(g.Nodes) > MaxNodesPerGraph {
		return fmt.Errorf("%w: node count %d exceeds maximum %d",
			ErrInvalidGraph, len(g.Nodes), MaxNodesPerGraph)
	}

	if err := g.detectCycles(); err != nil {
		return fmt.Errorf("graph validation failed: %w", err)
	}

	if err := g.validateNoOrphans(); err != nil {
		return fmt.Errorf("graph validation failed: %w", err)
	}

	if err := g.validateKinds(); err != nil {
		return fmt.Errorf("graph validation failed: %w", err)
	}

	return nil
}

// detectCycles uses depth-first search to find cycles.
// Returns ErrCycleDetected if any cycle is found.
// Time complexity: O(V + E).
func (g *Graph) detectCycles() error {
	visited := make(map[NodeID]bool, len(g.Nodes))
	recStack := make(map[NodeID]bool, len(g.Nodes))

	var dfs func(NodeID, []NodeID, int) error
	dfs = func(nodeID NodeID, path []NodeID, depth int) error {
		if depth > MaxDepth {
			return fmt.Errorf("%w: maximum depth %d exceeded", ErrInvalidGraph, MaxDepth)
		}

		visited[nodeID] = true
		recStack[nodeID] = true
		path = append(path, nodeID)

		node := g.Nodes[nodeID]
		if len(node.Children) > MaxChildrenPerNode {
			return fmt.Errorf("%w: node %s has %d children, exceeds maximum %d",
				ErrInvalidGraph, nodeID, len(node.Children), MaxChildrenPerNode)
		}

		for _, childID := range node.Children {
			if !visited[childID] {
				if err := dfs(childID, path, depth+1); err != nil {
					return err
				}
			} else if recStack[childID] {
				cyclePath := append(path, childID)
				pathStr := make([]string, len(cyclePath))
				for i, id := range cyclePath {
					pathStr[i] = string(id)
				}
				return fmt.Errorf("%w: %s", ErrCycleDetected, strings.Join(pathStr, " -> "))
			}
		}

		recStack[nodeID] = false
		return nil
	}

	// Check all nodes (handles disconnected components)
	for _, nodeID := range g.Order {
		if !visited[nodeID] {
			if err := dfs(nodeID, nil, 0); err != nil {
				return err
			}
		}
	}

	return nil
}

// validateNoOrphans checks that all nodes are reachable from a root, i.e. a
// node without parents. Roots are sources or transforms acting as effective
// sources.
func (g *Graph) validateNoOrphans() error {
	reachable := make(map[NodeID]bool, len(g.Nodes))

	for _, nodeID := range g.Order {
		if len(g.Nodes[nodeID].Parents) == 0 {
			g.markReachable(nodeID, reachable)
		}
	}

	var orphans []NodeID
	for nodeID := range g.Nodes {
		if !reachable[nodeID] {
			orphans = append(orphans, nodeID)
		}
	}

	if len(orphans) > 0 {
		slices.Sort(orphans) // Deterministic error message
		orphanStrs := make([]string, len(orphans))
		for i, id := range orphans {
			orphanStrs[i] = string(id)
		}
		return fmt.Errorf("%w (unreachable from roots): %s",
			ErrOrphanedNodes, strings.Join(orphanStrs, ", "))
	}

	return nil
}

// markReachable recursively marks all nodes reachable from the given node.
func (g *Graph) markReachable(nodeID NodeID, reachable map[NodeID]bool) {
	if reachable[nodeID] {
		return // Already visited
	}

	reachable[nodeID] = true
	node := g.Nodes[nodeID]

	for _, childID := range node.Children {
		g.markReachable(childID, reachable)
	}
}

// validateKinds enforces per-kind edge constraints: source nodes have no
// parents, aggregation nodes have no children and at least one parent, and
// every node owns at least one operator.
func (g *Graph) validateKinds() error {
	for _, nodeID := range g.Order {
		node := g.Nodes[nodeID]

		if len(node.Ops) == 0 {
			return fmt.Errorf("%w: node %s has no operators", ErrInvalidGraph, nodeID)
		}

		switch node.Kind {
		case NodeSource:
			if len(node.Parents) > 0 {
				return fmt.Errorf("%w: source node %s has parents", ErrInvalidGraph, nodeID)
			}
		case NodeAggregation:
			if len(node.Children) > 0 {
				return fmt.Errorf("%w: aggregation node %s has children", ErrInvalidGraph, nodeID)
			}
			if len(node.Parents) == 0 {
				return fmt.Errorf("%w: aggregation node %s has no parents", ErrInvalidGraph, nodeID)
			}
		case NodeTransform:
		default:
			return fmt.Errorf("%w: node %s has unknown kind %d", ErrInvalidGraph, nodeID, node.Kind)
		}
	}
	return nil
}

// insertSorted inserts an item into a sorted slice maintaining sort order.
// This is more efficient than repeatedly sorting the entire slice.
func insertSorted(slice []NodeID, item NodeID) []NodeID {
	idx := sort.Search(len(slice), func(i int) bool {
		return slice[i] >= item
	})
	return slices.Insert(slice, idx, item)
}

// TopologicalSort creates a deterministic topological ordering using Kahn's
// algorithm: parents before children, ties broken by node ID.
// Time complexity: O(V log V + E); the log V factor comes from maintaining
// sorted order for determinism.
func (g *Graph) TopologicalSort() ([]NodeID, error) {
	inDegree := make(map[NodeID]int, len(g.Nodes))
	for nodeID := range g.Nodes {
		inDegree[nodeID] = 0
	}
	for _, node := range g.Nodes {
		for _, childID := range node.Children {
			inDegree[childID]++
		}
	}

	queue := make([]NodeID, 0, len(g.Nodes)/4)
	for nodeID, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, nodeID)
		}
	}
	slices.Sort(queue)

	result := make([]NodeID, 0, len(g.Nodes))
	for len(queue) > 0 {
		nodeID := queue[0]
		queue = queue[1:]
		result = append(result, nodeID)

		node := g.Nodes[nodeID]
		children := make([]NodeID, len(node.Children))
		copy(children, node.Children)
		slices.Sort(children)

		for _, childID := range children {
			inDegree[childID]--
			if inDegree[childID] == 0 {
				queue = insertSorted(queue, childID)
			}
		}
	}

	if len(result) != len(g.Nodes) {
		return nil, fmt.Errorf("%w: topological sort failed", ErrCycleDetected)
	}

	return result, nil
}
