package pdag

import "slices"

// NodeSnapshot is the machine-readable form of one node, used for
// diagnostics attached to compiled plans.
type NodeSnapshot struct {
	ID       string   `json:"id"`
	Kind     string   `json:"kind"`
	Ops      []string `json:"ops"`
	Names    []string `json:"names"`
	Children []string `json:"children,omitempty"`
}

// GraphSnapshot is the machine-readable form of the whole graph. Nodes are
// sorted by ID so the snapshot is deterministic.
type GraphSnapshot struct {
	Nodes []NodeSnapshot `json:"nodes"`
}

// Snapshot captures the graph as plain data, detached from the graph itself.
func (g *Graph) Snapshot() GraphSnapshot {
	ids := make([]NodeID, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	snap := GraphSnapshot{Nodes: make([]NodeSnapshot, 0, len(ids))}
	for _, id := range ids {
		node := g.Nodes[id]

		ops := make([]string, len(node.Ops))
		for i, op := range node.Ops {
			ops[i] = op.Kind().String()
		}

		children := make([]string, len(node.Children))
		for i, c := range node.Children {
			children[i] = string(c)
		}
		slices.Sort(children)

		snap.Nodes = append(snap.Nodes, NodeSnapshot{
			ID:       string(id),
			Kind:     node.Kind.String(),
			Ops:      ops,
			Names:    slices.Clone(node.Names),
			Children: children,
		})
	}
	return snap
}
