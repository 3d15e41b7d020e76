// ABOUTME: Graph data model for the pipeline engine: Graph, Node, Edge and their invariants.
// ABOUTME: A Graph is the lowered, engine-ready representation produced by the workflow loader.
package pipeline

import "sort"

// Graph is a directed graph of pipeline stages, lowered from a WorkflowDefinition
// (or a legacy graph-description document) by the workflow loader.
type Graph struct {
	Name         string
	Attrs        map[string]string // graph-level attributes (e.g. default_max_retry)
	Nodes        map[string]*Node
	Edges        []*Edge
	NodeDefaults map[string]string
	EdgeDefaults map[string]string
}

// Node is a stage in the pipeline graph.
type Node struct {
	ID    string
	Attrs map[string]string
}

// Edge is a directed transition between two stages, optionally guarded by a
// compiled condition clause string (see exprcompile.go / conditions.go).
type Edge struct {
	From  string
	To    string
	Attrs map[string]string // label, condition, weight
}

// FindNode returns the node with the given ID, or nil if absent.
func (g *Graph) FindNode(id string) *Node {
	if g.Nodes == nil {
		return nil
	}
	return g.Nodes[id]
}

// OutgoingEdges returns all edges whose From matches nodeID, in stable
// insertion order (the order the loader appended them).
func (g *Graph) OutgoingEdges(nodeID string) []*Edge {
	var out []*Edge
	for _, e := range g.Edges {
		if e.From == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// IncomingEdges returns all edges whose To matches nodeID.
func (g *Graph) IncomingEdges(nodeID string) []*Edge {
	var in []*Edge
	for _, e := range g.Edges {
		if e.To == nodeID {
			in = append(in, e)
		}
	}
	return in
}

// FindStartNode returns the node with shape=Mdiamond or type=start, or nil if
// absent.
func (g *Graph) FindStartNode() *Node {
	for _, n := range g.Nodes {
		if isStartNode(n) {
			return n
		}
	}
	return nil
}

// FindExitNodes returns every terminal node (shape=Msquare), sorted by ID for
// deterministic iteration.
func (g *Graph) FindExitNodes() []*Node {
	var exits []*Node
	for _, n := range g.Nodes {
		if isTerminal(n) {
			exits = append(exits, n)
		}
	}
	sort.Slice(exits, func(i, j int) bool { return exits[i].ID < exits[j].ID })
	return exits
}

// NodeIDs returns all node IDs in sorted order, for deterministic traversal
// and output.
func (g *Graph) NodeIDs() []string {
	ids := make([]string, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// isStartNode reports whether n is the graph's unique entry point.
func isStartNode(n *Node) bool {
	if n.Attrs == nil {
		return false
	}
	if n.Attrs["shape"] == "Mdiamond" {
		return true
	}
	return n.Attrs["type"] == "start"
}

// isTerminal reports whether n is a terminal/exit node.
func isTerminal(node *Node) bool {
	if node.Attrs == nil {
		return false
	}
	if node.Attrs["shape"] == "Msquare" {
		return true
	}
	return node.Attrs["type"] == "exit"
}
