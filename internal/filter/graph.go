package filter

import (
	"fmt"
	"strings"

	"github.com/starford/cmmgraph/internal/module"
)

// Direction selects which connectors a traversal follows.
type Direction int

const (
	// Upstream follows bound plugs to the nodes feeding them.
	Upstream Direction = 1 << iota
	// Downstream follows sockets to the plugs they drive.
	Downstream

	Both = Upstream | Downstream
)

// Edge is one plug to socket binding.
type Edge struct {
	Plug   *Plug
	Socket *Socket
}

func (e Edge) String() string {
	return fmt.Sprintf("%s.%d -> %s.%d", e.Socket.node.name, e.Socket.index, e.Plug.node.name, e.Plug.index)
}

// Graph is a view over the nodes reachable from a start node. It does not
// own the nodes. Nodes are kept in depth-first visit order and edges in the
// order they were found, so repeated traversals of an unchanged graph give
// identical results.
type Graph struct {
	nodes []*Node
	edges []Edge
	seen  map[*Node]int
}

// FromNode collects the nodes reachable from start by following bound
// connectors in dir. A non-empty mark restricts the walk to nodes carrying
// a tag with that key; start is always included.
func FromNode(start *Node, dir Direction, mark string) *Graph {
	g := &Graph{seen: make(map[*Node]int)}
	if start == nil {
		return g
	}
	edges := make(map[*Plug]bool)
	g.visit(start, dir, mark, edges)
	return g
}

func (g *Graph) visit(n *Node, dir Direction, mark string, edges map[*Plug]bool) {
	g.seen[n] = len(g.nodes)
	g.nodes = append(g.nodes, n)

	if dir&Upstream != 0 {
		for _, p := range n.plugs {
			if p.remote == nil {
				continue
			}
			g.step(p, p.remote.node, dir, mark, edges)
		}
	}
	if dir&Downstream != 0 {
		for _, s := range n.sockets {
			for _, p := range s.plugs {
				g.step(p, p.node, dir, mark, edges)
			}
		}
	}
}

func (g *Graph) step(p *Plug, next *Node, dir Direction, mark string, edges map[*Plug]bool) {
	if !next.hasMark(mark) {
		if _, ok := g.seen[next]; !ok {
			return
		}
	}
	if !edges[p] {
		edges[p] = true
		g.edges = append(g.edges, Edge{Plug: p, Socket: p.remote})
	}
	if _, ok := g.seen[next]; !ok {
		g.visit(next, dir, mark, edges)
	}
}

// Nodes returns the nodes in visit order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Edges returns the edges in collection order.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// Contains reports whether n is part of the graph.
func (g *Graph) Contains(n *Node) bool {
	_, ok := g.seen[n]
	return ok
}

func (g *Graph) selects(n *Node, pattern, mark string) bool {
	if pattern != "" && module.Match(n.core.registration, pattern) == 0 {
		return false
	}
	return n.hasMark(mark)
}

// CountNodes counts nodes whose registration matches pattern and which
// carry mark. Empty filters match all.
func (g *Graph) CountNodes(pattern, mark string) int {
	count := 0
	for _, n := range g.nodes {
		if g.selects(n, pattern, mark) {
			count++
		}
	}
	return count
}

// Node returns the pos'th node selected by pattern and mark, or nil.
func (g *Graph) Node(pos int, pattern, mark string) *Node {
	for _, n := range g.nodes {
		if !g.selects(n, pattern, mark) {
			continue
		}
		if pos == 0 {
			return n
		}
		pos--
	}
	return nil
}

// CountEdges returns the number of edges.
func (g *Graph) CountEdges() int { return len(g.edges) }

// Edge returns edge i.
func (g *Graph) Edge(i int) (Edge, bool) {
	if i < 0 || i >= len(g.edges) {
		return Edge{}, false
	}
	return g.edges[i], true
}

// Sorted returns the nodes ordered so that every node follows all nodes
// feeding it within the graph. Ties keep visit order. Nodes caught in a
// cycle are appended in visit order.
func (g *Graph) Sorted() []*Node {
	indeg := make(map[*Node]int, len(g.nodes))
	down := make(map[*Node][]*Node, len(g.nodes))
	for _, e := range g.edges {
		indeg[e.Plug.node]++
		down[e.Socket.node] = append(down[e.Socket.node], e.Plug.node)
	}
	done := make(map[*Node]bool, len(g.nodes))
	out := make([]*Node, 0, len(g.nodes))
	for len(out) < len(g.nodes) {
		next := -1
		for i, n := range g.nodes {
			if !done[n] && indeg[n] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			for _, n := range g.nodes {
				if !done[n] {
					done[n] = true
					out = append(out, n)
				}
			}
			break
		}
		n := g.nodes[next]
		done[n] = true
		out = append(out, n)
		for _, d := range down[n] {
			indeg[d]--
		}
	}
	return out
}

// PrepareContexts builds the context of every node, upstream nodes first.
// force drops existing contexts before building. The first failure stops
// the preparation; contexts built before it stay cached.
func (g *Graph) PrepareContexts(force bool) error {
	for _, n := range g.Sorted() {
		if force {
			n.invalidate()
		}
		if _, err := n.Context(); err != nil {
			return err
		}
	}
	return nil
}

// ToText renders the graph as Graphviz dot. Node and edge order follow the
// graph's order, so equal graphs render to equal text.
func (g *Graph) ToText(head string) string {
	var b strings.Builder
	b.WriteString("digraph G {\n")
	if head != "" {
		fmt.Fprintf(&b, "  label=%q;\n", head)
	}
	b.WriteString("  node [shape=box];\n")
	for _, n := range g.nodes {
		fmt.Fprintf(&b, "  %q [label=%q];\n", n.name, n.name+"\n"+n.core.signature+" "+n.core.registration)
	}
	for _, e := range g.edges {
		fmt.Fprintf(&b, "  %q -> %q [taillabel=%q, headlabel=%q];\n",
			e.Socket.node.name, e.Plug.node.name, e.Socket.tpl.Name, e.Plug.tpl.Name)
	}
	b.WriteString("}\n")
	return b.String()
}
