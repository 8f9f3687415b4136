package filter

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/starford/cmmgraph/internal/apperr"
)

func names(nodes []*Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Name()
	}
	return out
}

func edgeNames(g *Graph) []string {
	var out []string
	for _, e := range g.Edges() {
		out = append(out, e.String())
	}
	return out
}

func TestFromNode_TwoNodes(t *testing.T) {
	env := newTestEnv(t)
	a := env.node(t, "root.source")
	b := env.node(t, "output.sink")
	require.NoError(t, b.Connect(0, a, 0))

	for _, start := range []*Node{a, b} {
		g := FromNode(start, Both, "")
		require.Equal(t, 2, g.CountNodes("", ""))
		require.Equal(t, 1, g.CountEdges())
		e, ok := g.Edge(0)
		require.True(t, ok)
		require.Same(t, b.Plug(0), e.Plug)
		require.Same(t, a.Socket(0), e.Socket)
	}
	_, ok := FromNode(a, Both, "").Edge(1)
	require.False(t, ok)
}

func TestFromNode_Directions(t *testing.T) {
	env := newTestEnv(t)
	nodes := env.chain(t, 1, 3)
	src, x, sink := nodes[0], nodes[1], nodes[2]

	require.Equal(t, []string{x.Name(), src.Name()}, names(FromNode(x, Upstream, "").Nodes()))
	require.Equal(t, []string{x.Name(), sink.Name()}, names(FromNode(x, Downstream, "").Nodes()))
	require.Equal(t, 3, FromNode(x, Both, "").CountNodes("", ""))
	require.Equal(t, 1, FromNode(src, Upstream, "").CountNodes("", ""))
}

func TestFromNode_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	nodes := env.chain(t, 2, 3)
	extra := env.node(t, "output.sink")
	require.NoError(t, extra.Connect(0, nodes[1], 0))

	g1 := FromNode(nodes[2], Both, "")
	g2 := FromNode(nodes[2], Both, "")
	if diff := cmp.Diff(names(g1.Nodes()), names(g2.Nodes())); diff != "" {
		t.Errorf("nodes differ (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(edgeNames(g1), edgeNames(g2)); diff != "" {
		t.Errorf("edges differ (-first +second):\n%s", diff)
	}
	require.Equal(t, 5, g1.CountNodes("", ""))
	require.Equal(t, 4, g1.CountEdges())
	require.Equal(t, g1.ToText("x"), g2.ToText("x"))
}

func TestFromNode_Mark(t *testing.T) {
	env := newTestEnv(t)
	nodes := env.chain(t, 2, 3)
	nodes[1].SetTag("part", "1")
	nodes[2].SetTag("part", "1")

	g := FromNode(nodes[2], Both, "part")
	require.Equal(t, []string{nodes[2].Name(), nodes[1].Name()}, names(g.Nodes()))
	require.Equal(t, 1, g.CountEdges())

	// The start node is kept even without the tag.
	g = FromNode(nodes[0], Both, "part")
	require.Equal(t, 3, g.CountNodes("", ""))
	require.Equal(t, 2, g.CountNodes("", "part"))
}

func TestGraph_NodeLookup(t *testing.T) {
	env := newTestEnv(t)
	nodes := env.chain(t, 2, 3)
	g := FromNode(nodes[0], Both, "")

	require.Equal(t, 2, g.CountNodes("icc.transform", ""))
	require.Same(t, nodes[1], g.Node(0, "//imaging/icc", ""))
	require.Same(t, nodes[2], g.Node(1, "//imaging/icc", ""))
	require.Nil(t, g.Node(2, "//imaging/icc", ""))
	require.Same(t, nodes[3], g.Node(0, "output", ""))
	require.True(t, g.Contains(nodes[3]))
}

func TestGraph_SortedUpstreamFirst(t *testing.T) {
	env := newTestEnv(t)
	nodes := env.chain(t, 2, 3)
	g := FromNode(nodes[3], Upstream, "")
	require.Equal(t, names(nodes), names(g.Sorted()))
}

func TestPrepareContexts_OrderAndAbort(t *testing.T) {
	env := newTestEnv(t)
	nodes := env.chain(t, 2, 3)
	x1, x2 := nodes[1], nodes[2]
	require.NoError(t, x2.SetOption("gain", "2"))

	var order []string
	boom := errors.New("unsupported rendering intent")
	env.xfm.onBuild = func(n *Node) {
		order = append(order, n.Name())
		if n == x2 {
			env.xfm.buildErr = boom
		}
	}

	err := FromNode(nodes[3], Upstream, "").PrepareContexts(false)
	require.ErrorIs(t, err, boom)
	var ne *apperr.NodeError
	require.True(t, errors.As(err, &ne))
	require.Equal(t, x2.Name(), ne.Node)
	require.Equal(t, []string{x1.Name(), x2.Name()}, order)
	require.True(t, x1.HasContext())
	require.False(t, x2.HasContext())

	// Retry reuses the context of x1.
	env.xfm.buildErr = nil
	env.xfm.onBuild = nil
	require.NoError(t, FromNode(nodes[3], Upstream, "").PrepareContexts(false))
	require.Equal(t, 3, env.xfm.builds)
}

func TestPrepareContexts_Force(t *testing.T) {
	env := newTestEnv(t)
	nodes := env.chain(t, 1, 3)
	g := FromNode(nodes[2], Upstream, "")
	require.NoError(t, g.PrepareContexts(false))
	require.NoError(t, g.PrepareContexts(false))
	require.Equal(t, 1, env.xfm.builds)
	require.NoError(t, g.PrepareContexts(true))
	require.Equal(t, 2, env.xfm.builds)
}

func TestToText(t *testing.T) {
	env := newTestEnv(t)
	a := env.node(t, "root.source")
	b := env.node(t, "output.sink")
	a.SetName("src")
	b.SetName("out")
	require.NoError(t, b.Connect(0, a, 0))

	want := strings.Join([]string{
		`digraph G {`,
		`  label="two nodes";`,
		`  node [shape=box];`,
		`  "out" [label="out\ntsnk sw/test/imaging/output.sink"];`,
		`  "src" [label="src\ntsrc sw/test/imaging/root.source"];`,
		`  "src" -> "out" [taillabel="out", headlabel="in"];`,
		`}`,
		``,
	}, "\n")
	if diff := cmp.Diff(want, FromNode(b, Both, "").ToText("two nodes")); diff != "" {
		t.Errorf("ToText mismatch (-want +got):\n%s", diff)
	}
}
