package filter

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/starford/cmmgraph/internal/connector"
	"github.com/starford/cmmgraph/internal/module"
)

var (
	testPlug = connector.Template{
		Name:        "in",
		TypeID:      "image",
		Input:       true,
		DataTypes:   []connector.DataType{connector.Float64},
		Cardinality: connector.Cardinality{Min: 1, Max: 1},
	}
	testSocket = connector.Template{
		Name:        "out",
		TypeID:      "image",
		DataTypes:   []connector.DataType{connector.Float64},
		Cardinality: connector.Cardinality{Max: connector.Unbounded},
	}
)

// testFilter is a configurable filter record.
type testFilter struct {
	module.Record
	shape    Shape
	ctxType  string
	builds   int
	buildErr error
	onBuild  func(n *Node)
	run      func(f *testFilter, n *Node, req *Plug, t *Ticket) int
	emitted  map[*Ticket]int
}

func (f *testFilter) Shape() Shape        { return f.shape }
func (f *testFilter) Category() string    { return "test" }
func (f *testFilter) ContextType() string { return f.ctxType }

func (f *testFilter) BuildContext(n *Node) (any, error) {
	f.builds++
	if f.onBuild != nil {
		f.onBuild(n)
	}
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	return n.Options().Text(), nil
}

func (f *testFilter) Run(n *Node, req *Plug, t *Ticket) int {
	return f.run(f, n, req, t)
}

func sourceRun(f *testFilter, n *Node, req *Plug, t *Ticket) int {
	if code := n.Options().Int("fail", 0); code > 0 {
		return code
	}
	i := f.emitted[t]
	if i >= n.Options().Int("rows", 3) {
		return StatusEnd
	}
	if r := t.Pending("roi"); r != nil {
		r.Resolve(Rect{Width: 1, Height: n.Options().Int("rows", 3)})
	}
	t.Emit(req, &Block{Rect: Rect{Y: i, Width: 1, Height: 1}, Channels: 1, Data: []float64{float64(i)}})
	f.emitted[t]++
	return StatusOK
}

func transformRun(_ *testFilter, n *Node, req *Plug, t *Ticket) int {
	b, status := t.Pull(n.Plug(0))
	if status != StatusOK {
		return status
	}
	if _, err := n.Context(); err != nil {
		return StatusFailed
	}
	gain := n.Options().Float("gain", 1)
	out := &Block{Rect: b.Rect, Channels: b.Channels, Data: make([]float64, len(b.Data))}
	for i, v := range b.Data {
		out.Data[i] = v * gain
	}
	t.Emit(req, out)
	return StatusOK
}

func sinkRun(_ *testFilter, n *Node, _ *Plug, t *Ticket) int {
	b, status := t.Pull(n.Plug(0))
	if status != StatusOK {
		return status
	}
	if t.Output != nil {
		t.Output.Put(b)
	}
	return StatusOK
}

type testEnv struct {
	rt    *Runtime
	src   *testFilter
	xfm   *testFilter
	sink  *testFilter
	blend *testFilter
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		src: &testFilter{
			Record:  module.Record{Capability: module.KindFilter, Path: "sw/test/imaging/root.source"},
			shape:   Shape{Sockets: []connector.Template{testSocket}},
			run:     sourceRun,
			emitted: make(map[*Ticket]int),
		},
		xfm: &testFilter{
			Record:  module.Record{Capability: module.KindFilter, Path: "sw/test/imaging/icc.transform"},
			shape:   Shape{Plugs: []connector.Template{testPlug}, Sockets: []connector.Template{testSocket}},
			ctxType: "lut",
			run:     transformRun,
		},
		sink: &testFilter{
			Record: module.Record{Capability: module.KindFilter, Path: "sw/test/imaging/output.sink"},
			shape:  Shape{Plugs: []connector.Template{testPlug}},
			run:    sinkRun,
		},
		blend: &testFilter{
			Record: module.Record{Capability: module.KindFilter, Path: "sw/test/imaging/blend.compositor"},
			shape: Shape{
				Plugs:      []connector.Template{testPlug},
				Sockets:    []connector.Template{testSocket},
				ExtraPlugs: 2,
			},
			run: transformRun,
		},
	}
	reg := module.NewRegistry()
	for sig, f := range map[string]*testFilter{"tsrc": env.src, "txfm": env.xfm, "tsnk": env.sink, "tbln": env.blend} {
		require.NoError(t, reg.Register(&module.Module{Info: module.Info{Signature: sig}, APIs: []module.API{f}}))
	}
	env.rt = NewRuntime(reg)
	return env
}

func (e *testEnv) node(t *testing.T, pattern string) *Node {
	t.Helper()
	n, err := e.rt.NewNodeFor(pattern, module.Criteria{})
	require.NoError(t, err)
	return n
}

// chain builds source -> n transforms -> sink and returns all nodes in
// that order.
func (e *testEnv) chain(t *testing.T, transforms, rows int) []*Node {
	t.Helper()
	src := e.node(t, "root.source")
	require.NoError(t, src.SetOption("rows", strconv.Itoa(rows)))
	nodes := []*Node{src}
	prev := src
	for i := 0; i < transforms; i++ {
		x := e.node(t, "icc.transform")
		require.NoError(t, x.Connect(0, prev, 0))
		nodes = append(nodes, x)
		prev = x
	}
	sink := e.node(t, "output.sink")
	require.NoError(t, sink.Connect(0, prev, 0))
	return append(nodes, sink)
}
