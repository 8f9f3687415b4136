package modules

import (
	"fmt"
	"math"

	"github.com/starford/cmmgraph/internal/connector"
	"github.com/starford/cmmgraph/internal/filter"
	"github.com/starford/cmmgraph/internal/module"
)

// LUT is the context of the transform filters: one table per channel
// mapping normalised input to normalised output.
type LUT struct {
	Size   int
	Tables [][]float64
}

func buildLUT(size, channels int, gain, gamma float64) (*LUT, error) {
	if channels < 1 {
		return nil, fmt.Errorf("lut: %d channels", channels)
	}
	if gamma <= 0 {
		return nil, fmt.Errorf("lut: gamma %v must be positive", gamma)
	}
	l := &LUT{Size: size, Tables: make([][]float64, channels)}
	for c := range l.Tables {
		tab := make([]float64, size)
		for i := range tab {
			v := math.Pow(float64(i)/float64(size-1), gamma) * gain
			tab[i] = math.Max(0, math.Min(1, v))
		}
		l.Tables[c] = tab
	}
	return l, nil
}

// Apply maps v of channel c through the table with linear interpolation.
func (l *LUT) Apply(c int, v float64) float64 {
	tab := l.Tables[c%len(l.Tables)]
	pos := math.Max(0, math.Min(1, v)) * float64(l.Size-1)
	i := int(pos)
	if i >= l.Size-1 {
		return tab[l.Size-1]
	}
	f := pos - float64(i)
	return tab[i]*(1-f) + tab[i+1]*f
}

// transform applies a per-channel LUT built from the gain and gamma
// options.
type transform struct {
	module.Record
	rank    module.Rank
	lutSize int
}

func (x *transform) Check(c module.Criteria) module.Rank {
	if c.Pattern != "" && module.Match(x.Path, c.Pattern) == 0 {
		return 0
	}
	return x.rank
}

func (x *transform) Shape() filter.Shape {
	return filter.Shape{
		Plugs:   []connector.Template{imagePlug("in")},
		Sockets: []connector.Template{imageSocket("out")},
	}
}

func (x *transform) Category() string    { return "color" }
func (x *transform) ContextType() string { return "lut" }

func (x *transform) BuildContext(n *filter.Node) (any, error) {
	o := n.Options()
	return buildLUT(x.lutSize, o.Int("channels", 3), o.Float("gain", 1), o.Float("gamma", 1))
}

// runTransform is shared by both transform providers.
func runTransform(n *filter.Node, req *filter.Plug, t *filter.Ticket) int {
	b, status := t.Pull(n.Plug(0))
	if status != filter.StatusOK {
		return status
	}
	v, err := n.Context()
	if err != nil {
		return StatusNoContext
	}
	lut := v.(*LUT)
	out := &filter.Block{Rect: b.Rect, Channels: b.Channels, Data: make([]float64, len(b.Data))}
	for i, s := range b.Data {
		out.Data[i] = lut.Apply(i%b.Channels, s)
	}
	t.Emit(req, out)
	return filter.StatusOK
}

// lcm2Transform runs from the filter record itself.
type lcm2Transform struct{ transform }

func (x *lcm2Transform) Run(n *filter.Node, req *filter.Plug, t *filter.Ticket) int {
	return runTransform(n, req, t)
}

func newLcm2() *module.Module {
	return &module.Module{
		Info: module.Info{
			Signature:  "lcm2",
			Name:       "little cms 2",
			Version:    module.Version{2, 16, 0},
			APIVersion: module.Version{0, 9, 7},
		},
		APIs: []module.API{&lcm2Transform{transform{
			Record:  module.Record{Capability: module.KindFilter, Path: Prefix + "icc.transform"},
			rank:    5,
			lutSize: 4096,
		}}},
	}
}

// lcmsExecutor is the separate execution record of the lcms module.
type lcmsExecutor struct {
	module.Record
}

func (e *lcmsExecutor) Run(n *filter.Node, req *filter.Plug, t *filter.Ticket) int {
	return runTransform(n, req, t)
}

func newLcms() *module.Module {
	return &module.Module{
		Info: module.Info{
			Signature:  "lcms",
			Name:       "little cms",
			Version:    module.Version{1, 19, 0},
			APIVersion: module.Version{0, 9, 7},
		},
		APIs: []module.API{
			&transform{
				Record:  module.Record{Capability: module.KindFilter, Path: Prefix + "icc.transform"},
				rank:    3,
				lutSize: 256,
			},
			&lcmsExecutor{Record: module.Record{Capability: module.KindExecutor, Path: Prefix + "icc.transform"}},
		},
	}
}
