package modules

import (
	"github.com/starford/cmmgraph/internal/connector"
	"github.com/starford/cmmgraph/internal/filter"
	"github.com/starford/cmmgraph/internal/module"
)

// MaxBlendInputs is the number of plugs a compositor node can have.
const MaxBlendInputs = 8

// blend averages the blocks of all bound inputs.
type blend struct {
	module.Record
}

func newBlend() *module.Module {
	return &module.Module{
		Info: module.Info{
			Signature:  "oyrb",
			Name:       "blender",
			Version:    module.Version{1, 0, 0},
			APIVersion: module.CoreAPIVersion,
		},
		APIs: []module.API{&blend{Record: module.Record{
			Capability: module.KindFilter,
			Path:       Prefix + "blend.compositor",
		}}},
	}
}

func (b *blend) Shape() filter.Shape {
	return filter.Shape{
		Plugs:      []connector.Template{imagePlug("in")},
		Sockets:    []connector.Template{imageSocket("out")},
		ExtraPlugs: MaxBlendInputs - 1,
	}
}

func (b *blend) Category() string                       { return "image" }
func (b *blend) ContextType() string                    { return "" }
func (b *blend) BuildContext(*filter.Node) (any, error) { return nil, nil }

// Run pulls once from every bound plug. The stream ends with the shortest
// input.
func (b *blend) Run(n *filter.Node, req *filter.Plug, t *filter.Ticket) int {
	var out *filter.Block
	inputs := 0
	for _, p := range n.Plugs() {
		if !p.Bound() {
			continue
		}
		in, status := t.Pull(p)
		if status != filter.StatusOK {
			return status
		}
		if out == nil {
			out = &filter.Block{Rect: in.Rect, Channels: in.Channels, Data: make([]float64, len(in.Data))}
		} else if in.Rect != out.Rect || in.Channels != out.Channels {
			return StatusShapeMismatch
		}
		for i, v := range in.Data {
			out.Data[i] += v
		}
		inputs++
	}
	if inputs == 0 {
		return filter.StatusFailed
	}
	for i := range out.Data {
		out.Data[i] /= float64(inputs)
	}
	t.Emit(req, out)
	return filter.StatusOK
}
