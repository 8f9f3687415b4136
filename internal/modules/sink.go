package modules

import (
	"github.com/starford/cmmgraph/internal/connector"
	"github.com/starford/cmmgraph/internal/filter"
	"github.com/starford/cmmgraph/internal/module"
)

// sink writes the blocks it pulls into the ticket's output array.
type sink struct {
	module.Record
}

type sinkKey struct{ n *filter.Node }

func newSink() *module.Module {
	return &module.Module{
		Info: module.Info{
			Signature:  "oydi",
			Name:       "display output",
			Version:    module.Version{1, 0, 0},
			APIVersion: module.CoreAPIVersion,
		},
		APIs: []module.API{&sink{Record: module.Record{
			Capability: module.KindFilter,
			Path:       Prefix + "output.sink",
		}}},
	}
}

func (s *sink) Shape() filter.Shape {
	return filter.Shape{Plugs: []connector.Template{imagePlug("in")}}
}

func (s *sink) Category() string                       { return "image" }
func (s *sink) ContextType() string                    { return "" }
func (s *sink) BuildContext(*filter.Node) (any, error) { return nil, nil }

// Run asks upstream for the ticket's region of interest on the first pull.
func (s *sink) Run(n *filter.Node, _ *filter.Plug, t *filter.Ticket) int {
	key := sinkKey{n}
	if t.Value(key) == nil {
		t.SetValue(key, true)
		if !t.ROI.Empty() {
			t.Request("roi", t.ROI)
		}
	}
	b, status := t.Pull(n.Plug(0))
	if status != filter.StatusOK {
		return status
	}
	if t.Output != nil {
		t.Output.Put(b)
	}
	return filter.StatusOK
}
