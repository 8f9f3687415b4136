package modules

import (
	"github.com/starford/cmmgraph/internal/connector"
	"github.com/starford/cmmgraph/internal/filter"
	"github.com/starford/cmmgraph/internal/module"
)

// source emits a synthetic gradient image one row per pull.
type source struct {
	module.Record
}

type sourceKey struct{ n *filter.Node }

type sourceState struct {
	region filter.Rect
	row    int
}

func newSource() *module.Module {
	return &module.Module{
		Info: module.Info{
			Signature:  "oyra",
			Name:       "image root",
			Version:    module.Version{1, 2, 0},
			APIVersion: module.CoreAPIVersion,
		},
		APIs: []module.API{&source{Record: module.Record{
			Capability: module.KindFilter,
			Path:       Prefix + "root.source",
		}}},
	}
}

func (s *source) Shape() filter.Shape {
	return filter.Shape{Sockets: []connector.Template{imageSocket("out")}}
}

func (s *source) Category() string    { return "image" }
func (s *source) ContextType() string { return "" }

func (s *source) BuildContext(*filter.Node) (any, error) { return nil, nil }

func imageSize(n *filter.Node) (w, h, c int) {
	o := n.Options()
	return o.Int("width", 4), o.Int("height", 4), o.Int("channels", 3)
}

// Run answers a pending "roi" request on the first pull with the region it
// will actually produce.
func (s *source) Run(n *filter.Node, req *filter.Plug, t *filter.Ticket) int {
	w, h, c := imageSize(n)
	key := sourceKey{n}
	st, _ := t.Value(key).(*sourceState)
	if st == nil {
		st = &sourceState{region: filter.Rect{Width: w, Height: h}}
		if r := t.Pending("roi"); r != nil {
			if roi, ok := r.Value.(filter.Rect); ok && !roi.Empty() {
				st.region = st.region.Intersect(roi)
			}
			r.Resolve(st.region)
		}
		t.SetValue(key, st)
	}
	if st.row >= st.region.Height {
		return filter.StatusEnd
	}

	y := st.region.Y + st.row
	b := &filter.Block{
		Rect:     filter.Rect{X: st.region.X, Y: y, Width: st.region.Width, Height: 1},
		Channels: c,
		Data:     make([]float64, st.region.Width*c),
	}
	total := float64(w * h * c)
	for x := 0; x < st.region.Width; x++ {
		for ch := 0; ch < c; ch++ {
			b.Data[x*c+ch] = float64(((y*w)+st.region.X+x)*c+ch) / total
		}
	}
	st.row++
	t.Emit(req, b)
	return filter.StatusOK
}
