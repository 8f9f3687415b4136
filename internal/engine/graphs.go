package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/starford/cmmgraph/internal/apperr"
	"github.com/starford/cmmgraph/internal/checksum"
	"github.com/starford/cmmgraph/internal/filter"
	"github.com/starford/cmmgraph/internal/graphdef"
	"github.com/starford/cmmgraph/internal/index"
	"github.com/starford/cmmgraph/internal/models"
	"github.com/starford/cmmgraph/internal/storage"
)

// GraphDetail is the full representation of a built graph.
type GraphDetail struct {
	Name       string               `json:"name"`
	Checksum   string               `json:"checksum"`
	Definition *graphdef.Definition `json:"definition"`
	Nodes      []NodeDetail         `json:"nodes"`
	Edges      []string             `json:"edges"`
}

// NodeDetail describes one node of a built graph.
type NodeDetail struct {
	ID           string            `json:"id"`
	Signature    string            `json:"signature"`
	Registration string            `json:"registration"`
	Category     string            `json:"category"`
	Options      map[string]string `json:"options"`
	Tags         map[string]string `json:"tags,omitempty"`
	HasContext   bool              `json:"has_context"`
}

// RunRequest describes one execution of a graph. A zero ROI runs the whole
// image. Width, Height and Channels size the output array; zero values are
// taken from the input node's options.
type RunRequest struct {
	ROI       filter.Rect
	Width     int
	Height    int
	Channels  int
	Workspace string
}

// RunResult is the output of one execution.
type RunResult struct {
	Ticket   string    `json:"ticket"`
	Width    int       `json:"width"`
	Height   int       `json:"height"`
	Channels int       `json:"channels"`
	Pulls    int       `json:"pulls"`
	Data     []float64 `json:"data"`
}

// ListGraphs returns the catalogued graphs.
func (e *Engine) ListGraphs(_ context.Context) ([]models.GraphSummary, error) {
	return e.db.ListGraphs()
}

// GetGraph builds the graph if needed and describes it.
func (e *Engine) GetGraph(_ context.Context, name string) (*GraphDetail, error) {
	l, err := e.load(name)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	d := &GraphDetail{Name: name, Checksum: l.checksum, Definition: l.graph.Def, Nodes: []NodeDetail{}, Edges: []string{}}
	for _, nd := range l.graph.Def.Nodes {
		d.Nodes = append(d.Nodes, *nodeDetail(nd.ID, l.graph.Nodes[nd.ID]))
	}
	conv, err := l.graph.Conversion()
	if err != nil {
		return nil, err
	}
	for _, edge := range conv.Graph().Edges() {
		d.Edges = append(d.Edges, edge.String())
	}
	return d, nil
}

// ReadGraph returns the stored definition of a graph and its checksum.
func (e *Engine) ReadGraph(_ context.Context, name string) ([]byte, string, error) {
	data, err := e.store.Read(name)
	if err != nil {
		return nil, "", err
	}
	return data, checksum.Sum(data), nil
}

// GraphText returns the dot text of a graph.
func (e *Engine) GraphText(_ context.Context, name string) (string, error) {
	l, err := e.load(name)
	if err != nil {
		return "", err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	conv, err := l.graph.Conversion()
	if err != nil {
		return "", err
	}
	return conv.ToText(name), nil
}

// PutGraph validates and stores a graph definition. A non-empty ifMatch
// must equal the checksum of the stored file.
func (e *Engine) PutGraph(_ context.Context, name string, data []byte, ifMatch string) (*models.GraphSummary, error) {
	if err := storage.ValidateName(name); err != nil {
		return nil, err
	}
	if _, err := graphdef.Parse(data); err != nil {
		return nil, err
	}
	existing, err := e.store.Read(name)
	switch {
	case err == nil:
		if ifMatch != "" && ifMatch != checksum.Sum(existing) {
			return nil, apperr.ErrConflict
		}
	case errors.Is(err, apperr.ErrNotFound):
		if ifMatch != "" {
			return nil, apperr.ErrNotFound
		}
	default:
		return nil, err
	}

	if err := e.store.Write(name, data); err != nil {
		return nil, err
	}
	e.unload(name)
	if _, err := index.IndexFile(e.db, name, data, time.Now()); err != nil {
		return nil, err
	}
	e.pub.PublishGraphEvent(graphdef.EventUpdated, name)
	return e.db.GetGraph(name)
}

// DeleteGraph removes a graph from storage and catalog.
func (e *Engine) DeleteGraph(_ context.Context, name string) error {
	if err := e.store.Delete(name); err != nil {
		return err
	}
	e.unload(name)
	if err := e.db.DeleteGraph(name); err != nil {
		return err
	}
	e.pub.PublishGraphEvent(graphdef.EventDeleted, name)
	return nil
}

// SetNodeOptions changes options of one node. Changed values invalidate
// the node's context and those of its downstream nodes.
func (e *Engine) SetNodeOptions(_ context.Context, name, node string, opts map[string]string) (*NodeDetail, error) {
	l, err := e.load(name)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	n, ok := l.graph.Node(node)
	if !ok {
		return nil, fmt.Errorf("engine: node %s: %w", node, apperr.ErrNotFound)
	}
	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := n.SetOption(k, opts[k]); err != nil {
			return nil, err
		}
	}
	return nodeDetail(node, n), nil
}

func nodeDetail(id string, n *filter.Node) *NodeDetail {
	return &NodeDetail{
		ID:           id,
		Signature:    n.Core().Signature(),
		Registration: n.Registration(),
		Category:     n.Core().Category(),
		Options:      n.Options().Map(),
		Tags:         n.Tags(),
		HasContext:   n.HasContext(),
	}
}

// RunGraph executes a graph with a fresh ticket.
func (e *Engine) RunGraph(ctx context.Context, name string, req RunRequest) (*RunResult, error) {
	l, err := e.load(name)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	conv, err := l.graph.Conversion()
	if err != nil {
		return nil, err
	}
	w, h, c := req.Width, req.Height, req.Channels
	if in := conv.Input; in != nil {
		o := in.Options()
		w, h, c = orDefault(w, o.Int("width", 4)), orDefault(h, o.Int("height", 4)), orDefault(c, o.Int("channels", 3))
	}
	if w <= 0 || h <= 0 || c <= 0 {
		return nil, fmt.Errorf("engine: run %s: output size %dx%dx%d: %w", name, w, h, c, apperr.ErrInvalid)
	}

	var opts []filter.TicketOption
	if req.Workspace != "" {
		ws, err := uuid.Parse(req.Workspace)
		if err != nil {
			return nil, fmt.Errorf("engine: run %s: workspace: %w: %w", name, apperr.ErrInvalid, err)
		}
		opts = append(opts, filter.WithWorkspace(ws))
	}

	arr := filter.NewArray(w, h, c)
	t, err := conv.NewTicket(req.ROI, arr, opts...)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	if err := conv.RunPixels(ctx, t); err != nil {
		return nil, err
	}
	e.logger.Info("engine: graph run",
		slog.String("name", name),
		slog.String("ticket", t.ID.String()),
		slog.Int("pulls", t.Pulls()),
		slog.Duration("elapsed", time.Since(start)))

	return &RunResult{
		Ticket:   t.ID.String(),
		Width:    w,
		Height:   h,
		Channels: c,
		Pulls:    t.Pulls(),
		Data:     arr.Data,
	}, nil
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
