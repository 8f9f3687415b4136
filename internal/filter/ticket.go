package filter

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/google/uuid"

	"github.com/starford/cmmgraph/internal/apperr"
)

// Run status codes. Values above StatusOK are module error codes.
const (
	StatusEnd = -1
	StatusOK  = 0
	// StatusFailed is returned by the runtime itself, e.g. for an unbound
	// plug or a core without execution record.
	StatusFailed = 1
)

// Rect is a region in pixels.
type Rect struct {
	X, Y, Width, Height int
}

// Empty reports whether r covers no pixels.
func (r Rect) Empty() bool { return r.Width <= 0 || r.Height <= 0 }

// Intersect returns the overlap of r and o.
func (r Rect) Intersect(o Rect) Rect {
	x0, y0 := max(r.X, o.X), max(r.Y, o.Y)
	x1, y1 := min(r.X+r.Width, o.X+o.Width), min(r.Y+r.Height, o.Y+o.Height)
	if x1 <= x0 || y1 <= y0 {
		return Rect{}
	}
	return Rect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// Block is a rectangle of interleaved samples produced by one pull.
type Block struct {
	Rect     Rect
	Channels int
	Data     []float64
}

// Array is the output buffer of a ticket.
type Array struct {
	Width, Height, Channels int
	Data                    []float64
}

// NewArray allocates a zeroed array.
func NewArray(width, height, channels int) *Array {
	return &Array{Width: width, Height: height, Channels: channels, Data: make([]float64, width*height*channels)}
}

// Put copies b into the array, clipping to its bounds.
func (a *Array) Put(b *Block) {
	if b == nil || b.Channels != a.Channels {
		return
	}
	clip := b.Rect.Intersect(Rect{Width: a.Width, Height: a.Height})
	for y := clip.Y; y < clip.Y+clip.Height; y++ {
		for x := clip.X; x < clip.X+clip.Width; x++ {
			src := ((y-b.Rect.Y)*b.Rect.Width + (x - b.Rect.X)) * b.Channels
			dst := (y*a.Width + x) * a.Channels
			copy(a.Data[dst:dst+a.Channels], b.Data[src:src+b.Channels])
		}
	}
}

// At returns the samples of pixel (x, y).
func (a *Array) At(x, y int) []float64 {
	i := (y*a.Width + x) * a.Channels
	return a.Data[i : i+a.Channels]
}

// Request is an option a downstream filter asks an upstream filter to
// resolve during the next pull.
type Request struct {
	Key      string
	Value    any
	Response any
	Resolved bool
}

// Resolve answers the request.
func (r *Request) Resolve(v any) {
	r.Response = v
	r.Resolved = true
}

// stream is what a socket driving several plugs has emitted during a
// ticket. base is the position of blocks[0] in the whole sequence.
type stream struct {
	base   int
	blocks []*Block
	done   bool
	status int
}

// Ticket drives one execution request through a graph. A ticket is used by
// one goroutine; its pulls are strictly nested calls.
type Ticket struct {
	ID        uuid.UUID
	Workspace uuid.UUID
	ROI       Rect
	Output    *Array

	graph  *Graph
	out    *Node
	logger *slog.Logger

	queue     []*Request
	blocks    map[*Plug]*Block
	exhausted map[*Plug]bool
	streams   map[*Socket]*stream
	cursors   map[*Plug]int
	values    map[any]any
	failed    *Node
	pulls     int
}

// TicketOption configures a Ticket.
type TicketOption func(*Ticket)

// WithWorkspace sets the workspace the ticket's resources belong to.
func WithWorkspace(id uuid.UUID) TicketOption {
	return func(t *Ticket) {
		t.Workspace = id
	}
}

// NewTicket prepares the execution of the graph ending in output. output
// must have at least one plug; its first plug is the one run by RunAll.
func NewTicket(output *Node, roi Rect, arr *Array, opts ...TicketOption) (*Ticket, error) {
	if output == nil {
		return nil, errors.New("filter: ticket: nil output node")
	}
	if err := output.checkLive("ticket"); err != nil {
		return nil, err
	}
	if len(output.plugs) == 0 {
		return nil, fmt.Errorf("filter: ticket: output node %s has no plug", output.name)
	}
	t := &Ticket{
		ID:        uuid.New(),
		Workspace: uuid.Nil,
		ROI:       roi,
		Output:    arr,
		graph:     FromNode(output, Upstream, ""),
		out:       output,
		logger:    output.rt.Logger,
		blocks:    make(map[*Plug]*Block),
		exhausted: make(map[*Plug]bool),
		streams:   make(map[*Socket]*stream),
		cursors:   make(map[*Plug]int),
		values:    make(map[any]any),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Graph returns the graph the ticket executes.
func (t *Ticket) Graph() *Graph { return t.graph }

// OutputNode returns the node the ticket runs.
func (t *Ticket) OutputNode() *Node { return t.out }

// Pulls returns the number of pulls performed so far.
func (t *Ticket) Pulls() int { return t.pulls }

// Run invokes the execution record of p's node with p as requester.
func (t *Ticket) Run(p *Plug) int {
	return t.invoke(p.node, p)
}

// Pull runs the node bound to p and returns the block it emitted for p.
// Requests queued before the pull are dropped after it.
//
// When p's socket drives several plugs, every plug receives the whole
// block sequence: the upstream node runs once per block and plugs that
// are behind read the blocks already emitted.
func (t *Ticket) Pull(p *Plug) (*Block, int) {
	if p.remote == nil {
		t.logger.Warn("filter: pull from unbound plug",
			slog.String("node", p.node.name), slog.Int("plug", p.index))
		t.fail(p.node)
		return nil, StatusFailed
	}
	t.pulls++
	defer func() { t.queue = t.queue[:0] }()
	if p.remote.Fanout() > 1 {
		return t.pullShared(p)
	}
	status := t.invoke(p.remote.node, p)
	b := t.blocks[p]
	delete(t.blocks, p)
	return b, status
}

func (t *Ticket) pullShared(p *Plug) (*Block, int) {
	s := p.remote
	st := t.streams[s]
	if st == nil {
		st = &stream{}
		t.streams[s] = st
	}
	pos := t.cursors[p]
	if pos-st.base >= len(st.blocks) {
		if st.done {
			return nil, st.status
		}
		status := t.invoke(s.node, p)
		b := t.blocks[p]
		delete(t.blocks, p)
		if status != StatusOK {
			st.done, st.status = true, status
			return nil, status
		}
		st.blocks = append(st.blocks, b)
	}
	b := st.blocks[pos-st.base]
	t.cursors[p] = pos + 1
	t.trim(s, st)
	return b, StatusOK
}

// trim drops the blocks every plug of s taking part in the ticket has read.
func (t *Ticket) trim(s *Socket, st *stream) {
	low := -1
	for _, q := range s.plugs {
		if !t.graph.Contains(q.node) {
			continue
		}
		if c := t.cursors[q]; low < 0 || c < low {
			low = c
		}
	}
	if n := low - st.base; n > 0 {
		st.blocks = st.blocks[n:]
		st.base = low
	}
}

func (t *Ticket) invoke(n *Node, requester *Plug) int {
	if n.Released() || n.core.exec == nil {
		t.fail(n)
		return StatusFailed
	}
	status := n.core.exec.Run(n, requester, t)
	if status > StatusOK {
		t.fail(n)
	}
	return status
}

func (t *Ticket) fail(n *Node) {
	if t.failed == nil {
		t.failed = n
	}
}

// Emit hands b to the plug that requested data.
func (t *Ticket) Emit(requester *Plug, b *Block) {
	t.blocks[requester] = b
}

// Value returns per-ticket state stored by a filter under key.
func (t *Ticket) Value(key any) any { return t.values[key] }

// SetValue stores per-ticket filter state. Keys should be private types
// of the storing package.
func (t *Ticket) SetValue(key, v any) { t.values[key] = v }

// Request queues an option for the upstream filters answering the next
// pull. The caller reads the response from the returned request after the
// pull.
func (t *Ticket) Request(key string, value any) *Request {
	r := &Request{Key: key, Value: value}
	t.queue = append(t.queue, r)
	return r
}

// Pending returns the first unresolved request for key, or nil.
func (t *Ticket) Pending(key string) *Request {
	for _, r := range t.queue {
		if r.Key == key && !r.Resolved {
			return r
		}
	}
	return nil
}

// Blocks pulls from p until the upstream side reports the end. The
// sequence is not restartable: once exhausted it yields nothing.
func (t *Ticket) Blocks(p *Plug) iter.Seq2[*Block, error] {
	return func(yield func(*Block, error) bool) {
		for !t.exhausted[p] {
			b, status := t.Pull(p)
			switch {
			case status == StatusEnd:
				t.exhausted[p] = true
				return
			case status > StatusOK:
				t.exhausted[p] = true
				yield(nil, t.execError(status))
				return
			}
			if !yield(b, nil) {
				return
			}
		}
	}
}

// RunAll runs the output node until it reports the end or an error. ctx is
// checked between runs; a run in progress is never interrupted.
func (t *Ticket) RunAll(ctx context.Context) error {
	p := t.out.plugs[0]
	if t.exhausted[p] {
		return nil
	}
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("filter: ticket %s: %w", t.ID, err)
		}
		switch status := t.Run(p); {
		case status == StatusOK:
			continue
		case status == StatusEnd:
			t.exhausted[p] = true
			return nil
		default:
			t.exhausted[p] = true
			return t.execError(status)
		}
	}
}

func (t *Ticket) execError(status int) error {
	name := t.out.name
	if t.failed != nil {
		name = t.failed.name
	}
	return &apperr.ExecError{Node: name, Code: status}
}
