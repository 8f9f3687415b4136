package filter

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/starford/cmmgraph/internal/apperr"
	"github.com/starford/cmmgraph/internal/connector"
	"github.com/starford/cmmgraph/internal/ctxcache"
	"github.com/starford/cmmgraph/internal/module"
	"github.com/starford/cmmgraph/internal/observer"
)

// Plug is an input connector. It is bound to at most one socket.
type Plug struct {
	node   *Node
	index  int
	tpl    *connector.Template
	remote *Socket
}

// Node returns the owning node.
func (p *Plug) Node() *Node { return p.node }

// Index returns the position among the node's plugs.
func (p *Plug) Index() int { return p.index }

// Template returns the connector shape.
func (p *Plug) Template() *connector.Template { return p.tpl }

// Remote returns the bound socket, or nil.
func (p *Plug) Remote() *Socket { return p.remote }

// Bound reports whether the plug is connected.
func (p *Plug) Bound() bool { return p.remote != nil }

// Socket is an output connector. It may drive many plugs.
type Socket struct {
	node  *Node
	index int
	tpl   *connector.Template
	plugs []*Plug
}

// Node returns the owning node.
func (s *Socket) Node() *Node { return s.node }

// Index returns the position among the node's sockets.
func (s *Socket) Index() int { return s.index }

// Template returns the connector shape.
func (s *Socket) Template() *connector.Template { return s.tpl }

// Plugs returns the plugs bound to the socket in connection order.
func (s *Socket) Plugs() []*Plug { return slices.Clone(s.plugs) }

// Fanout returns the number of bound plugs.
func (s *Socket) Fanout() int { return len(s.plugs) }

// Node is a filter instance in a graph.
type Node struct {
	id      uint64
	name    string
	rt      *Runtime
	core    *Core
	plugs   []*Plug
	sockets []*Socket
	options *Options
	tags    map[string]string

	mu       sync.Mutex
	ctx      *ctxcache.Handle
	dirty    bool
	released bool
}

// NewNode instantiates core. plugs and sockets choose how many connectors
// the node gets; zero means the declared count. Counts beyond the declared
// templates repeat the last template up to the shape's extra allowance.
func (rt *Runtime) NewNode(core *Core, plugs, sockets int) (*Node, error) {
	if core == nil {
		return nil, errors.New("filter: new node: nil core")
	}
	shape := core.proc.Shape()
	n := &Node{
		id:      rt.nextID.Add(1),
		rt:      rt,
		core:    core,
		options: NewOptions(nil),
		tags:    make(map[string]string),
	}
	n.name = fmt.Sprintf("%s#%d", core.signature, n.id)

	pt, err := expand(shape.Plugs, shape.ExtraPlugs, plugs)
	if err != nil {
		return nil, fmt.Errorf("filter: new node %s: plugs: %w", core.registration, err)
	}
	st, err := expand(shape.Sockets, shape.ExtraSockets, sockets)
	if err != nil {
		return nil, fmt.Errorf("filter: new node %s: sockets: %w", core.registration, err)
	}
	for i, tpl := range pt {
		n.plugs = append(n.plugs, &Plug{node: n, index: i, tpl: tpl})
	}
	for i, tpl := range st {
		n.sockets = append(n.sockets, &Socket{node: n, index: i, tpl: tpl})
	}
	rt.Bus.Observe(rt.Cache, n, nil, n.onSelf, contextKey)
	return n, nil
}

// NewNodeFor selects a core for registration and instantiates it with the
// declared connector counts.
func (rt *Runtime) NewNodeFor(registration string, crit module.Criteria) (*Node, error) {
	core, err := rt.NewCore(registration, crit)
	if err != nil {
		return nil, err
	}
	return rt.NewNode(core, 0, 0)
}

func expand(tpls []connector.Template, extra, want int) ([]*connector.Template, error) {
	if want <= 0 {
		want = len(tpls)
	}
	if want < len(tpls) || want > len(tpls)+extra || (len(tpls) == 0 && want > 0) {
		return nil, fmt.Errorf("count %d outside %d..%d", want, len(tpls), len(tpls)+extra)
	}
	out := make([]*connector.Template, 0, want)
	for i := 0; i < want; i++ {
		src := tpls[min(i, len(tpls)-1)]
		tpl := src
		tpl.DataTypes = slices.Clone(src.DataTypes)
		if i >= len(tpls) {
			tpl.Name = fmt.Sprintf("%s%d", src.Name, i-len(tpls)+1)
		}
		out = append(out, &tpl)
	}
	return out, nil
}

// ID returns the process-unique node id.
func (n *Node) ID() uint64 { return n.id }

// Name returns the display name.
func (n *Node) Name() string { return n.name }

// SetName changes the display name.
func (n *Node) SetName(name string) { n.name = name }

// Core returns the bound filter core.
func (n *Node) Core() *Core { return n.core }

// Registration is short for Core().Registration().
func (n *Node) Registration() string { return n.core.registration }

// Options returns the live option set. Use SetOption to change it so that
// dependents are notified.
func (n *Node) Options() *Options { return n.options }

// Plugs returns the node's input connectors.
func (n *Node) Plugs() []*Plug { return slices.Clone(n.plugs) }

// Sockets returns the node's output connectors.
func (n *Node) Sockets() []*Socket { return slices.Clone(n.sockets) }

// Plug returns plug i or nil.
func (n *Node) Plug(i int) *Plug {
	if i < 0 || i >= len(n.plugs) {
		return nil
	}
	return n.plugs[i]
}

// Socket returns socket i or nil.
func (n *Node) Socket(i int) *Socket {
	if i < 0 || i >= len(n.sockets) {
		return nil
	}
	return n.sockets[i]
}

// SetTag stores metadata on the node. Tags scope graph traversal.
func (n *Node) SetTag(key, value string) { n.tags[key] = value }

// Tag returns the tag stored under key.
func (n *Node) Tag(key string) (string, bool) {
	v, ok := n.tags[key]
	return v, ok
}

// Tags returns a copy of the node's tags.
func (n *Node) Tags() map[string]string { return maps.Clone(n.tags) }

func (n *Node) hasMark(mark string) bool {
	if mark == "" {
		return true
	}
	_, ok := n.tags[mark]
	return ok
}

// Released reports whether Release was called.
func (n *Node) Released() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.released
}

func (n *Node) checkLive(op string) error {
	if n.Released() {
		return &apperr.NodeError{Node: n.name, Op: op, Err: apperr.ErrReleased}
	}
	return nil
}

// Connect binds plug plugIndex of n to socket socketIndex of upstream.
// A bound plug must be disconnected before it can be bound again.
func (n *Node) Connect(plugIndex int, upstream *Node, socketIndex int) error {
	if err := n.checkLive("connect"); err != nil {
		return err
	}
	if err := upstream.checkLive("connect"); err != nil {
		return err
	}
	p := n.Plug(plugIndex)
	if p == nil {
		return fmt.Errorf("filter: connect %s: no plug %d", n.name, plugIndex)
	}
	s := upstream.Socket(socketIndex)
	if s == nil {
		return fmt.Errorf("filter: connect %s: no socket %d", upstream.name, socketIndex)
	}
	if upstream == n {
		return fmt.Errorf("filter: connect %s: node plugs into itself: %w", n.name, apperr.ErrIncompatibleConnector)
	}
	if p.remote != nil {
		return &apperr.ConnectError{Reason: apperr.ReasonAlreadyBound, Plug: p.tpl.Name, Socket: s.tpl.Name}
	}
	if err := n.rt.Compat.CanConnect(p.tpl, s.tpl, s.Fanout()); err != nil {
		n.rt.Bus.Signal(n, observer.IncompatibleData, p)
		return err
	}

	p.remote = s
	s.plugs = append(s.plugs, p)
	n.rt.Bus.Observe(n, upstream, p, n.onUpstream, plugKey(p))

	n.rt.Bus.Signal(upstream, observer.Connected, p)
	n.rt.Bus.Signal(n, observer.Connected, p)
	n.changed(observer.DataChanged, p)
	return nil
}

func plugKey(p *Plug) string {
	return fmt.Sprintf("plug:%d:%d", p.node.id, p.index)
}

// Disconnect unbinds plug plugIndex. Disconnecting an unbound plug is a
// no-op.
func (n *Node) Disconnect(plugIndex int) error {
	if err := n.checkLive("disconnect"); err != nil {
		return err
	}
	p := n.Plug(plugIndex)
	if p == nil {
		return fmt.Errorf("filter: disconnect %s: no plug %d", n.name, plugIndex)
	}
	if p.remote == nil {
		return nil
	}
	n.unbind(p)
	n.changed(observer.DataChanged, p)
	return nil
}

func (n *Node) unbind(p *Plug) {
	s := p.remote
	s.plugs = slices.DeleteFunc(s.plugs, func(q *Plug) bool { return q == p })
	p.remote = nil
	n.rt.Bus.Unobserve(s.node, n, plugKey(p))
}

const contextKey = "context"

// onSelf drops the node's context when the node itself changes.
func (n *Node) onSelf(_ *observer.Link, sig observer.Signal, _ any) bool {
	if !sig.Invalidates() {
		return false
	}
	n.invalidate()
	return true
}

// onUpstream forwards invalidating signals from an upstream node.
func (n *Node) onUpstream(_ *observer.Link, sig observer.Signal, data any) bool {
	if !sig.Invalidates() {
		return false
	}
	n.changed(sig, data)
	return true
}

// SetOption changes one option and notifies dependents when the value
// changed.
func (n *Node) SetOption(key, value string) error {
	if err := n.checkLive("set option"); err != nil {
		return err
	}
	if n.options.Set(key, value) {
		n.changed(observer.DataChanged, key)
	}
	return nil
}

// Changed reports a change of external data the node depends on, e.g. a
// profile on disk, and invalidates the node and everything downstream.
func (n *Node) Changed(sig observer.Signal, data any) {
	n.changed(sig, data)
}

func (n *Node) changed(sig observer.Signal, data any) {
	n.rt.Bus.Signal(n, sig, data)
}

// invalidate drops the node's context and its cache entries.
func (n *Node) invalidate() {
	n.mu.Lock()
	n.dirty = true
	old := n.ctx
	n.ctx = nil
	n.mu.Unlock()
	old.Release()
	n.rt.Cache.Invalidate(n.id)
}

// HashText returns the text identifying the node's context: context type,
// registration, options and connector shapes.
func (n *Node) HashText() string {
	var b strings.Builder
	b.WriteString(n.core.proc.ContextType())
	b.WriteByte('\n')
	b.WriteString(n.core.registration)
	b.WriteByte('\n')
	b.WriteString(n.options.Text())
	for _, p := range n.plugs {
		b.WriteByte('\n')
		b.WriteString(p.tpl.Shape())
	}
	for _, s := range n.sockets {
		b.WriteByte('\n')
		b.WriteString(s.tpl.Shape())
	}
	return b.String()
}

// Incomplete returns the mandatory plugs that are not bound.
func (n *Node) Incomplete() []*Plug {
	var out []*Plug
	for _, p := range n.plugs {
		if p.tpl.Mandatory() && p.remote == nil {
			out = append(out, p)
		}
	}
	return out
}

// Context returns the node's backend context, building it on first use or
// after an invalidation. Filters without a context type return nil.
func (n *Node) Context() (any, error) {
	if err := n.checkLive("context"); err != nil {
		return nil, err
	}
	if missing := n.Incomplete(); len(missing) > 0 {
		n.rt.Bus.Signal(n, observer.IncompleteGraph, missing)
		return nil, &apperr.NodeError{
			Node: n.name,
			Op:   "context",
			Err:  fmt.Errorf("plug %q unbound: %w", missing[0].tpl.Name, apperr.ErrIncompleteGraph),
		}
	}
	if n.core.proc.ContextType() == "" {
		return nil, nil
	}

	n.mu.Lock()
	if n.ctx != nil && !n.dirty {
		v := n.ctx.Value()
		n.mu.Unlock()
		return v, nil
	}
	n.mu.Unlock()

	h, err := n.rt.Cache.GetOrCreate(n.HashText(), []uint64{n.id}, func() (any, error) {
		return n.core.proc.BuildContext(n)
	})
	if err != nil {
		n.rt.Bus.Signal(n, observer.IncompatibleContext, err)
		return nil, &apperr.NodeError{
			Node: n.name,
			Op:   "context",
			Err:  fmt.Errorf("%w: %w", apperr.ErrContextBuildFailed, err),
		}
	}

	n.mu.Lock()
	old := n.ctx
	n.ctx = h
	n.dirty = false
	n.mu.Unlock()
	old.Release()
	return h.Value(), nil
}

// HasContext reports whether a valid context is attached.
func (n *Node) HasContext() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ctx != nil && !n.dirty
}

// Release disconnects the node from both sides, drops its context and
// removes its observer links. Further operations fail with
// apperr.ErrReleased.
func (n *Node) Release() {
	n.mu.Lock()
	if n.released {
		n.mu.Unlock()
		return
	}
	n.mu.Unlock()

	for _, p := range n.plugs {
		if p.remote != nil {
			n.unbind(p)
		}
	}
	for _, s := range n.sockets {
		for _, p := range s.Plugs() {
			p.node.unbind(p)
			p.node.changed(observer.DataChanged, p)
		}
	}
	n.rt.Bus.Signal(n, observer.Released, nil)
	n.rt.Bus.Forget(n)
	n.invalidate()

	n.mu.Lock()
	n.released = true
	n.mu.Unlock()
}
