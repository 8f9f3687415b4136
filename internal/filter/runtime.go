// Package filter builds and runs graphs of filter nodes.
//
// A Core binds a registration to the module the registry ranked best for
// it. A Node instantiates a core with concrete plugs (inputs) and sockets
// (outputs). Graphs are views collected by walking bound connectors from a
// node, and a Ticket executes a graph by pulling data from its output node
// backwards, one plug at a time.
//
// Nodes are not safe for concurrent mutation. Callers that share a graph
// between goroutines must serialise connect, disconnect, option changes and
// ticket runs on it.
package filter

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/starford/cmmgraph/internal/connector"
	"github.com/starford/cmmgraph/internal/ctxcache"
	"github.com/starford/cmmgraph/internal/module"
	"github.com/starford/cmmgraph/internal/observer"
)

// Runtime holds the shared state nodes depend on. Tests construct their own
// runtime around an isolated registry.
type Runtime struct {
	Registry *module.Registry
	Cache    *ctxcache.Cache
	Bus      *observer.Bus
	Compat   *connector.Compat
	Logger   *slog.Logger

	mu     sync.Mutex
	cores  map[string]*Core
	nextID atomic.Uint64
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithCache sets the context cache.
func WithCache(c *ctxcache.Cache) RuntimeOption {
	return func(rt *Runtime) {
		rt.Cache = c
	}
}

// WithBus sets the signal bus.
func WithBus(b *observer.Bus) RuntimeOption {
	return func(rt *Runtime) {
		rt.Bus = b
	}
}

// WithCompat sets the connector type compatibility table.
func WithCompat(c *connector.Compat) RuntimeOption {
	return func(rt *Runtime) {
		rt.Compat = c
	}
}

// WithLogger sets the runtime logger.
func WithLogger(l *slog.Logger) RuntimeOption {
	return func(rt *Runtime) {
		rt.Logger = l
	}
}

// NewRuntime returns a runtime over reg. Missing collaborators get
// in-process defaults.
func NewRuntime(reg *module.Registry, opts ...RuntimeOption) *Runtime {
	rt := &Runtime{
		Registry: reg,
		cores:    make(map[string]*Core),
	}
	for _, opt := range opts {
		opt(rt)
	}
	if rt.Logger == nil {
		rt.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if rt.Cache == nil {
		rt.Cache = ctxcache.New(0, 0)
	}
	if rt.Bus == nil {
		rt.Bus = observer.New(rt.Logger)
	}
	if rt.Compat == nil {
		rt.Compat = connector.NewCompat()
	}
	return rt
}
