// Package engine coordinates the runtime, the graph store and the catalog
// behind the HTTP and MCP surfaces.
package engine

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/cmmgraph/internal/apperr"
	"github.com/starford/cmmgraph/internal/checksum"
	"github.com/starford/cmmgraph/internal/ctxcache"
	"github.com/starford/cmmgraph/internal/filter"
	"github.com/starford/cmmgraph/internal/graphdef"
	"github.com/starford/cmmgraph/internal/index"
	"github.com/starford/cmmgraph/internal/observer"
	"github.com/starford/cmmgraph/internal/storage"
)

// Publisher receives change notifications. The SSE broker implements it.
type Publisher interface {
	PublishSignal(graph, node, signal string)
	PublishGraphEvent(kind, name string)
}

type nopPublisher struct{}

func (nopPublisher) PublishSignal(string, string, string) {}
func (nopPublisher) PublishGraphEvent(string, string)     {}

// loaded is a built graph. mu serialises runs and mutations on it.
type loaded struct {
	mu       sync.Mutex
	name     string
	checksum string
	graph    *graphdef.Graph
}

// Engine is the service layer.
type Engine struct {
	rt        *filter.Runtime
	store     storage.Provider
	db        index.Index
	pub       Publisher
	logger    *slog.Logger
	preferred string

	mu     sync.Mutex
	graphs map[string]*loaded
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithPublisher sets the receiver of signal and graph events.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) {
		e.pub = p
	}
}

// WithPreferred sets the module signature preferred when neither a node
// nor its graph's device names one.
func WithPreferred(signature string) Option {
	return func(e *Engine) {
		e.preferred = signature
	}
}

// New creates an engine.
func New(rt *filter.Runtime, store storage.Provider, db index.Index, opts ...Option) *Engine {
	e := &Engine{
		rt:     rt,
		store:  store,
		db:     db,
		pub:    nopPublisher{},
		logger: slog.New(slog.NewJSONHandler(io.Discard, nil)),
		graphs: make(map[string]*loaded),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Runtime returns the runtime graphs are built on.
func (e *Engine) Runtime() *filter.Runtime { return e.rt }

// Sync brings the catalog up to date with the graph store.
func (e *Engine) Sync() error {
	return index.Sync(e.db, e.store, e.logger)
}

// CacheStats reports the context cache counters.
func (e *Engine) CacheStats() ctxcache.Stats {
	return e.rt.Cache.Stats()
}

// HandleFileEvent is the graph watcher callback: it re-catalogs the file,
// drops the built graph and notifies the publisher.
func (e *Engine) HandleFileEvent(kind, name string) {
	if kind == graphdef.EventResync {
		if err := e.Sync(); err != nil {
			e.logger.Warn("engine: resync failed", slog.String("error", err.Error()))
		}
		e.pub.PublishGraphEvent(kind, name)
		return
	}

	e.unload(name)
	switch kind {
	case graphdef.EventDeleted:
		if err := e.db.DeleteGraph(name); err != nil {
			e.logger.Warn("engine: uncatalog failed", slog.String("name", name), slog.String("error", err.Error()))
		}
	default:
		data, err := e.store.Read(name)
		if err != nil {
			e.logger.Warn("engine: read failed", slog.String("name", name), slog.String("error", err.Error()))
			return
		}
		if _, err := index.IndexFile(e.db, name, data, time.Now()); err != nil {
			e.logger.Warn("engine: index failed", slog.String("name", name), slog.String("error", err.Error()))
			_ = e.db.DeleteGraph(name)
		}
	}
	e.logger.Info("engine: graph changed", slog.String("name", name), slog.String("kind", kind))
	e.pub.PublishGraphEvent(kind, name)
}

// Close releases every built graph.
func (e *Engine) Close() {
	e.mu.Lock()
	names := make([]string, 0, len(e.graphs))
	for name := range e.graphs {
		names = append(names, name)
	}
	e.mu.Unlock()
	for _, name := range names {
		e.unload(name)
	}
}

// load returns the built graph called name, building it on first use.
func (e *Engine) load(name string) (*loaded, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if l, ok := e.graphs[name]; ok {
		return l, nil
	}

	data, err := e.store.Read(name)
	if err != nil {
		return nil, err
	}
	def, err := graphdef.Parse(data)
	if err != nil {
		return nil, err
	}
	preferred, err := e.devicePreferred(def.Device)
	if err != nil {
		return nil, err
	}
	g, err := graphdef.Build(e.rt, def, preferred)
	if err != nil {
		return nil, err
	}

	l := &loaded{name: name, graph: g}
	l.checksum = checksum.Sum(data)
	for id, n := range g.Nodes {
		e.rt.Bus.Observe(e, n, id, e.forward(name), "engine")
	}
	e.graphs[name] = l
	e.logger.Debug("engine: graph built", slog.String("name", name), slog.Int("nodes", len(g.Nodes)))
	return l, nil
}

func (e *Engine) unload(name string) {
	e.mu.Lock()
	l, ok := e.graphs[name]
	delete(e.graphs, name)
	e.mu.Unlock()
	if !ok {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.graph.Release()
}

// forward publishes every signal a node of graph emits.
func (e *Engine) forward(graph string) observer.Func {
	return func(l *observer.Link, sig observer.Signal, _ any) bool {
		node, _ := l.UserData.(string)
		e.pub.PublishSignal(graph, node, sig.String())
		return false
	}
}

// devicePreferred resolves the preferred module of a graph's device. A
// graph without device, or a device without preference, falls back to the
// engine default.
func (e *Engine) devicePreferred(id string) (string, error) {
	if id == "" {
		return e.preferred, nil
	}
	d, err := e.db.GetDevice(id)
	if errors.Is(err, apperr.ErrNotFound) {
		return e.preferred, nil
	}
	if err != nil {
		return "", fmt.Errorf("engine: device %s: %w", id, err)
	}
	if d.Preferred != "" {
		return d.Preferred, nil
	}
	return e.preferred, nil
}
