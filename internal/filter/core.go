package filter

import (
	"fmt"

	"github.com/starford/cmmgraph/internal/apperr"
	"github.com/starford/cmmgraph/internal/connector"
	"github.com/starford/cmmgraph/internal/module"
)

// Shape declares the connectors of a filter. The last plug and socket
// template may be repeated ExtraPlugs and ExtraSockets times.
type Shape struct {
	Plugs        []connector.Template
	Sockets      []connector.Template
	ExtraPlugs   int
	ExtraSockets int
}

// Processor is implemented by filter algorithm records (module.KindFilter).
type Processor interface {
	module.API
	Shape() Shape
	Category() string
	// ContextType names the kind of context the filter builds; empty when
	// it builds none.
	ContextType() string
	// BuildContext creates the context for the node's current options.
	BuildContext(n *Node) (any, error)
}

// Executor is implemented by filter execution records. Run produces data
// for requester, a plug of a downstream node (or of n itself when n is the
// output node). It returns StatusOK, StatusEnd or an error code > 0.
type Executor interface {
	Run(n *Node, requester *Plug, t *Ticket) int
}

// Core binds a registration to the module selected for it. Cores are
// immutable and shared by every node created from them.
type Core struct {
	registration string
	signature    string
	version      module.Version
	category     string
	proc         Processor
	exec         Executor
}

// Registration returns the registration of the selected record.
func (c *Core) Registration() string { return c.registration }

// Signature returns the four character signature of the selected module.
func (c *Core) Signature() string { return c.signature }

// Version returns the module version.
func (c *Core) Version() module.Version { return c.version }

// Category returns the filter category, e.g. "color".
func (c *Core) Category() string { return c.category }

// Processor returns the algorithm record.
func (c *Core) Processor() Processor { return c.proc }

// Runnable reports whether the core has an execution record.
func (c *Core) Runnable() bool { return c.exec != nil }

func newCore(m *module.Module, proc Processor) *Core {
	c := &Core{
		registration: proc.Registration(),
		signature:    m.Info.Signature,
		version:      m.Info.Version,
		category:     proc.Category(),
		proc:         proc,
	}
	if e, ok := proc.(Executor); ok {
		c.exec = e
		return c
	}
	for _, api := range m.APIs {
		if api.Kind() != module.KindExecutor {
			continue
		}
		if e, ok := api.(Executor); ok {
			c.exec = e
			break
		}
	}
	return c
}

// NewCore selects the best ranked filter record for registration and binds
// it. An empty crit.Pattern defaults to registration. Cores are reused for
// the same module and record.
func (rt *Runtime) NewCore(registration string, crit module.Criteria) (*Core, error) {
	if crit.Pattern == "" {
		crit.Pattern = registration
	}
	for _, cand := range rt.Registry.Query(module.KindFilter, crit) {
		proc, ok := cand.API.(Processor)
		if !ok {
			continue
		}
		key := cand.Module.Info.Signature + "|" + proc.Registration()

		rt.mu.Lock()
		core, ok := rt.cores[key]
		if !ok {
			core = newCore(cand.Module, proc)
			rt.cores[key] = core
		}
		rt.mu.Unlock()
		return core, nil
	}
	return nil, fmt.Errorf("filter: core %q: %w", registration, apperr.ErrModuleNotFound)
}
