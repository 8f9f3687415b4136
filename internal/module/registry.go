package module

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/starford/cmmgraph/internal/apperr"
)

// Candidate is one ranked answer of Query.
type Candidate struct {
	Module *Module
	API    API
	// Raw is the rank returned by the record's check plus the API version
	// bonus.
	Raw Rank
	// Rank is Raw after the preferred-module boost.
	Rank Rank
	// Preferred is set when the module matches Criteria.Preferred.
	Preferred bool

	order int
}

// Registry holds loaded modules. It is safe for concurrent use; every
// member access happens under the registry lock.
type Registry struct {
	mu      sync.Locker
	logger  *slog.Logger
	modules []*Module
	entries []entry
	seq     int
	closed  bool
}

type entry struct {
	module *Module
	api    API
	order  int
}

// Option configures a Registry.
type Option func(*Registry)

// WithLocker replaces the default mutex.
func WithLocker(l sync.Locker) Option {
	return func(r *Registry) {
		r.mu = l
	}
}

// WithLogger sets the logger used for ranking diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		mu:     &sync.Mutex{},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register appends the module's API records. A module marked Override
// replaces records of earlier modules with the same kind and registration;
// otherwise both coexist and ranking decides.
func (r *Registry) Register(m *Module) error {
	if m == nil {
		return errors.New("module: nil module")
	}
	if err := m.validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errors.New("module: registry closed")
	}
	for _, existing := range r.modules {
		if existing.Info.Signature == m.Info.Signature && !m.Info.Override {
			return fmt.Errorf("module %s: %w", m.Info.Signature, apperr.ErrAlreadyExists)
		}
	}

	for _, api := range m.APIs {
		if in, ok := api.(Initializer); ok {
			if err := in.Init(); err != nil {
				return fmt.Errorf("module %s: init %s: %w", m.Info.Signature, api.Registration(), err)
			}
		}
	}

	if m.Info.Override {
		r.dropShadowed(m)
	}

	r.modules = append(r.modules, m)
	for _, api := range m.APIs {
		r.entries = append(r.entries, entry{module: m, api: api, order: r.seq})
		r.seq++
	}
	return nil
}

// dropShadowed removes records that m overrides. Callers hold the lock.
func (r *Registry) dropShadowed(m *Module) {
	kept := r.entries[:0]
	for _, e := range r.entries {
		shadowed := false
		for _, api := range m.APIs {
			if e.api.Kind() == api.Kind() && e.api.Registration() == api.Registration() {
				shadowed = true
				break
			}
		}
		if shadowed {
			r.logger.Debug("registry: record overridden",
				slog.String("registration", e.api.Registration()),
				slog.String("old", e.module.Info.Signature),
				slog.String("new", m.Info.Signature))
			continue
		}
		kept = append(kept, e)
	}
	r.entries = kept
}

// Unregister removes every record of the module with the given signature.
func (r *Registry) Unregister(signature string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	found := false
	mods := r.modules[:0]
	for _, m := range r.modules {
		if m.Info.Signature == signature {
			found = true
			continue
		}
		mods = append(mods, m)
	}
	r.modules = mods

	entries := r.entries[:0]
	for _, e := range r.entries {
		if e.module.Info.Signature != signature {
			entries = append(entries, e)
		}
	}
	r.entries = entries
	return found
}

// Lookup returns the most recently registered module with the signature.
func (r *Registry) Lookup(signature string) (*Module, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.modules) - 1; i >= 0; i-- {
		if r.modules[i].Info.Signature == signature {
			return r.modules[i], true
		}
	}
	return nil, false
}

// Modules returns a snapshot of the registered modules in registration order.
func (r *Registry) Modules() []*Module {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Module, len(r.modules))
	copy(out, r.modules)
	return out
}

// Count returns the number of live API records.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Query ranks every record of the given kind against c. Candidates with
// rank 0 or an unknown rank are left out. The preferred module comes
// first, the rest are ordered by final rank, ties by registration order. An empty result means no handler and
// is not an error.
func (r *Registry) Query(kind Kind, c Criteria) []Candidate {
	r.mu.Lock()
	entries := make([]entry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.api.Kind() == kind {
			entries = append(entries, e)
		}
	}
	r.mu.Unlock()

	var out []Candidate
	for _, e := range entries {
		raw := e.api.Check(c)
		if raw == RankUnknown {
			r.logger.Debug("registry: criteria not understood",
				slog.String("module", e.module.Info.Signature),
				slog.String("registration", e.api.Registration()))
			continue
		}
		if raw <= 0 {
			continue
		}
		if e.module.Info.APIVersion == CoreAPIVersion {
			raw++
		}
		preferred := c.Preferred != "" && e.module.Info.Signature == c.Preferred
		final := raw
		if preferred {
			final = raw * PreferredBoost
		}
		out = append(out, Candidate{
			Module:    e.module,
			API:       e.api,
			Raw:       raw,
			Rank:      final,
			Preferred: preferred,
			order:     e.order,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Preferred != out[j].Preferred {
			return out[i].Preferred
		}
		if out[i].Rank != out[j].Rank {
			return out[i].Rank > out[j].Rank
		}
		return out[i].order < out[j].order
	})
	return out
}

// Select returns the best candidate. ok is false when nothing can handle
// the request.
func (r *Registry) Select(kind Kind, c Criteria) (Candidate, bool) {
	cands := r.Query(kind, c)
	if len(cands) == 0 {
		return Candidate{}, false
	}
	return cands[0], true
}

// Close shuts the registry down, closing records that hold resources.
// The first close error is returned; all records are closed regardless.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	var first error
	for _, e := range r.entries {
		if c, ok := e.api.(Closer); ok {
			if err := c.Close(); err != nil && first == nil {
				first = fmt.Errorf("module %s: close: %w", e.module.Info.Signature, err)
			}
		}
	}
	r.entries = nil
	r.modules = nil
	return first
}
