// Package observer implements the signal bus that connects models (objects
// that change) with observers (objects interested in the change).
//
// Endpoints are compared by identity, so they should be pointers. Links
// hold no ownership over either endpoint; Forget drops every link of an
// endpoint when it is released.
package observer

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Signal is the kind of change delivered over a link.
type Signal int

const (
	OK Signal = iota
	Connected
	Released
	DataChanged
	StorageChanged
	IncompatibleData
	IncompatibleOption
	IncompatibleContext
	IncompleteGraph
	Visited

	// User1 is the first signal free for application use.
	User1 Signal = 20
)

var signalNames = map[Signal]string{
	OK:                  "ok",
	Connected:           "connected",
	Released:            "released",
	DataChanged:         "data_changed",
	StorageChanged:      "storage_changed",
	IncompatibleData:    "incompatible_data",
	IncompatibleOption:  "incompatible_option",
	IncompatibleContext: "incompatible_context",
	IncompleteGraph:     "incomplete_graph",
	Visited:             "visited",
	User1:               "user1",
}

func (s Signal) String() string {
	if n, ok := signalNames[s]; ok {
		return n
	}
	return "user"
}

// Invalidates reports whether the signal must drop cached contexts of the
// model and everything downstream of it.
func (s Signal) Invalidates() bool {
	return s == DataChanged || s == StorageChanged
}

// Func handles a signal delivered over l. The return value tells the
// emitter whether the signal was handled.
type Func func(l *Link, sig Signal, data any) bool

// Link is one registered (observer, model) pair.
type Link struct {
	Observer any
	Model    any
	UserData any
	// Key groups links for Unobserve; handler funcs are not comparable.
	Key string

	fn       Func
	disabled atomic.Int32
}

// Disable suppresses delivery over the link until the returned release
// func is called. Calls nest.
func (l *Link) Disable() (release func()) {
	l.disabled.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() { l.disabled.Add(-1) })
	}
}

// Disabled reports whether delivery is currently suppressed.
func (l *Link) Disabled() bool {
	return l.disabled.Load() > 0
}

// Bus stores links and delivers signals. The zero value is not usable;
// use New.
type Bus struct {
	mu     sync.Mutex
	links  []*Link
	logger *slog.Logger
}

// New returns an empty bus. A nil logger discards output.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Bus{logger: logger}
}

// Observe registers fn to receive signals emitted on model.
func (b *Bus) Observe(observer, model, userData any, fn Func, key string) *Link {
	l := &Link{Observer: observer, Model: model, UserData: userData, Key: key, fn: fn}
	b.mu.Lock()
	b.links = append(b.links, l)
	b.mu.Unlock()
	return l
}

// Unobserve removes links of model. A nil observer or empty key matches
// any. It returns the number of removed links.
func (b *Bus) Unobserve(model, observer any, key string) int {
	return b.remove(func(l *Link) bool {
		return l.Model == model &&
			(observer == nil || l.Observer == observer) &&
			(key == "" || l.Key == key)
	})
}

// Remove drops a single link.
func (b *Bus) Remove(link *Link) bool {
	return b.remove(func(l *Link) bool { return l == link }) > 0
}

// Forget removes every link that has x as observer or model.
func (b *Bus) Forget(x any) int {
	return b.remove(func(l *Link) bool { return l.Model == x || l.Observer == x })
}

func (b *Bus) remove(match func(*Link) bool) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.links[:0]
	n := 0
	for _, l := range b.links {
		if match(l) {
			n++
			continue
		}
		kept = append(kept, l)
	}
	clear(b.links[len(kept):])
	b.links = kept
	return n
}

// Links returns the links currently registered on model.
func (b *Bus) Links(model any) []*Link {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*Link
	for _, l := range b.links {
		if l.Model == model {
			out = append(out, l)
		}
	}
	return out
}

// Observed reports whether model has at least one link.
func (b *Bus) Observed(model any) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, l := range b.links {
		if l.Model == model {
			return true
		}
	}
	return false
}

// Signal delivers sig to every enabled link of model. Each link is
// disabled while its handler runs, so a handler that signals the same
// model again does not recurse into itself. Handlers may add and remove
// links. It reports whether any handler returned true.
func (b *Bus) Signal(model any, sig Signal, data any) bool {
	links := b.Links(model)
	handled := false
	for _, l := range links {
		if l.Disabled() || l.fn == nil {
			continue
		}
		if b.deliver(l, sig, data) {
			handled = true
		}
	}
	return handled
}

func (b *Bus) deliver(l *Link, sig Signal, data any) bool {
	release := l.Disable()
	defer release()
	b.logger.Debug("observer: signal", slog.String("signal", sig.String()), slog.String("key", l.Key))
	return l.fn(l, sig, data)
}

// Len returns the number of registered links.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.links)
}
