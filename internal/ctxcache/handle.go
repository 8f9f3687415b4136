package ctxcache

import (
	"sync/atomic"

	"github.com/starford/cmmgraph/internal/checksum"
)

// Copier is implemented by payloads that hand out private copies on a
// cache hit instead of sharing one value.
type Copier interface {
	Copy() any
}

// Releaser is implemented by payloads holding resources. Release is called
// once the last handle referring to the payload is released.
type Releaser interface {
	Release()
}

// Handle is a reference-counted reference to a cached payload.
type Handle struct {
	key     checksum.Digest
	payload any
	refs    *atomic.Int32
}

func newHandle(key checksum.Digest, payload any) *Handle {
	h := &Handle{key: key, payload: payload, refs: new(atomic.Int32)}
	h.refs.Store(1)
	return h
}

// Value returns the payload.
func (h *Handle) Value() any { return h.payload }

// Key returns the digest the payload is cached under.
func (h *Handle) Key() checksum.Digest { return h.key }

// Refs returns the number of live references to the payload.
func (h *Handle) Refs() int { return int(h.refs.Load()) }

// Copy returns a new reference to the same payload.
func (h *Handle) Copy() *Handle {
	h.refs.Add(1)
	return &Handle{key: h.key, payload: h.payload, refs: h.refs}
}

// Release drops this reference. Releasing a nil handle is a no-op.
func (h *Handle) Release() {
	if h == nil {
		return
	}
	if h.refs.Add(-1) == 0 {
		if r, ok := h.payload.(Releaser); ok {
			r.Release()
		}
	}
}

// acquire returns the reference handed to a caller: a private copy when the
// payload knows how to copy itself, a shared reference otherwise.
func (h *Handle) acquire() *Handle {
	if c, ok := h.payload.(Copier); ok {
		return newHandle(h.key, c.Copy())
	}
	return h.Copy()
}
