// Package connector describes the typed ports of filter nodes and decides
// whether an input port (plug) may be bound to an output port (socket).
package connector

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/starford/cmmgraph/internal/apperr"
)

// DataType is a pixel sample encoding.
type DataType int

const (
	Uint8 DataType = iota + 1
	Uint16
	Half
	Float32
	Float64
)

func (d DataType) String() string {
	switch d {
	case Uint8:
		return "u8"
	case Uint16:
		return "u16"
	case Half:
		return "f16"
	case Float32:
		return "f32"
	case Float64:
		return "f64"
	default:
		return "unknown"
	}
}

// ParseDataType is the inverse of DataType.String.
func ParseDataType(s string) (DataType, error) {
	for d := Uint8; d <= Float64; d++ {
		if d.String() == s {
			return d, nil
		}
	}
	return 0, fmt.Errorf("connector: unknown data type %q", s)
}

// Unbounded is the Max of a cardinality without upper limit.
const Unbounded = -1

// Cardinality bounds how many connections a port takes part in. For a plug
// Min >= 1 marks the connection as mandatory; for a socket Max limits the
// fan-out.
type Cardinality struct {
	Min, Max int
}

// Allows reports whether n connections fit under the upper bound.
func (c Cardinality) Allows(n int) bool {
	return c.Max == Unbounded || n <= c.Max
}

// Range is an inclusive channel count range. The zero value means any.
type Range struct {
	Min, Max int
}

func (r Range) any() bool { return r.Min == 0 && r.Max == 0 }

func (r Range) overlaps(o Range) bool {
	if r.any() || o.any() {
		return true
	}
	return r.Min <= o.Max && o.Min <= r.Max
}

// Template is the declared shape of one port. Modules declare templates;
// nodes instantiate them.
type Template struct {
	Name        string
	TypeID      string
	Input       bool
	DataTypes   []DataType
	Channels    Range
	Cardinality Cardinality
}

// Mandatory reports whether a plug of this shape must be bound before the
// node can build its context.
func (t *Template) Mandatory() bool {
	return t.Input && t.Cardinality.Min >= 1
}

// Shape is a compact text form of the template, used in context hashes.
func (t *Template) Shape() string {
	var b strings.Builder
	if t.Input {
		b.WriteString("plug:")
	} else {
		b.WriteString("socket:")
	}
	b.WriteString(t.TypeID)
	b.WriteByte('[')
	for i, d := range t.DataTypes {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(d.String())
	}
	fmt.Fprintf(&b, "]ch%d-%d", t.Channels.Min, t.Channels.Max)
	return b.String()
}

func intersects(a, b []DataType) bool {
	for _, d := range a {
		if slices.Contains(b, d) {
			return true
		}
	}
	return false
}

// Compat holds pairs of type IDs that may be connected although they are
// not equal. The relation is symmetric. A nil *Compat only accepts equal
// type IDs.
type Compat struct {
	mu    sync.RWMutex
	pairs map[[2]string]struct{}
}

// NewCompat returns an empty compatibility registry.
func NewCompat() *Compat {
	return &Compat{pairs: make(map[[2]string]struct{})}
}

// Allow declares a and b compatible in both directions.
func (c *Compat) Allow(a, b string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pairs[[2]string{a, b}] = struct{}{}
	c.pairs[[2]string{b, a}] = struct{}{}
}

// Compatible reports whether type IDs a and b may be connected.
func (c *Compat) Compatible(a, b string) bool {
	if a == b {
		return true
	}
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.pairs[[2]string{a, b}]
	return ok
}

// CanConnect checks whether plug may be bound to socket, which currently
// drives fanout plugs. Checks run in a fixed order and the first failing
// one is reported as a *apperr.ConnectError: direction, type ID, data
// types and channels, socket cardinality.
func (c *Compat) CanConnect(plug, socket *Template, fanout int) error {
	fail := func(r apperr.ConnectReason) error {
		return &apperr.ConnectError{Reason: r, Plug: plug.Name, Socket: socket.Name}
	}
	if !plug.Input || socket.Input {
		return fail(apperr.ReasonDirection)
	}
	if !c.Compatible(plug.TypeID, socket.TypeID) {
		return fail(apperr.ReasonTypeMismatch)
	}
	if !intersects(plug.DataTypes, socket.DataTypes) || !plug.Channels.overlaps(socket.Channels) {
		return fail(apperr.ReasonDataTypeMismatch)
	}
	if !socket.Cardinality.Allows(fanout + 1) {
		return fail(apperr.ReasonCardinalityExceeded)
	}
	return nil
}
