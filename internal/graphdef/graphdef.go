// Package graphdef reads filter graph definitions from YAML and builds them
// on a runtime.
package graphdef

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

	"github.com/starford/cmmgraph/internal/apperr"
	"github.com/starford/cmmgraph/internal/filter"
	"github.com/starford/cmmgraph/internal/module"
)

var (
	idRe        = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)
	signatureRe = regexp.MustCompile(`^[A-Za-z0-9]{4}$`)
)

// Definition is one graph document.
type Definition struct {
	Name   string    `yaml:"name,omitempty" json:"name,omitempty"`
	Output string    `yaml:"output" json:"output"`
	Input  string    `yaml:"input,omitempty" json:"input,omitempty"`
	Device string    `yaml:"device,omitempty" json:"device,omitempty"`
	Nodes  []NodeDef `yaml:"nodes" json:"nodes"`
	Edges  []EdgeDef `yaml:"edges,omitempty" json:"edges,omitempty"`
}

// NodeDef describes one node. Registration selects the filter core;
// Prefer names the preferred module signature for this node only.
type NodeDef struct {
	ID           string            `yaml:"id" json:"id"`
	Registration string            `yaml:"registration" json:"registration"`
	Prefer       string            `yaml:"prefer,omitempty" json:"prefer,omitempty"`
	Plugs        int               `yaml:"plugs,omitempty" json:"plugs,omitempty"`
	Sockets      int               `yaml:"sockets,omitempty" json:"sockets,omitempty"`
	Options      map[string]string `yaml:"options,omitempty" json:"options,omitempty"`
	Tags         map[string]string `yaml:"tags,omitempty" json:"tags,omitempty"`
}

// EdgeDef connects socket From ("node.socket") to plug To ("node.plug").
// The connector index defaults to 0.
type EdgeDef struct {
	From string `yaml:"from" json:"from"`
	To   string `yaml:"to" json:"to"`
}

// Endpoint is a parsed edge end.
type Endpoint struct {
	Node  string
	Index int
}

// ParseEndpoint splits "node.index".
func ParseEndpoint(s string) (Endpoint, error) {
	id, idx, found := strings.Cut(s, ".")
	if !idRe.MatchString(id) {
		return Endpoint{}, fmt.Errorf("invalid node id in %q", s)
	}
	if !found {
		return Endpoint{Node: id}, nil
	}
	n, err := strconv.Atoi(idx)
	if err != nil || n < 0 {
		return Endpoint{}, fmt.Errorf("invalid connector index in %q", s)
	}
	return Endpoint{Node: id, Index: n}, nil
}

// Parse decodes and validates a definition. Unknown fields are rejected.
func Parse(data []byte) (*Definition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var def Definition
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("graphdef: decode: %w: %w", apperr.ErrInvalid, err)
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("graphdef: %w: %w", apperr.ErrInvalid, err)
	}
	return &def, nil
}

// Marshal encodes def as YAML.
func Marshal(def *Definition) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(def); err != nil {
		return nil, fmt.Errorf("graphdef: encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("graphdef: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Validate checks field formats and that every reference names a node.
func (d Definition) Validate() error {
	if err := validation.ValidateStruct(&d,
		validation.Field(&d.Output, validation.Required, validation.Match(idRe)),
		validation.Field(&d.Input, validation.Match(idRe)),
		validation.Field(&d.Nodes, validation.Required),
		validation.Field(&d.Edges),
	); err != nil {
		return err
	}

	seen := make(map[string]bool, len(d.Nodes))
	for _, n := range d.Nodes {
		if seen[n.ID] {
			return fmt.Errorf("nodes: duplicate id %q", n.ID)
		}
		seen[n.ID] = true
	}
	for _, ref := range []string{d.Output, d.Input} {
		if ref != "" && !seen[ref] {
			return fmt.Errorf("unknown node %q", ref)
		}
	}
	for i, e := range d.Edges {
		for _, end := range []string{e.From, e.To} {
			ep, _ := ParseEndpoint(end)
			if !seen[ep.Node] {
				return fmt.Errorf("edges: %d: unknown node %q", i, ep.Node)
			}
		}
	}
	return nil
}

// Validate checks one node.
func (n NodeDef) Validate() error {
	return validation.ValidateStruct(&n,
		validation.Field(&n.ID, validation.Required, validation.Match(idRe)),
		validation.Field(&n.Registration, validation.Required),
		validation.Field(&n.Prefer, validation.Match(signatureRe)),
		validation.Field(&n.Plugs, validation.Min(0)),
		validation.Field(&n.Sockets, validation.Min(0)),
	)
}

// Validate checks that both ends parse.
func (e EdgeDef) Validate() error {
	endpoint := validation.By(func(v any) error {
		_, err := ParseEndpoint(v.(string))
		return err
	})
	return validation.ValidateStruct(&e,
		validation.Field(&e.From, validation.Required, endpoint),
		validation.Field(&e.To, validation.Required, endpoint),
	)
}

// Graph is a definition instantiated on a runtime.
type Graph struct {
	Def    *Definition
	Nodes  map[string]*filter.Node
	Output *filter.Node
	Input  *filter.Node
}

// Node returns the node built for id.
func (g *Graph) Node(id string) (*filter.Node, bool) {
	n, ok := g.Nodes[id]
	return n, ok
}

// Release releases every node of the graph.
func (g *Graph) Release() {
	for _, id := range g.order() {
		g.Nodes[id].Release()
	}
}

func (g *Graph) order() []string {
	out := make([]string, 0, len(g.Def.Nodes))
	for _, n := range g.Def.Nodes {
		if _, ok := g.Nodes[n.ID]; ok {
			out = append(out, n.ID)
		}
	}
	return out
}

// Conversion binds the input and output nodes. Without an explicit input
// the first node of the definition is used.
func (g *Graph) Conversion() (*filter.Conversion, error) {
	in := g.Input
	if in == nil {
		in = g.Nodes[g.Def.Nodes[0].ID]
	}
	return filter.NewConversion(in, g.Output)
}

// Build instantiates def on rt. preferred is the module signature
// preferred for nodes without their own Prefer. On error every node built
// so far is released.
func Build(rt *filter.Runtime, def *Definition, preferred string) (_ *Graph, err error) {
	g := &Graph{Def: def, Nodes: make(map[string]*filter.Node, len(def.Nodes))}
	defer func() {
		if err != nil {
			g.Release()
		}
	}()

	for _, nd := range def.Nodes {
		crit := module.Criteria{Preferred: preferred}
		if nd.Prefer != "" {
			crit.Preferred = nd.Prefer
		}
		core, err := rt.NewCore(nd.Registration, crit)
		if err != nil {
			return nil, fmt.Errorf("graphdef: node %s: %w", nd.ID, err)
		}
		n, err := rt.NewNode(core, nd.Plugs, nd.Sockets)
		if err != nil {
			return nil, fmt.Errorf("graphdef: node %s: %w", nd.ID, err)
		}
		n.SetName(nd.ID)
		for k, v := range nd.Tags {
			n.SetTag(k, v)
		}
		for k, v := range nd.Options {
			n.Options().Set(k, v)
		}
		g.Nodes[nd.ID] = n
	}

	for _, e := range def.Edges {
		from, err := ParseEndpoint(e.From)
		if err != nil {
			return nil, fmt.Errorf("graphdef: edge %s: %w", e.From, err)
		}
		to, err := ParseEndpoint(e.To)
		if err != nil {
			return nil, fmt.Errorf("graphdef: edge %s: %w", e.To, err)
		}
		if err := g.Nodes[to.Node].Connect(to.Index, g.Nodes[from.Node], from.Index); err != nil {
			return nil, fmt.Errorf("graphdef: edge %s -> %s: %w", e.From, e.To, err)
		}
	}

	g.Output = g.Nodes[def.Output]
	if len(g.Output.Plugs()) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoOutput, def.Output)
	}
	if def.Input != "" {
		g.Input = g.Nodes[def.Input]
	}
	return g, nil
}

// ErrNoOutput is returned when a definition's output node cannot run.
var ErrNoOutput = errors.New("graphdef: output node has no plug")
