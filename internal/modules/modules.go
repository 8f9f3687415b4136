// Package modules contains the CMMs shipped with the runtime.
package modules

import (
	"fmt"
	"slices"

	"github.com/starford/cmmgraph/internal/connector"
	"github.com/starford/cmmgraph/internal/module"
)

// Prefix is the registration prefix of every built-in record.
const Prefix = "sw/starford/imaging/"

// Status codes returned by built-in filters.
const (
	// StatusShapeMismatch is returned when inputs disagree on block shape.
	StatusShapeMismatch = 2
	// StatusNoContext is returned when a context could not be built.
	StatusNoContext = 3
)

var imageTypes = []connector.DataType{connector.Uint8, connector.Uint16, connector.Float32, connector.Float64}

func imagePlug(name string) connector.Template {
	return connector.Template{
		Name:        name,
		TypeID:      "image",
		Input:       true,
		DataTypes:   imageTypes,
		Channels:    connector.Range{Min: 1, Max: 16},
		Cardinality: connector.Cardinality{Min: 1, Max: 1},
	}
}

func imageSocket(name string) connector.Template {
	return connector.Template{
		Name:        name,
		TypeID:      "image",
		DataTypes:   imageTypes,
		Channels:    connector.Range{Min: 1, Max: 16},
		Cardinality: connector.Cardinality{Max: connector.Unbounded},
	}
}

// All returns fresh instances of every built-in module.
func All() []*module.Module {
	return []*module.Module{
		newSource(),
		newLcm2(),
		newLcms(),
		newSink(),
		newBlend(),
		newMonitorConfig(),
	}
}

// Register adds the built-in modules to reg, skipping the signatures in
// disabled.
func Register(reg *module.Registry, disabled ...string) error {
	for _, m := range All() {
		if slices.Contains(disabled, m.Info.Signature) {
			continue
		}
		if err := reg.Register(m); err != nil {
			return fmt.Errorf("modules: %w", err)
		}
	}
	return nil
}

// Compat returns the connector compatibility table of the built-in
// filters.
func Compat() *connector.Compat {
	c := connector.NewCompat()
	c.Allow("image", "image.rgb")
	return c
}
