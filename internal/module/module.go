// Package module holds the registry of loaded processing modules (CMMs) and
// the ranking used to pick one of them for a capability.
//
// A module is a named set of API records. Each record declares a capability
// Kind and a registration path; the concrete record type decides which
// operations are available, and consumers type-assert to the interface they
// need for a given Kind.
package module

import (
	"fmt"
)

// Kind discriminates API records.
type Kind int

const (
	KindFilter       Kind = iota + 1 // filter algorithm provider
	KindExecutor                     // filter execution provider
	KindDeviceConfig                 // device configuration provider
	KindPolicy                       // graph policy provider
)

func (k Kind) String() string {
	switch k {
	case KindFilter:
		return "filter"
	case KindExecutor:
		return "executor"
	case KindDeviceConfig:
		return "device-config"
	case KindPolicy:
		return "policy"
	default:
		return "unknown"
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for k := KindFilter; k <= KindPolicy; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("module: unknown capability kind %q", s)
}

// Version is a (major, minor, patch) triple.
type Version [3]int

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v[0], v[1], v[2])
}

// CoreAPIVersion is the module API version implemented by this runtime.
// Modules built against it get a ranking bonus.
var CoreAPIVersion = Version{1, 0, 0}

// Info identifies a module.
type Info struct {
	// Signature is the four character module identifier, e.g. "lcm2".
	Signature  string
	Name       string
	Version    Version
	APIVersion Version
	// Override makes this module's records replace earlier records with
	// the same kind and registration instead of coexisting with them.
	Override bool
}

// Rank scores how well a record handles a request. Zero means it cannot.
type Rank int

const (
	// RankUnknown is returned by checks that cannot interpret the criteria.
	RankUnknown Rank = -1
	// PreferredBoost multiplies the rank of the preferred module.
	PreferredBoost = 10
)

// Criteria is passed to every capability check. Data is interpreted by
// the records of one Kind only.
type Criteria struct {
	Pattern   string
	Preferred string
	Data      any
}

// API is one capability record of a module.
type API interface {
	Kind() Kind
	Registration() string
	Check(c Criteria) Rank
}

// Record implements API with a registration-pattern check. Concrete
// records embed it and override Check when they rank differently.
type Record struct {
	Capability Kind
	Path       string
}

func (r Record) Kind() Kind { return r.Capability }

func (r Record) Registration() string { return r.Path }

// Check ranks by matching the registration against c.Pattern. An empty
// pattern matches with rank 1.
func (r Record) Check(c Criteria) Rank {
	if c.Pattern == "" {
		return 1
	}
	return Rank(Match(r.Path, c.Pattern))
}

// Module is a loaded CMM.
type Module struct {
	Info Info
	APIs []API
}

// Initializer is implemented by API records that need setup when their
// module is registered.
type Initializer interface {
	Init() error
}

// Closer is implemented by API records that hold resources until the
// registry is closed.
type Closer interface {
	Close() error
}

func (m *Module) validate() error {
	if len(m.Info.Signature) != 4 {
		return fmt.Errorf("module: signature %q must be four characters", m.Info.Signature)
	}
	if len(m.APIs) == 0 {
		return fmt.Errorf("module %s: no API records", m.Info.Signature)
	}
	for i, api := range m.APIs {
		if api == nil {
			return fmt.Errorf("module %s: API record %d is nil", m.Info.Signature, i)
		}
		if api.Registration() == "" {
			return fmt.Errorf("module %s: API record %d has no registration", m.Info.Signature, i)
		}
	}
	return nil
}
