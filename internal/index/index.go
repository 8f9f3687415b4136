package index

import "github.com/starford/cmmgraph/internal/models"

// Index defines the catalog operations used by the service layer.
// Consumers should depend on this interface rather than the concrete *DB
// type to facilitate testing with fakes.
type Index interface {
	UpsertGraph(g models.GraphSummary) error
	DeleteGraph(name string) error
	GetGraph(name string) (*models.GraphSummary, error)
	ListGraphs() ([]models.GraphSummary, error)
	AllChecksums() (map[string]string, error)

	UpsertDevice(d models.Device) error
	GetDevice(id string) (*models.Device, error)
	ListDevices() ([]models.Device, error)
	DeleteDevice(id string) error
	GraphsForDevice(id string) ([]string, error)

	Close() error
}

// Verify *DB satisfies Index at compile time.
var _ Index = (*DB)(nil)
