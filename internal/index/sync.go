package index

import (
	"log/slog"
	"time"

	"github.com/starford/cmmgraph/internal/checksum"
	"github.com/starford/cmmgraph/internal/graphdef"
	"github.com/starford/cmmgraph/internal/models"
	"github.com/starford/cmmgraph/internal/storage"
)

// Sync walks the graph store and brings the catalog up to date:
//   - new/changed files are parsed and upserted
//   - files removed from disk are deleted from the catalog
//
// Files that fail to parse are logged and left out of the catalog.
func Sync(db Index, store storage.Provider, logger *slog.Logger) error {
	metas, err := store.List()
	if err != nil {
		return err
	}

	checksums, err := db.AllChecksums()
	if err != nil {
		return err
	}

	disk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		if checksums[m.Name] == m.Checksum {
			disk[m.Name] = struct{}{}
			continue
		}
		data, err := store.Read(m.Name)
		if err != nil {
			logger.Warn("sync: read failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		if _, err := IndexFile(db, m.Name, data, m.UpdatedAt); err != nil {
			logger.Warn("sync: index failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		disk[m.Name] = struct{}{}
		logger.Debug("sync: indexed", slog.String("name", m.Name))
	}

	for name := range checksums {
		if _, ok := disk[name]; !ok {
			if err := db.DeleteGraph(name); err != nil {
				logger.Warn("sync: delete failed", slog.String("name", name), slog.String("error", err.Error()))
			} else {
				logger.Debug("sync: removed stale", slog.String("name", name))
			}
		}
	}

	return nil
}

// IndexFile parses data and upserts its summary into the catalog.
func IndexFile(db Index, name string, data []byte, updated time.Time) (*graphdef.Definition, error) {
	def, err := graphdef.Parse(data)
	if err != nil {
		return nil, err
	}
	if updated.IsZero() {
		updated = time.Now()
	}
	return def, db.UpsertGraph(models.GraphSummary{
		Name:      name,
		Checksum:  checksum.Sum(data),
		Output:    def.Output,
		Device:    def.Device,
		Nodes:     len(def.Nodes),
		Edges:     len(def.Edges),
		UpdatedAt: updated,
	})
}
