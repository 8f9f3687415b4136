// Package testutil provides shared test helpers for setting up graph
// stores, catalogs and runtimes.
package testutil

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/starford/cmmgraph/internal/filter"
	"github.com/starford/cmmgraph/internal/index"
	"github.com/starford/cmmgraph/internal/module"
	"github.com/starford/cmmgraph/internal/modules"
	"github.com/starford/cmmgraph/internal/storage"
)

// ProofGraph is a three node graph: source, transform and display sink.
const ProofGraph = `output: out
input: src
nodes:
  - id: src
    registration: sw/starford/imaging/root.source
    options:
      width: "2"
      height: "2"
  - id: xfm
    registration: icc.transform
  - id: out
    registration: sw/starford/imaging/output.sink
edges:
  - from: src.0
    to: xfm.0
  - from: xfm.0
    to: out.0
`

// TestDB creates a temporary SQLite catalog that is automatically closed.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	db, err := index.Open(filepath.Join(t.TempDir(), "cmmgraph-test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestStore creates a temporary graph directory with a storage.Provider.
func TestStore(t *testing.T) (string, storage.Provider) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, store
}

// TestRuntime creates a runtime over an isolated registry holding the
// built-in modules.
func TestRuntime(t *testing.T) *filter.Runtime {
	t.Helper()
	reg := module.NewRegistry(module.WithLogger(Logger()))
	if err := modules.Register(reg); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = reg.Close() })
	return filter.NewRuntime(reg, filter.WithCompat(modules.Compat()), filter.WithLogger(Logger()))
}

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}
