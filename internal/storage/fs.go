package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/starford/cmmgraph/internal/apperr"
	"github.com/starford/cmmgraph/internal/checksum"
	"github.com/starford/cmmgraph/internal/models"
)

const tmpPattern = ".cmmgraph-tmp-*"

// FS keeps one YAML file per graph under a root directory. Graph "a/b" lives
// in <root>/a/b.yaml.
type FS struct {
	root string
}

// NewFS opens the store rooted at root, which must be an existing directory.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	return &FS{root: abs}, nil
}

// Root returns the absolute root directory.
func (f *FS) Root() string { return f.root }

func (f *FS) file(name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return filepath.Join(f.root, PathOf(name)), nil
}

// List returns every graph in the store ordered by name. Files whose path
// is not a valid graph name are ignored.
func (f *FS) List() ([]models.GraphFile, error) {
	var out []models.GraphFile
	err := filepath.WalkDir(f.root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if p != f.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(f.root, p)
		if err != nil || !strings.HasSuffix(rel, Ext) {
			return nil
		}
		name := NameOf(rel)
		if ValidateName(name) != nil {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		out = append(out, models.GraphFile{
			Name:      name,
			Path:      filepath.ToSlash(rel),
			Checksum:  checksum.Sum(data),
			UpdatedAt: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Read returns the definition of graph name.
func (f *FS) Read(name string) ([]byte, error) {
	p, err := f.file(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, notFound(name, "read", err)
	}
	return data, nil
}

// Write stores content as graph name: temp file, fsync, rename.
func (f *FS) Write(name string, content []byte) error {
	p, err := f.file(name)
	if err != nil {
		return err
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, tmpPattern)
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("storage: write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		return fmt.Errorf("storage: rename %s: %w", name, err)
	}
	committed = true
	return nil
}

// Delete removes graph name. Directories left empty are removed up to the
// root.
func (f *FS) Delete(name string) error {
	p, err := f.file(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		return notFound(name, "delete", err)
	}
	for dir := filepath.Dir(p); dir != f.root; dir = filepath.Dir(dir) {
		if os.Remove(dir) != nil {
			break
		}
	}
	return nil
}

func notFound(name, op string, err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("storage: %s %s: %w", op, name, apperr.ErrNotFound)
	}
	return fmt.Errorf("storage: %s %s: %w", op, name, err)
}
