// Package storage defines the graph definition file store.
package storage

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/starford/cmmgraph/internal/apperr"
	"github.com/starford/cmmgraph/internal/models"
)

// Ext is the file extension of graph definitions.
const Ext = ".yaml"

// A graph name is one or more slash separated segments. Segments start with
// a letter or digit, so names never address hidden files or parent
// directories.
var nameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*(/[A-Za-z0-9][A-Za-z0-9._-]*)*$`)

// Provider stores graph definitions by name. Missing graphs are reported
// as apperr.ErrNotFound and malformed names as apperr.ErrInvalid.
type Provider interface {
	List() ([]models.GraphFile, error)
	Read(name string) ([]byte, error)
	// Write replaces the definition atomically.
	Write(name string, content []byte) error
	Delete(name string) error
}

// ValidateName reports whether name can address a graph definition.
func ValidateName(name string) error {
	if !nameRe.MatchString(name) || strings.HasSuffix(name, Ext) {
		return fmt.Errorf("storage: graph name %q: %w", name, apperr.ErrInvalid)
	}
	return nil
}

// PathOf returns the file path of the graph called name.
func PathOf(name string) string { return filepath.FromSlash(name) + Ext }

// NameOf returns the graph name stored at path.
func NameOf(path string) string {
	return strings.TrimSuffix(filepath.ToSlash(path), Ext)
}
