package index

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/starford/cmmgraph/internal/apperr"
	"github.com/starford/cmmgraph/internal/models"
)

// UpsertGraph inserts or replaces a catalogued graph.
func (db *DB) UpsertGraph(g models.GraphSummary) error {
	_, err := db.conn.Exec(`
		INSERT INTO graphs (name, checksum, output, device, nodes, edges, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			checksum   = excluded.checksum,
			output     = excluded.output,
			device     = excluded.device,
			nodes      = excluded.nodes,
			edges      = excluded.edges,
			updated_at = excluded.updated_at
	`, g.Name, g.Checksum, g.Output, g.Device, g.Nodes, g.Edges, g.UpdatedAt)
	if err != nil {
		return fmt.Errorf("index: upsert graph: %w", err)
	}
	return nil
}

// DeleteGraph removes a graph from the catalog.
func (db *DB) DeleteGraph(name string) error {
	if _, err := db.conn.Exec(`DELETE FROM graphs WHERE name = ?`, name); err != nil {
		return fmt.Errorf("index: delete graph: %w", err)
	}
	return nil
}

// GetGraph returns one catalogued graph or apperr.ErrNotFound.
func (db *DB) GetGraph(name string) (*models.GraphSummary, error) {
	var g models.GraphSummary
	err := db.conn.QueryRow(`
		SELECT name, checksum, output, device, nodes, edges, updated_at
		FROM graphs WHERE name = ?`, name).
		Scan(&g.Name, &g.Checksum, &g.Output, &g.Device, &g.Nodes, &g.Edges, &g.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("index: get graph: %w", err)
	}
	return &g, nil
}

// ListGraphs returns every catalogued graph ordered by name.
func (db *DB) ListGraphs() ([]models.GraphSummary, error) {
	rows, err := db.conn.Query(`
		SELECT name, checksum, output, device, nodes, edges, updated_at
		FROM graphs ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("index: list graphs: %w", err)
	}
	defer rows.Close()

	out := []models.GraphSummary{}
	for rows.Next() {
		var g models.GraphSummary
		if err := rows.Scan(&g.Name, &g.Checksum, &g.Output, &g.Device, &g.Nodes, &g.Edges, &g.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// AllChecksums returns the stored checksum of every catalogued graph.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT name, checksum FROM graphs`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var name, cs string
		if err := rows.Scan(&name, &cs); err != nil {
			return nil, err
		}
		out[name] = cs
	}
	return out, rows.Err()
}

// GraphsForDevice returns the names of the graphs bound to device id.
func (db *DB) GraphsForDevice(id string) ([]string, error) {
	rows, err := db.conn.Query(`SELECT name FROM graphs WHERE device = ? ORDER BY name`, id)
	if err != nil {
		return nil, fmt.Errorf("index: graphs for device: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
