package index

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/starford/cmmgraph/internal/apperr"
	"github.com/starford/cmmgraph/internal/models"
)

// UpsertDevice inserts or replaces a device binding.
func (db *DB) UpsertDevice(d models.Device) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	_, err = tx.Exec(`
		INSERT INTO devices (id, class, profile, preferred, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			class      = excluded.class,
			profile    = excluded.profile,
			preferred  = excluded.preferred,
			updated_at = excluded.updated_at
	`, d.ID, d.Class, d.Profile, d.Preferred, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("index: upsert device: %w", err)
	}
	return tx.Commit()
}

// GetDevice returns one device binding or apperr.ErrNotFound.
func (db *DB) GetDevice(id string) (*models.Device, error) {
	var d models.Device
	err := db.conn.QueryRow(`
		SELECT id, class, profile, preferred, updated_at
		FROM devices WHERE id = ?`, id).
		Scan(&d.ID, &d.Class, &d.Profile, &d.Preferred, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("index: get device: %w", err)
	}
	return &d, nil
}

// ListDevices returns every device binding ordered by id.
func (db *DB) ListDevices() ([]models.Device, error) {
	rows, err := db.conn.Query(`
		SELECT id, class, profile, preferred, updated_at
		FROM devices ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("index: list devices: %w", err)
	}
	defer rows.Close()

	out := []models.Device{}
	for rows.Next() {
		var d models.Device
		if err := rows.Scan(&d.ID, &d.Class, &d.Profile, &d.Preferred, &d.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeleteDevice removes a device binding. Missing ids report
// apperr.ErrNotFound.
func (db *DB) DeleteDevice(id string) error {
	res, err := db.conn.Exec(`DELETE FROM devices WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("index: delete device: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}
