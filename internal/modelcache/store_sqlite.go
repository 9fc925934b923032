package modelcache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // database/sql driver
)

// sqliteRowID is the primary key of the single snapshot row; the table
// never holds more than one entry.
const sqliteRowID = 1

// SQLiteStore persists the snapshot in a local SQLite database, sharing a
// cache file safely across processes on one machine.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and ensures the
// snapshot table exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite handles one writer at a time; cap connections so concurrent
	// Set calls queue instead of failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS model_cache (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			endpoint TEXT NOT NULL,
			updated_at DATETIME NOT NULL,
			models JSON NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create model_cache table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Get retrieves the snapshot row.
func (s *SQLiteStore) Get(ctx context.Context) (*Snapshot, error) {
	var (
		endpoint  string
		updatedAt time.Time
		models    []byte
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT endpoint, updated_at, models FROM model_cache WHERE id = ?", sqliteRowID,
	).Scan(&endpoint, &updatedAt, &models)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read model cache: %w", err)
	}

	snap := &Snapshot{Endpoint: endpoint, UpdatedAt: updatedAt}
	if err := json.Unmarshal(models, &snap.Models); err != nil {
		return nil, fmt.Errorf("failed to parse cached models: %w", err)
	}
	return snap, nil
}

// Set replaces the snapshot row.
func (s *SQLiteStore) Set(ctx context.Context, snap *Snapshot) error {
	models, err := json.Marshal(snap.Models)
	if err != nil {
		return fmt.Errorf("failed to marshal cached models: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO model_cache (id, endpoint, updated_at, models)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			endpoint = excluded.endpoint,
			updated_at = excluded.updated_at,
			models = excluded.models
	`, sqliteRowID, snap.Endpoint, snap.UpdatedAt, models)
	if err != nil {
		return fmt.Errorf("failed to write model cache: %w", err)
	}
	return nil
}

// Clear removes the snapshot row.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM model_cache WHERE id = ?", sqliteRowID); err != nil {
		return fmt.Errorf("failed to clear model cache: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
