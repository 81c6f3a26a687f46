// Package sqlite provides a SQLite-backed snapshot backend.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/001_collections.up.sql
var migrationSQL string

// Store keeps collection snapshots in a single SQLite table.
type Store struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration.
type Config struct {
	DBPath string
}

// DefaultConfig returns default SQLite configuration.
func DefaultConfig(dbPath string) Config {
	if dbPath == "" {
		dbPath = "./data/dashboard.db"
	}
	return Config{DBPath: dbPath}
}

// New opens (or creates) the database and applies the schema.
func New(cfg Config) (*Store, error) {
	if dir := filepath.Dir(cfg.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Snapshots are small and written by one goroutine per collection
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA busy_timeout=5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma: %w", err)
		}
	}

	if _, err := db.Exec(migrationSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db, path: cfg.DBPath}, nil
}

// Load returns the stored snapshot, or nil if the collection is absent.
func (s *Store) Load(ctx context.Context, collection string) ([]byte, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM collections WHERE name = ?`, collection,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting %s: %w", collection, err)
	}
	return payload, nil
}

// Save upserts the snapshot and bumps its version.
func (s *Store) Save(ctx context.Context, collection string, payload []byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO collections (name, payload, version, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(name) DO UPDATE SET
			payload = excluded.payload,
			version = version + 1,
			updated_at = excluded.updated_at
	`, collection, payload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upserting %s: %w", collection, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Version returns how many times a collection has been saved.
func (s *Store) Version(ctx context.Context, collection string) (int64, error) {
	var version int64
	err := s.db.QueryRowContext(ctx,
		`SELECT version FROM collections WHERE name = ?`, collection,
	).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("selecting version of %s: %w", collection, err)
	}
	return version, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
