// Package postgres provides a Postgres-backed snapshot backend.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/dashboard?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store keeps collection snapshots in a JSONB table.
type Store struct {
	db *sql.DB
}

// New opens a Postgres-backed store using dsn (falls back to defaultDSN)
// and ensures the snapshot table exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureTable(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func ensureTable(ctx context.Context, db *sql.DB) error {
	ddl := `CREATE TABLE IF NOT EXISTS collections (
		name       TEXT PRIMARY KEY,
		payload    JSONB NOT NULL,
		version    BIGINT NOT NULL DEFAULT 1,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure collections table: %w", err)
	}
	return nil
}

// Load returns the stored snapshot, or nil if the collection is absent.
func (s *Store) Load(ctx context.Context, collection string) ([]byte, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM collections WHERE name = $1`, collection,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", collection, err)
	}
	return payload, nil
}

// Save upserts the snapshot.
func (s *Store) Save(ctx context.Context, collection string, payload []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collections (name, payload, version, updated_at)
		VALUES ($1, $2, 1, now())
		ON CONFLICT (name) DO UPDATE SET
			payload = EXCLUDED.payload,
			version = collections.version + 1,
			updated_at = now()
	`, collection, payload)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", collection, err)
	}
	return nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
