// Package clickhouse provides a ClickHouse snapshot backend, mostly used
// as a mirror for reporting next to a primary backend.
package clickhouse

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

var tableNameRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Store keeps versioned collection snapshots in a ReplacingMergeTree table.
// Every save inserts a new row; reads take the highest version.
type Store struct {
	conn   driver.Conn
	table  string
	logger *slog.Logger
}

// NewStore connects to ClickHouse and ensures the snapshot table exists.
func NewStore(ctx context.Context, config *ConnectionConfig, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if config == nil {
		config = DefaultConfig()
	}
	if !tableNameRegex.MatchString(config.Table) {
		return nil, fmt.Errorf("invalid table name %q", config.Table)
	}

	conn, err := Connect(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connecting to ClickHouse: %w", err)
	}

	if err := conn.Exec(ctx, tableDDL(config.Table)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating %s: %w", config.Table, err)
	}

	logger.Info("clickhouse snapshot table ready", "addr", config.Addr, "table", config.Table)

	return &Store{conn: conn, table: config.Table, logger: logger}, nil
}

func tableDDL(table string) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			name       LowCardinality(String),
			version    UInt64,
			payload    String,
			saved_at   DateTime64(3)
		) ENGINE = ReplacingMergeTree(version)
		ORDER BY name
	`, table)
}

// Load returns the latest snapshot, or nil if the collection is absent.
func (s *Store) Load(ctx context.Context, collection string) ([]byte, error) {
	var (
		count   uint64
		payload string
	)
	query := fmt.Sprintf(`SELECT count(), argMax(payload, version) FROM %s WHERE name = ?`, s.table)
	if err := s.conn.QueryRow(ctx, query, collection).Scan(&count, &payload); err != nil {
		return nil, fmt.Errorf("selecting %s: %w", collection, err)
	}
	if count == 0 {
		return nil, nil
	}
	return []byte(payload), nil
}

// Save inserts a new snapshot version, numbered by wall-clock nanoseconds.
func (s *Store) Save(ctx context.Context, collection string, payload []byte) error {
	now := time.Now().UTC()
	query := fmt.Sprintf(`INSERT INTO %s (name, version, payload, saved_at) VALUES (?, ?, ?, ?)`, s.table)
	if err := s.conn.Exec(ctx, query, collection, uint64(now.UnixNano()), string(payload), now); err != nil {
		return fmt.Errorf("inserting %s: %w", collection, err)
	}
	return nil
}

// Close closes the connection.
func (s *Store) Close() error {
	return s.conn.Close()
}
