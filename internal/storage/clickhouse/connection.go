package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// ConnectionConfig holds ClickHouse connection parameters
type ConnectionConfig struct {
	Addr     string
	Database string
	Username string
	Password string

	// Table receives one row per saved snapshot
	Table string

	DialTimeout time.Duration

	// Attempts bounds how often Connect tries before giving up
	Attempts int
}

// DefaultConfig returns the configuration for a local ClickHouse.
func DefaultConfig() *ConnectionConfig {
	return &ConnectionConfig{
		Addr:        "localhost:9000",
		Database:    "default",
		Username:    "default",
		Table:       "dashboard_collections",
		DialTimeout: 10 * time.Second,
		Attempts:    3,
	}
}

// options maps config onto driver options. Snapshot writes are serialized
// per collection, so a single connection is enough.
func options(config *ConnectionConfig) *clickhouse.Options {
	return &clickhouse.Options{
		Addr: []string{config.Addr},
		Auth: clickhouse.Auth{
			Database: config.Database,
			Username: config.Username,
			Password: config.Password,
		},
		DialTimeout:  config.DialTimeout,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}
}

// Connect opens and pings a connection, pausing one second between attempts.
func Connect(ctx context.Context, config *ConnectionConfig) (driver.Conn, error) {
	if config == nil {
		config = DefaultConfig()
	}
	attempts := max(config.Attempts, 1)

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		var conn driver.Conn
		if conn, err = clickhouse.Open(options(config)); err == nil {
			if err = conn.Ping(ctx); err == nil {
				return conn, nil
			}
			conn.Close()
		}

		if attempt < attempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Second):
			}
		}
	}
	return nil, fmt.Errorf("connecting to %s after %d attempts: %w", config.Addr, attempts, err)
}
