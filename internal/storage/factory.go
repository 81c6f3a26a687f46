package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fidde/herd_weight_dashboard/internal/storage/clickhouse"
	"github.com/fidde/herd_weight_dashboard/internal/storage/dual"
	"github.com/fidde/herd_weight_dashboard/internal/storage/file"
	"github.com/fidde/herd_weight_dashboard/internal/storage/memory"
	"github.com/fidde/herd_weight_dashboard/internal/storage/postgres"
	"github.com/fidde/herd_weight_dashboard/internal/storage/s3"
	"github.com/fidde/herd_weight_dashboard/internal/storage/sqlite"
)

// Backend names accepted by New.
const (
	BackendMemory     = "memory"
	BackendFile       = "file"
	BackendSQLite     = "sqlite"
	BackendPostgres   = "postgres"
	BackendS3         = "s3"
	BackendClickHouse = "clickhouse"
)

// Config holds storage configuration.
type Config struct {
	// Backend selects the primary backend
	Backend string `yaml:"backend"`

	// Mirror optionally names a second backend that receives every
	// snapshot asynchronously. Empty disables mirroring.
	Mirror string `yaml:"mirror"`

	// File backend
	Dir string `yaml:"dir"`

	// SQLite backend
	SQLitePath string `yaml:"sqlite_path"`

	// Postgres backend
	PostgresDSN string `yaml:"postgres_dsn"`

	S3         S3Config         `yaml:"s3"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`

	// SeedDemoRecords fills an empty records collection with this many
	// generated readings. Zero disables seeding.
	SeedDemoRecords int `yaml:"seed_demo_records"`
}

// S3Config configures the object-store backend.
type S3Config struct {
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	PathStyle       bool   `yaml:"path_style"`
}

// ClickHouseConfig configures the ClickHouse backend.
type ClickHouseConfig struct {
	Addr     string `yaml:"addr"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Table    string `yaml:"table"`
}

// DefaultConfig returns default storage configuration.
func DefaultConfig() Config {
	ch := clickhouse.DefaultConfig()

	return Config{
		Backend:    BackendFile,
		Dir:        file.DefaultDir,
		SQLitePath: "data/dashboard.db",
		ClickHouse: ClickHouseConfig{
			Addr:     ch.Addr,
			Database: ch.Database,
			Username: ch.Username,
			Table:    ch.Table,
		},
	}
}

// New creates the configured backend, wrapped in a mirror if requested.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	primary, err := open(ctx, cfg.Backend, cfg, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Mirror == "" || cfg.Mirror == cfg.Backend {
		return primary, nil
	}

	secondary, err := open(ctx, cfg.Mirror, cfg, logger)
	if err != nil {
		primary.Close()
		return nil, fmt.Errorf("opening mirror: %w", err)
	}

	logger.Info("storage mirroring enabled", "primary", cfg.Backend, "mirror", cfg.Mirror)
	return dual.New(dual.Config{
		Primary:   primary,
		Secondary: secondary,
		Logger:    logger,
	}), nil
}

func open(ctx context.Context, name string, cfg Config, logger *slog.Logger) (Backend, error) {
	switch name {
	case BackendMemory:
		logger.Info("using in-memory storage")
		return memory.New(), nil

	case BackendFile:
		logger.Info("using file storage", "dir", cfg.Dir)
		return file.New(file.Config{Dir: cfg.Dir, Indent: true})

	case BackendSQLite:
		logger.Info("using SQLite storage", "path", cfg.SQLitePath)
		store, err := sqlite.New(sqlite.DefaultConfig(cfg.SQLitePath))
		if err != nil {
			return nil, fmt.Errorf("creating SQLite store: %w", err)
		}
		return store, nil

	case BackendPostgres:
		logger.Info("using Postgres storage")
		connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		store, err := postgres.New(connectCtx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("creating Postgres store: %w", err)
		}
		return store, nil

	case BackendS3:
		logger.Info("using S3 storage", "bucket", cfg.S3.Bucket, "prefix", cfg.S3.Prefix)
		store, err := s3.New(ctx, s3.Config{
			Region:          cfg.S3.Region,
			Bucket:          cfg.S3.Bucket,
			Prefix:          cfg.S3.Prefix,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			PathStyle:       cfg.S3.PathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("creating S3 store: %w", err)
		}
		return store, nil

	case BackendClickHouse:
		logger.Info("using ClickHouse storage", "addr", cfg.ClickHouse.Addr)
		chCfg := clickhouse.DefaultConfig()
		if cfg.ClickHouse.Addr != "" {
			chCfg.Addr = cfg.ClickHouse.Addr
		}
		if cfg.ClickHouse.Database != "" {
			chCfg.Database = cfg.ClickHouse.Database
		}
		if cfg.ClickHouse.Username != "" {
			chCfg.Username = cfg.ClickHouse.Username
		}
		chCfg.Password = cfg.ClickHouse.Password
		if cfg.ClickHouse.Table != "" {
			chCfg.Table = cfg.ClickHouse.Table
		}
		store, err := clickhouse.NewStore(ctx, chCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("creating ClickHouse store: %w", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown storage backend: %s (supported: memory, file, sqlite, postgres, s3, clickhouse)", name)
	}
}
