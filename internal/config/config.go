// Package config loads the dashboard configuration from YAML and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fidde/herd_weight_dashboard/internal/ingestion"
	"github.com/fidde/herd_weight_dashboard/internal/storage"
	"github.com/fidde/herd_weight_dashboard/internal/storage/snapshots"
	"github.com/fidde/herd_weight_dashboard/internal/suggest"
)

// Config is the complete server configuration.
type Config struct {
	Server      ServerConfig    `yaml:"server"`
	OTLP        OTLPConfig      `yaml:"otlp"`
	MQTT        MQTTConfig      `yaml:"mqtt"`
	Storage     storage.Config  `yaml:"storage"`
	Snapshots   SnapshotsConfig `yaml:"snapshots"`
	Suggestions suggest.Config  `yaml:"suggestions"`
	Query       QueryConfig     `yaml:"query"`
	Bootstrap   BootstrapConfig `yaml:"bootstrap"`
	Logging     LoggingConfig   `yaml:"logging"`
}

// ServerConfig configures the REST API.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// OTLPConfig configures the OTLP receivers. Empty addresses disable them.
type OTLPConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"`
}

// MQTTConfig configures reading ingestion over MQTT. An empty broker
// disables it.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
}

// SnapshotsConfig configures named record snapshots.
type SnapshotsConfig struct {
	Enabled          bool `yaml:"enabled"`
	snapshots.Config `yaml:",inline"`
}

// QueryConfig configures search.
type QueryConfig struct {
	DefaultPageSize int `yaml:"default_page_size"`
}

// BootstrapConfig is the admin account created on an empty users store.
type BootstrapConfig struct {
	AdminUsername string `yaml:"admin_username"`
	AdminPassword string `yaml:"admin_password"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            "0.0.0.0:9002",
			ShutdownTimeout: 10 * time.Second,
		},
		OTLP: OTLPConfig{
			HTTPAddr: "0.0.0.0:4318",
			GRPCAddr: "0.0.0.0:4317",
		},
		MQTT: MQTTConfig{
			ClientID: "herd-dashboard",
			Topic:    ingestion.DefaultTopic,
			QoS:      1,
		},
		Storage: storage.DefaultConfig(),
		Snapshots: SnapshotsConfig{
			Enabled: true,
			Config:  snapshots.DefaultConfig(),
		},
		Suggestions: suggest.DefaultConfig(),
		Query: QueryConfig{
			DefaultPageSize: 10,
		},
		Bootstrap: BootstrapConfig{
			AdminUsername: "admin",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML file over the defaults. A missing file is not an
// error when path is empty.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config YAML: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overlays DASH_* environment variables read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	env := envReader{getenv: getenv}

	env.str("DASH_ADDR", &c.Server.Addr)
	env.duration("DASH_SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout)

	env.str("DASH_OTLP_HTTP_ADDR", &c.OTLP.HTTPAddr)
	env.str("DASH_OTLP_GRPC_ADDR", &c.OTLP.GRPCAddr)

	env.str("DASH_MQTT_BROKER", &c.MQTT.Broker)
	env.str("DASH_MQTT_CLIENT_ID", &c.MQTT.ClientID)
	env.str("DASH_MQTT_USERNAME", &c.MQTT.Username)
	env.str("DASH_MQTT_PASSWORD", &c.MQTT.Password)
	env.str("DASH_MQTT_TOPIC", &c.MQTT.Topic)

	env.str("DASH_STORAGE_BACKEND", &c.Storage.Backend)
	env.str("DASH_STORAGE_MIRROR", &c.Storage.Mirror)
	env.str("DASH_DATA_DIR", &c.Storage.Dir)
	env.str("DASH_SQLITE_PATH", &c.Storage.SQLitePath)
	env.str("DASH_POSTGRES_DSN", &c.Storage.PostgresDSN)
	env.str("DASH_S3_BUCKET", &c.Storage.S3.Bucket)
	env.str("DASH_S3_PREFIX", &c.Storage.S3.Prefix)
	env.str("DASH_S3_REGION", &c.Storage.S3.Region)
	env.str("DASH_S3_ENDPOINT", &c.Storage.S3.Endpoint)
	env.str("DASH_S3_ACCESS_KEY_ID", &c.Storage.S3.AccessKeyID)
	env.str("DASH_S3_SECRET_ACCESS_KEY", &c.Storage.S3.SecretAccessKey)
	env.boolean("DASH_S3_PATH_STYLE", &c.Storage.S3.PathStyle)
	env.str("DASH_CLICKHOUSE_ADDR", &c.Storage.ClickHouse.Addr)
	env.str("DASH_CLICKHOUSE_DATABASE", &c.Storage.ClickHouse.Database)
	env.str("DASH_CLICKHOUSE_USERNAME", &c.Storage.ClickHouse.Username)
	env.str("DASH_CLICKHOUSE_PASSWORD", &c.Storage.ClickHouse.Password)
	env.integer("DASH_SEED_DEMO_RECORDS", &c.Storage.SeedDemoRecords)

	env.boolean("DASH_SNAPSHOTS_ENABLED", &c.Snapshots.Enabled)
	env.str("DASH_SNAPSHOT_DIR", &c.Snapshots.Dir)
	env.integer("DASH_MAX_SNAPSHOTS", &c.Snapshots.MaxSnapshots)

	env.str("DASH_SUGGESTIONS_ENDPOINT", &c.Suggestions.Endpoint)
	env.duration("DASH_SUGGESTIONS_TIMEOUT", &c.Suggestions.Timeout)

	env.integer("DASH_PAGE_SIZE", &c.Query.DefaultPageSize)

	env.str("DASH_ADMIN_USERNAME", &c.Bootstrap.AdminUsername)
	env.str("DASH_ADMIN_PASSWORD", &c.Bootstrap.AdminPassword)

	env.str("DASH_LOG_LEVEL", &c.Logging.Level)
	env.str("DASH_LOG_FORMAT", &c.Logging.Format)

	return env.err
}

// Validate checks values that cannot be defaulted.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Query.DefaultPageSize <= 0 {
		errs = append(errs, errors.New("query.default_page_size must be positive"))
	}
	if c.Storage.SeedDemoRecords < 0 {
		errs = append(errs, errors.New("storage.seed_demo_records must not be negative"))
	}
	if c.MQTT.QoS > 2 {
		errs = append(errs, errors.New("mqtt.qos must be 0, 1 or 2"))
	}
	switch c.Storage.Backend {
	case storage.BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required for the postgres backend"))
		}
	case storage.BackendS3:
		if c.Storage.S3.Bucket == "" {
			errs = append(errs, errors.New("storage.s3.bucket is required for the s3 backend"))
		}
	}
	return errors.Join(errs...)
}

// envReader collects the first parse error.
type envReader struct {
	getenv func(string) string
	err    error
}

func (e *envReader) str(key string, dst *string) {
	if v := e.getenv(key); v != "" {
		*dst = v
	}
}

func (e *envReader) integer(key string, dst *int) {
	v := e.getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, err)
		return
	}
	*dst = n
}

func (e *envReader) boolean(key string, dst *bool) {
	v := e.getenv(key)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, err)
		return
	}
	*dst = b
}

func (e *envReader) duration(key string, dst *time.Duration) {
	v := e.getenv(key)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, err)
		return
	}
	*dst = d
}

func (e *envReader) fail(key string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}
