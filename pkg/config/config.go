// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Index, Snapshot, Search, Redis, Kafka, Postgres, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/Adithya-Monish-Kumar-K/zip-search/pkg/errors"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Index     IndexConfig     `yaml:"index"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	Search    SearchConfig    `yaml:"search"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	DashboardDir    string        `yaml:"dashboardDir"`
	CORSOrigins     []string      `yaml:"corsOrigins"`
	// AdminKeyHashes are hex SHA-256 digests of keys accepted on the
	// rebuild and cache routes. Empty leaves those routes open.
	AdminKeyHashes []string `yaml:"adminKeyHashes"`
}

// IndexConfig points the builder at the newline-delimited archive listing
// and bounds how many records a single ingestion pass reads.
type IndexConfig struct {
	SourcePath     string   `yaml:"sourcePath"`
	Limit          int      `yaml:"limit"`
	RebuildOnStart bool     `yaml:"rebuildOnStart"`
	WarmupTerms    []string `yaml:"warmupTerms"`
}

// SnapshotConfig selects where the binary index snapshot lives.
type SnapshotConfig struct {
	Backend    string `yaml:"backend"`
	Path       string `yaml:"path"`
	BoltBucket string `yaml:"boltBucket"`
}

// SearchConfig controls how many matches the HTTP layer returns.
type SearchConfig struct {
	DefaultLimit int `yaml:"defaultLimit"`
	MaxResults   int `yaml:"maxResults"`
}

// PostgresConfig holds PostgreSQL connection parameters for the build log.
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	IndexRebuilt    string `yaml:"indexRebuilt"`
	RebuildRequests string `yaml:"rebuildRequests"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// RateLimitConfig bounds search requests per client address.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
	Burst             int     `yaml:"burst"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports configuration that would make an ingestion pass
// meaningless.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Index.SourcePath) == "" {
		return fmt.Errorf("index.sourcePath is required: %w", apperrors.ErrArgument)
	}
	if c.Index.Limit < 0 {
		return fmt.Errorf("index.limit must not be negative, got %d: %w", c.Index.Limit, apperrors.ErrArgument)
	}
	switch c.Snapshot.Backend {
	case "file", "bolt":
	default:
		return fmt.Errorf("snapshot.backend must be file or bolt, got %q: %w", c.Snapshot.Backend, apperrors.ErrArgument)
	}
	if c.Snapshot.Path == "" {
		return fmt.Errorf("snapshot.path is required: %w", apperrors.ErrArgument)
	}
	return nil
}

// defaultConfig returns a Config with defaults for local development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Index: IndexConfig{
			WarmupTerms: []string{"lombok", "AUTHORS", "README.md"},
		},
		Snapshot: SnapshotConfig{
			Backend:    "file",
			Path:       "data/index.zsx",
			BoltBucket: "snapshots",
		},
		Search: SearchConfig{
			DefaultLimit: 0,
			MaxResults:   10000,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "zipsearch",
			User:            "zipsearch",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "zipsearch-group",
			Topics: KafkaTopics{
				IndexRebuilt:    "index.rebuilt",
				RebuildRequests: "index.rebuild-requests",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads ZS_* environment variables and overrides the
// corresponding config fields. Malformed numeric or boolean values are
// rejected rather than ignored.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("ZS_SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ZS_SERVER_PORT=%q: %w", v, apperrors.ErrArgument)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("ZS_SERVER_DASHBOARD_DIR"); v != "" {
		cfg.Server.DashboardDir = v
	}
	if v := os.Getenv("ZS_SERVER_CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("ZS_SERVER_ADMIN_KEY_HASHES"); v != "" {
		cfg.Server.AdminKeyHashes = strings.Split(v, ",")
	}
	if v := os.Getenv("ZS_INDEX_SOURCE"); v != "" {
		cfg.Index.SourcePath = v
	}
	if v := os.Getenv("ZS_INDEX_LIMIT"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ZS_INDEX_LIMIT=%q: %w", v, apperrors.ErrArgument)
		}
		cfg.Index.Limit = limit
	}
	if v := os.Getenv("ZS_INDEX_REBUILD"); v != "" {
		rebuild, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ZS_INDEX_REBUILD=%q: %w", v, apperrors.ErrArgument)
		}
		cfg.Index.RebuildOnStart = rebuild
	}
	if v := os.Getenv("ZS_SNAPSHOT_BACKEND"); v != "" {
		cfg.Snapshot.Backend = v
	}
	if v := os.Getenv("ZS_SNAPSHOT_PATH"); v != "" {
		cfg.Snapshot.Path = v
	}
	if v := os.Getenv("ZS_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("ZS_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("ZS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("ZS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("ZS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("ZS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ZS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	return nil
}
