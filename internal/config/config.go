package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all vsifs configuration. Every field can be set through a
// VSIFS_* environment variable; CLI flags override what is loaded here.
type Config struct {
	Logging  LogConfig
	Cache    CacheConfig
	S3       S3Config
	Postgres PostgresConfig
	Mongo    MongoConfig
	Metrics  MetricsConfig
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"VSIFS_LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"VSIFS_LOG_DEV" default:"false"`
}

// CacheConfig sizes the caches shared by the object-store schemes.
type CacheConfig struct {
	// ChunkSize and Size configure the chunk cache in front of remote reads.
	// Size 0 caches whole files.
	ChunkSize    int           `envconfig:"VSIFS_CACHE_CHUNK_SIZE" default:"32768"`
	Size         int64         `envconfig:"VSIFS_CACHE_SIZE" default:"16777216"`
	StatTTL      time.Duration `envconfig:"VSIFS_STAT_CACHE_TTL" default:"30s"`
	StatCapacity int           `envconfig:"VSIFS_STAT_CACHE_CAPACITY" default:"10000"`
}

// S3Config enables /vsis3/ when Bucket is set.
type S3Config struct {
	Bucket     string `envconfig:"VSIFS_S3_BUCKET"`
	Region     string `envconfig:"VSIFS_S3_REGION" default:"us-east-1"`
	Endpoint   string `envconfig:"VSIFS_S3_ENDPOINT"`
	PasswdFile string `envconfig:"VSIFS_S3_PASSWD_FILE"`
}

// PostgresConfig enables /vsipg/ when DSN is set.
type PostgresConfig struct {
	DSN    string `envconfig:"VSIFS_PG_DSN"`
	Table  string `envconfig:"VSIFS_PG_TABLE" default:"files"`
	Bucket string `envconfig:"VSIFS_PG_BUCKET" default:"default"`
}

// MongoConfig enables /vsimongo/ when URI is set.
type MongoConfig struct {
	URI        string `envconfig:"VSIFS_MONGO_URI"`
	Database   string `envconfig:"VSIFS_MONGO_DATABASE" default:"vsifs"`
	Collection string `envconfig:"VSIFS_MONGO_COLLECTION" default:"files"`
	Bucket     string `envconfig:"VSIFS_MONGO_BUCKET" default:"default"`
}

// MetricsConfig holds the Prometheus listener address. Empty disables it.
type MetricsConfig struct {
	Addr string `envconfig:"VSIFS_METRICS_ADDR"`
}

// Load loads configuration from VSIFS_* environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from the environment or returns Default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns the built-in configuration. Only the local filesystem,
// /vsimem/ and the archive and gzip schemes are enabled.
func Default() *Config {
	return &Config{
		Logging: LogConfig{
			Level: "info",
		},
		Cache: CacheConfig{
			ChunkSize:    32 * 1024,
			Size:         16 * 1024 * 1024,
			StatTTL:      30 * time.Second,
			StatCapacity: 10000,
		},
		S3: S3Config{
			Region: "us-east-1",
		},
		Postgres: PostgresConfig{
			Table:  "files",
			Bucket: "default",
		},
		Mongo: MongoConfig{
			Database:   "vsifs",
			Collection: "files",
			Bucket:     "default",
		},
	}
}
