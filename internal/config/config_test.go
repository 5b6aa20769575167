package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	assert.Equal(t, 32*1024, cfg.Cache.ChunkSize)
	assert.Equal(t, int64(16*1024*1024), cfg.Cache.Size)
	assert.Equal(t, 30*time.Second, cfg.Cache.StatTTL)

	assert.Empty(t, cfg.S3.Bucket)
	assert.Equal(t, "us-east-1", cfg.S3.Region)
	assert.Empty(t, cfg.Postgres.DSN)
	assert.Empty(t, cfg.Mongo.URI)
	assert.Empty(t, cfg.Metrics.Addr)
}

func TestLoad_DefaultsMatch(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"VSIFS_LOG_LEVEL":        "debug",
		"VSIFS_LOG_DEV":          "true",
		"VSIFS_CACHE_CHUNK_SIZE": "4096",
		"VSIFS_STAT_CACHE_TTL":   "2m",
		"VSIFS_S3_BUCKET":        "tiles",
		"VSIFS_S3_ENDPOINT":      "http://localhost:4566",
		"VSIFS_PG_DSN":           "postgres://localhost/vsifs?sslmode=disable",
		"VSIFS_MONGO_URI":        "mongodb://localhost:27017",
		"VSIFS_METRICS_ADDR":     ":9100",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, 4096, cfg.Cache.ChunkSize)
	assert.Equal(t, 2*time.Minute, cfg.Cache.StatTTL)
	assert.Equal(t, "tiles", cfg.S3.Bucket)
	assert.Equal(t, "us-east-1", cfg.S3.Region)
	assert.Equal(t, "http://localhost:4566", cfg.S3.Endpoint)
	assert.Equal(t, "postgres://localhost/vsifs?sslmode=disable", cfg.Postgres.DSN)
	assert.Equal(t, "files", cfg.Postgres.Table)
	assert.Equal(t, "mongodb://localhost:27017", cfg.Mongo.URI)
	assert.Equal(t, ":9100", cfg.Metrics.Addr)
}

func TestLoad_InvalidValue(t *testing.T) {
	t.Setenv("VSIFS_CACHE_CHUNK_SIZE", "lots")

	_, err := Load()
	assert.Error(t, err)

	cfg := LoadOrDefault()
	assert.Equal(t, 32*1024, cfg.Cache.ChunkSize)
}
