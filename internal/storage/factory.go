package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/vsifs/vsifs-go/internal/storage/mongodb"
	"github.com/vsifs/vsifs-go/internal/storage/postgres"
)

// BackendType names the object store behind a blob scheme.
type BackendType string

const (
	BackendTypeS3       BackendType = "s3"
	BackendTypePostgres BackendType = "postgres"
	BackendTypeMongoDB  BackendType = "mongodb"
)

// Config describes one backend. Only the fields of Type are read.
type Config struct {
	Type      BackendType
	S3Backend Backend // built by the caller, which owns credentials

	PostgresConnStr string
	PostgresTable   string
	PostgresBucket  string

	MongoURI        string
	MongoDatabase   string
	MongoCollection string
	MongoBucket     string
}

var errMissing = errors.New("required setting missing")

// withDefaults fills the table, database, collection and bucket names.
func (c Config) withDefaults() Config {
	orDefault := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	orDefault(&c.PostgresTable, "files")
	orDefault(&c.PostgresBucket, "default")
	orDefault(&c.MongoDatabase, "vsifs")
	orDefault(&c.MongoCollection, "files")
	orDefault(&c.MongoBucket, "default")
	return c
}

// NewBackend connects the backend described by cfg.
func NewBackend(ctx context.Context, cfg Config) (Backend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	switch cfg.Type {
	case BackendTypeS3:
		if cfg.S3Backend == nil {
			return nil, fmt.Errorf("%w: S3 backend is required for S3 backend type", errMissing)
		}
		return cfg.S3Backend, nil
	case BackendTypePostgres:
		if cfg.PostgresConnStr == "" {
			return nil, fmt.Errorf("%w: PostgreSQL connection string is required", errMissing)
		}
		return postgres.NewPostgresBackend(cfg.PostgresConnStr, cfg.PostgresTable, cfg.PostgresBucket)
	case BackendTypeMongoDB:
		if cfg.MongoURI == "" {
			return nil, fmt.Errorf("%w: MongoDB URI is required", errMissing)
		}
		return mongodb.NewMongoBackend(cfg.MongoURI, cfg.MongoDatabase, cfg.MongoCollection, cfg.MongoBucket)
	}
	return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
}
