// Package registry assembles a vsi.Manager with every scheme enabled by the
// configuration and owns the process-wide instance.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/vsifs/vsifs-go/internal/archive"
	"github.com/vsifs/vsifs-go/internal/billyfs"
	"github.com/vsifs/vsifs-go/internal/blobfs"
	"github.com/vsifs/vsifs-go/internal/cache"
	"github.com/vsifs/vsifs-go/internal/config"
	"github.com/vsifs/vsifs-go/internal/credentials"
	"github.com/vsifs/vsifs-go/internal/gzipfs"
	"github.com/vsifs/vsifs-go/internal/logging"
	"github.com/vsifs/vsifs-go/internal/s3client"
	"github.com/vsifs/vsifs-go/internal/storage"
	"github.com/vsifs/vsifs-go/internal/storage/s3backend"
	"github.com/vsifs/vsifs-go/internal/vsi"
)

// Registry is a Manager together with the resources shared by its handlers.
type Registry struct {
	*vsi.Manager
	stats *cache.StatCache
}

// New builds a Manager from cfg. The local filesystem is the default
// handler; /vsimem/, /vsizip/, /vsitar/ and /vsigzip/ are always installed.
// The object-store schemes are installed when configured and fail New when
// their backend cannot be reached.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Registry, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	logger = logging.OrNop(logger)

	m := vsi.NewManager(billyfs.NewLocal(billyfs.WithLogger(logger.Named("local"))),
		vsi.WithLogger(logger.Named("manager")))
	r := &Registry{Manager: m}

	m.InstallHandler(billyfs.MemPrefix, billyfs.NewMemory(billyfs.WithLogger(logger.Named("mem"))))
	m.InstallHandler(archive.ZipPrefix, archive.NewZipHandler(m, archive.WithLogger(logger.Named("zip"))))
	m.InstallHandler(archive.TarPrefix, archive.NewTarHandler(m, archive.WithLogger(logger.Named("tar"))))
	m.InstallHandler(gzipfs.Prefix, gzipfs.New(m, gzipfs.WithLogger(logger.Named("gzip"))))

	if err := r.installBlobs(ctx, cfg, logger); err != nil {
		r.Close()
		return nil, err
	}
	logger.Debug("registry ready", zap.Strings("prefixes", m.Prefixes()))
	return r, nil
}

type blobScheme struct {
	prefix string
	config storage.Config
}

func (r *Registry) installBlobs(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	var backends []blobScheme

	if cfg.S3.Bucket != "" {
		creds, err := credentials.Resolve(cfg.S3.PasswdFile, cfg.S3.Bucket)
		if err != nil {
			return fmt.Errorf("failed to resolve S3 credentials: %w", err)
		}
		region := cfg.S3.Region
		if region == "" {
			region = creds.Region
		}
		client := s3client.NewClientWithEndpoint(cfg.S3.Bucket, region, cfg.S3.Endpoint, creds)
		backends = append(backends, blobScheme{blobfs.S3Prefix, storage.Config{Type: storage.BackendTypeS3, S3Backend: s3backend.New(client)}})
	}
	if cfg.Postgres.DSN != "" {
		backends = append(backends, blobScheme{blobfs.PostgresPrefix, storage.Config{
			Type:            storage.BackendTypePostgres,
			PostgresConnStr: cfg.Postgres.DSN,
			PostgresTable:   cfg.Postgres.Table,
			PostgresBucket:  cfg.Postgres.Bucket,
		}})
	}
	if cfg.Mongo.URI != "" {
		backends = append(backends, blobScheme{blobfs.MongoPrefix, storage.Config{
			Type:            storage.BackendTypeMongoDB,
			MongoURI:        cfg.Mongo.URI,
			MongoDatabase:   cfg.Mongo.Database,
			MongoCollection: cfg.Mongo.Collection,
			MongoBucket:     cfg.Mongo.Bucket,
		}})
	}
	if len(backends) == 0 {
		return nil
	}

	r.stats = cache.NewStatCache(cfg.Cache.StatCapacity, cfg.Cache.StatTTL)
	for _, b := range backends {
		backend, err := storage.NewBackend(ctx, b.config)
		if err != nil {
			return fmt.Errorf("failed to create %s backend: %w", b.config.Type, err)
		}
		h := blobfs.New(b.prefix, backend,
			blobfs.WithLogger(logger.Named(string(b.config.Type))),
			blobfs.WithStatCache(r.stats),
			blobfs.WithChunkCache(cfg.Cache.ChunkSize, cfg.Cache.Size))
		r.InstallHandler(b.prefix, h)
		logger.Info("installed object store scheme",
			zap.String("prefix", b.prefix),
			zap.String("backend", string(b.config.Type)))
	}
	return nil
}

// Close closes every handler and the shared stat cache.
func (r *Registry) Close() error {
	err := r.Manager.Close()
	if r.stats != nil {
		err = errors.Join(err, r.stats.Close())
	}
	return err
}

var (
	defaultMu  sync.Mutex
	defaultReg *Registry
)

// Default returns the process-wide Manager, building it on first use from
// the VSIFS_* environment. If a configured object store is unreachable the
// error is logged and the built-in schemes are served without it.
func Default() *vsi.Manager {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultReg != nil {
		return defaultReg.Manager
	}
	cfg := config.LoadOrDefault()
	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level, Development: cfg.Logging.Development})
	if err != nil {
		logger = logging.NewDefault()
	}
	reg, err := New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("object store schemes disabled", zap.Error(err))
		fallback := *cfg
		fallback.S3, fallback.Postgres, fallback.Mongo = config.S3Config{}, config.PostgresConfig{}, config.MongoConfig{}
		reg, _ = New(context.Background(), &fallback, logger)
	}
	defaultReg = reg
	return reg.Manager
}

// Shutdown closes the process-wide Manager. A later Default builds a new one.
func Shutdown() error {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultReg == nil {
		return nil
	}
	err := defaultReg.Close()
	defaultReg = nil
	return err
}
