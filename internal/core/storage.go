package core

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"recordkeeper/internal/blob"
	"recordkeeper/internal/config"
	"recordkeeper/internal/infra/persistence/cached"
	"recordkeeper/internal/infra/persistence/memory"
	"recordkeeper/internal/infra/persistence/object"
	"recordkeeper/internal/infra/persistence/postgres"
	"recordkeeper/internal/infra/persistence/sqlite"
	"recordkeeper/pkg/domain"
)

// StorageDriver identifies a concrete repository implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = config.StorageMemory   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = config.StorageSQLite   // embedded sqlite file
	StoragePostgres StorageDriver = config.StoragePostgres // PostgreSQL server
	StorageObject   StorageDriver = config.StorageObject   // one JSON document per record in a blob store
)

// StorageOption customises OpenRepository.
type StorageOption func(*storageOptions)

type storageOptions struct {
	log *zap.Logger
	now func() time.Time
}

// WithStorageLogger reports backend and cache events to log.
func WithStorageLogger(log *zap.Logger) StorageOption {
	return func(o *storageOptions) {
		if log != nil {
			o.log = log
		}
	}
}

// WithStorageClock overrides the time source for record timestamps.
func WithStorageClock(now func() time.Time) StorageOption {
	return func(o *storageOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// OpenRepository builds the repository selected by cfg.Storage and wraps it
// with the record cache when cfg.Cache enables one. Release it with
// CloseRepository.
func OpenRepository(ctx context.Context, cfg config.Config, opts ...StorageOption) (domain.Repository, error) {
	o := storageOptions{log: zap.NewNop(), now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	repo, err := openBackend(ctx, cfg.Storage, o)
	if err != nil {
		return nil, err
	}
	o.log.Info("repository opened", zap.String("driver", cfg.Storage.Driver))
	if !cfg.CacheEnabled() {
		return repo, nil
	}

	var cache cached.Cache
	switch cfg.Cache.Driver {
	case config.CacheMemory:
		cache = cached.NewMemoryCache(cfg.Cache.TTL)
	case config.CacheRedis:
		cache = cached.NewRedisCache(cached.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			Prefix:   cfg.Cache.Redis.Prefix,
		})
	}
	o.log.Info("record cache enabled", zap.String("driver", cfg.Cache.Driver), zap.Duration("ttl", cfg.Cache.TTL))
	return cached.NewRepository(repo, cache, cached.WithTTL(cfg.Cache.TTL), cached.WithLogger(o.log.Named("cache"))), nil
}

func openBackend(ctx context.Context, cfg config.StorageConfig, o storageOptions) (domain.Repository, error) {
	switch StorageDriver(cfg.Driver) {
	case StorageMemory:
		return memory.NewRepository(memory.WithClock(o.now)), nil
	case StorageSQLite:
		repo, err := sqlite.NewRepository(cfg.SQLitePath, memory.WithClock(o.now))
		if err != nil {
			return nil, err
		}
		return repo, nil
	case StoragePostgres:
		repo, err := postgres.NewRepository(ctx, cfg.PostgresDSN, memory.WithClock(o.now))
		if err != nil {
			return nil, err
		}
		return repo, nil
	case StorageObject:
		store, err := blob.Open(ctx, blob.Config{
			Driver: blob.Driver(cfg.Object.Driver),
			FSRoot: cfg.Object.FSRoot,
			S3: blob.S3Config{
				Region:          cfg.Object.S3.Region,
				Bucket:          cfg.Object.S3.Bucket,
				Endpoint:        cfg.Object.S3.Endpoint,
				AccessKeyID:     cfg.Object.S3.AccessKeyID,
				SecretAccessKey: cfg.Object.S3.SecretAccessKey,
				PathStyle:       cfg.Object.S3.PathStyle,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("open object store: %w", err)
		}
		return object.NewRepository(store, object.WithPrefix(cfg.Object.Prefix), object.WithClock(o.now)), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.Driver)
	}
}

// CloseRepository releases repo when it holds resources.
func CloseRepository(repo domain.Repository) error {
	if c, ok := repo.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
