package core

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"graphversioner/internal/blob"
	"graphversioner/internal/config"
	fsblob "graphversioner/internal/infra/blob/fs"
	memblob "graphversioner/internal/infra/blob/memory"
	s3blob "graphversioner/internal/infra/blob/s3"
	"graphversioner/internal/infra/persistence/badger"
	"graphversioner/internal/infra/persistence/memory"
	"graphversioner/internal/infra/persistence/postgres"
	"graphversioner/internal/infra/persistence/sqlite"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
	StorageBadger   StorageDriver = "badger"   // embedded badger directory
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// OpenPersistentStore builds the backend cfg.Driver names. The returned closer
// releases backend resources and is never nil. logger may be nil.
func OpenPersistentStore(ctx context.Context, cfg config.Storage, engine *RulesEngine, logger *slog.Logger) (PersistentStore, io.Closer, error) {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	driver := cfg.Driver
	if driver == "" {
		driver = string(StorageSQLite)
	}
	switch StorageDriver(driver) {
	case StorageMemory:
		return memory.NewStore(engine), nopCloser{}, nil
	case StorageSQLite:
		store, err := sqlite.NewStore(cfg.SQLitePath, engine)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	case StoragePostgres:
		store, err := postgres.NewStore(ctx, cfg.PostgresDSN, engine)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	case StorageBadger:
		bcfg := badger.DefaultConfig(cfg.BadgerPath)
		if cfg.BadgerInMemory {
			bcfg = badger.InMemoryConfig()
		}
		if cfg.BadgerGCInterval > 0 {
			bcfg.GCInterval = cfg.BadgerGCInterval
		}
		bcfg.Logger = logger
		store, err := badger.NewStore(bcfg, engine)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}

// OpenArchiveStore builds the object store cfg.Driver names.
func OpenArchiveStore(ctx context.Context, cfg config.Blob) (blob.Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = string(blob.DriverFilesystem)
	}
	switch blob.Driver(driver) {
	case blob.DriverFilesystem:
		return fsblob.New(cfg.FSRoot)
	case blob.DriverMemory:
		return memblob.New(), nil
	case blob.DriverS3:
		return s3blob.New(ctx, s3blob.Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			PathStyle:       cfg.S3.PathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
