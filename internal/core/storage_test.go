package core

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	"graphversioner/internal/blob"
	"graphversioner/internal/config"
	fsblob "graphversioner/internal/infra/blob/fs"
	"graphversioner/internal/infra/persistence/badger"
	"graphversioner/internal/infra/persistence/memory"
	"graphversioner/internal/infra/persistence/postgres"
	"graphversioner/internal/infra/persistence/postgres/testutil"
	"graphversioner/internal/infra/persistence/sqlite"
)

func TestOpenPersistentStoreMemory(t *testing.T) {
	store, closer, err := OpenPersistentStore(context.Background(), config.Storage{Driver: "memory"}, nil, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = closer.Close() }()
	if _, ok := store.(*memory.Store); !ok {
		t.Fatalf("expected *memory.Store, got %T", store)
	}
	if len(store.RulesEngine().Rules()) != 3 {
		t.Fatalf("nil engine should select the default rules")
	}
}

func TestOpenPersistentStoreDefaultsToSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gv.db")
	store, closer, err := OpenPersistentStore(context.Background(), config.Storage{SQLitePath: path}, nil, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := store.(*sqlite.Store); !ok {
		t.Fatalf("expected *sqlite.Store, got %T", store)
	}
	svc := NewService(store)
	seedEntity(t, svc)
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, closer, err := OpenPersistentStore(context.Background(), config.Storage{Driver: "sqlite", SQLitePath: path}, nil, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = closer.Close() }()
	cur, ok, err := NewService(reopened).CurrentState(context.Background(), 0)
	if err != nil || !ok || cur.State.ID != 1 {
		t.Fatalf("expected persisted state 1, got %+v ok=%v err=%v", cur, ok, err)
	}
}

func TestOpenPersistentStoreBadgerInMemory(t *testing.T) {
	store, closer, err := OpenPersistentStore(context.Background(), config.Storage{Driver: "badger", BadgerInMemory: true}, nil, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = closer.Close() }()
	if _, ok := store.(*badger.Store); !ok {
		t.Fatalf("expected *badger.Store, got %T", store)
	}
	seedEntity(t, NewService(store))
}

func TestOpenPersistentStorePostgres(t *testing.T) {
	db, _ := testutil.NewStubDB()
	restore := postgres.OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	t.Cleanup(restore)
	store, closer, err := OpenPersistentStore(context.Background(), config.Storage{Driver: "postgres", PostgresDSN: "postgres://stub"}, nil, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = closer.Close() }()
	if _, ok := store.(*postgres.Store); !ok {
		t.Fatalf("expected *postgres.Store, got %T", store)
	}
}

func TestOpenPersistentStoreUnknownDriver(t *testing.T) {
	_, _, err := OpenPersistentStore(context.Background(), config.Storage{Driver: "cassandra"}, nil, nil)
	if err == nil || !strings.Contains(err.Error(), "unknown storage driver") {
		t.Fatalf("expected unknown driver error, got %v", err)
	}
}

func TestOpenArchiveStore(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store, err := OpenArchiveStore(ctx, config.Blob{FSRoot: root})
	if err != nil {
		t.Fatalf("open fs: %v", err)
	}
	fsStore, ok := store.(*fsblob.Store)
	if !ok || fsStore.Root() != root {
		t.Fatalf("expected fs store rooted at %s, got %T", root, store)
	}

	mem, err := OpenArchiveStore(ctx, config.Blob{Driver: "memory"})
	if err != nil || mem.Driver() != blob.DriverMemory {
		t.Fatalf("expected memory store, got %v %v", mem, err)
	}

	if _, err := OpenArchiveStore(ctx, config.Blob{Driver: "gcs"}); err == nil {
		t.Fatalf("expected unknown blob driver error")
	}
}
