package badger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"graphversioner/internal/infra/persistence/memory"
	"graphversioner/pkg/domain"
)

func seed(t *testing.T, store *Store) {
	t.Helper()
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		entity, err := tx.CreateNode([]domain.Label{domain.LabelEntity}, nil)
		if err != nil {
			return err
		}
		state, err := tx.CreateNode([]domain.Label{domain.LabelState}, domain.PropertySet{"key": domain.String("initialValue")})
		if err != nil {
			return err
		}
		_, err = tx.CreateEdge(entity, state, domain.EdgeCurrent, domain.PropertySet{domain.PropDate: domain.Int(593910000000)})
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.GCInterval = time.Hour
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := NewStore(cfg, domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	seed(t, store)
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewStore(cfg, domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = reopened.Close() })
	if got := len(reopened.ListNodes()); got != 2 {
		t.Fatalf("expected 2 nodes, got %d", got)
	}
	edge, ok := reopened.GetEdge(0)
	if !ok || edge.From != 0 || edge.To != 1 {
		t.Fatalf("unexpected edge %+v", edge)
	}
}

func TestInMemoryStoreRestore(t *testing.T) {
	store, err := NewStore(InMemoryConfig(), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	seed(t, store)
	snap := store.ExportState()
	if err := store.Restore(context.Background(), domain.Snapshot{}); err != nil {
		t.Fatalf("restore empty: %v", err)
	}
	if len(store.ListNodes()) != 0 {
		t.Fatalf("expected empty graph")
	}
	if err := store.Restore(context.Background(), snap); err != nil {
		t.Fatalf("restore: %v", err)
	}
	loaded, version, err := backend{db: store.db}.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.Nodes) != 2 || loaded.NextNodeID != 2 || version != 3 {
		t.Fatalf("unexpected persisted snapshot %+v at version %d", loaded, version)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := NewStore(Config{}, nil); err == nil {
		t.Fatalf("expected missing path error")
	}
}

func TestFailedPersistLeavesGraphUnchanged(t *testing.T) {
	store, err := NewStore(InMemoryConfig(), domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	seed(t, store)
	if err := store.db.Close(); err != nil {
		t.Fatalf("close db: %v", err)
	}
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateNode([]domain.Label{domain.LabelState}, nil)
		return err
	})
	if err == nil {
		t.Fatalf("expected persist failure on a closed database")
	}
	if got := len(store.ListNodes()); got != 2 {
		t.Fatalf("failed transaction leaked into memory: %d nodes", got)
	}
}

func TestStoresSharingDatabaseKeepBothWrites(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(InMemoryConfig(), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	other, err := memory.NewDurableStore(ctx, nil, backend{db: store.db})
	if err != nil {
		t.Fatalf("second store: %v", err)
	}

	seed(t, store)
	if _, err := other.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateNode([]domain.Label{domain.LabelEntity}, nil)
		return err
	}); err != nil {
		t.Fatalf("second write: %v", err)
	}

	loaded, version, err := backend{db: store.db}.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.Nodes) != 3 || version != 2 {
		t.Fatalf("expected both writes at version 2, got %d nodes at %d", len(loaded.Nodes), version)
	}
	if _, err := (backend{db: store.db}).Save(ctx, loaded, 1); !errors.Is(err, memory.ErrVersionConflict) {
		t.Fatalf("expected stale save to conflict, got %v", err)
	}
}
