package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"graphversioner/pkg/domain"
)

// sharedBackend is a Backend several stores can point at, standing in for a
// database file shared by two processes.
type sharedBackend struct {
	mu       sync.Mutex
	snapshot Snapshot
	version  int64
	saves    int
	failSave error
	failLoad error
	// beforeSave runs once ahead of the next Save, outside the lock.
	beforeSave func()
}

func (b *sharedBackend) Version(context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.version, nil
}

func (b *sharedBackend) Load(context.Context) (Snapshot, int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failLoad != nil {
		return Snapshot{}, 0, b.failLoad
	}
	return b.snapshot, b.version, nil
}

func (b *sharedBackend) Save(_ context.Context, snapshot Snapshot, expected int64) (int64, error) {
	if hook := b.beforeSave; hook != nil {
		b.beforeSave = nil
		hook()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failSave != nil {
		return 0, b.failSave
	}
	if b.version != expected {
		return 0, ErrVersionConflict
	}
	b.snapshot = snapshot
	b.version++
	b.saves++
	return b.version, nil
}

func newDurable(t *testing.T, backend *sharedBackend) *Store {
	t.Helper()
	store, err := NewDurableStore(context.Background(), nil, backend)
	if err != nil {
		t.Fatalf("new durable store: %v", err)
	}
	return store
}

func TestDurableStoreFailedSaveLeavesGraphUnchanged(t *testing.T) {
	backend := &sharedBackend{}
	store := newDurable(t, backend)
	mustCreateNode(t, store, domain.LabelEntity)

	backend.failSave = errors.New("database is closed")
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateNode([]domain.Label{domain.LabelState}, nil)
		return err
	})
	if err == nil || !errors.Is(err, backend.failSave) {
		t.Fatalf("expected save failure, got %v", err)
	}
	if got := len(store.ListNodes()); got != 1 {
		t.Fatalf("failed save must not be visible, got %d nodes", got)
	}

	backend.failSave = nil
	if id := mustCreateNode(t, store, domain.LabelState); id != 1 {
		t.Fatalf("ids of a failed save must not be consumed, got %d", id)
	}
}

func TestDurableStoresSharingBackendKeepBothWrites(t *testing.T) {
	backend := &sharedBackend{}
	first := newDurable(t, backend)
	second := newDurable(t, backend)

	a := mustCreateNode(t, first, domain.LabelEntity)
	b := mustCreateNode(t, second, domain.LabelEntity)
	if a == b {
		t.Fatalf("second store reused id %d", a)
	}
	if got := len(backend.snapshot.Nodes); got != 2 {
		t.Fatalf("expected both writes saved, got %d nodes", got)
	}
	var seen int
	if err := first.View(context.Background(), func(v TransactionView) error {
		seen = len(v.ListNodes())
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
	if seen != 2 {
		t.Fatalf("view must reload the other store's write, saw %d nodes", seen)
	}
}

func TestDurableStoreReplaysOnVersionConflict(t *testing.T) {
	backend := &sharedBackend{}
	first := newDurable(t, backend)
	second := newDurable(t, backend)
	backend.beforeSave = func() { mustCreateNode(t, second, domain.LabelEntity) }

	runs := 0
	_, err := first.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		runs++
		_, err := tx.CreateNode([]domain.Label{domain.LabelEntity}, nil)
		return err
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if runs != 2 {
		t.Fatalf("expected one replay after the conflict, ran %d times", runs)
	}
	if got := len(backend.snapshot.Nodes); got != 2 || backend.version != 2 {
		t.Fatalf("expected two nodes at version 2, got %d at %d", got, backend.version)
	}
}

func TestDurableStoreGivesUpAfterRepeatedConflicts(t *testing.T) {
	backend := &sharedBackend{failSave: ErrVersionConflict}
	store := newDurable(t, backend)
	runs := 0
	_, err := store.RunInTransaction(context.Background(), func(domain.Transaction) error {
		runs++
		return nil
	})
	if !errors.Is(err, ErrVersionConflict) || runs != maxCommitAttempts {
		t.Fatalf("expected conflict after %d runs, got %v after %d", maxCommitAttempts, err, runs)
	}
}

func TestDurableStoreRestoreWritesThrough(t *testing.T) {
	backend := &sharedBackend{}
	store := newDurable(t, backend)
	mustCreateNode(t, store, domain.LabelEntity)
	snap := Snapshot{Nodes: []domain.Node{{ID: 0, Labels: []domain.Label{domain.LabelEntity}}, {ID: 1, Labels: []domain.Label{domain.LabelState}}}, NextNodeID: 2}
	if err := store.Restore(context.Background(), snap); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if backend.version != 2 || len(backend.snapshot.Nodes) != 2 || len(store.ListNodes()) != 2 {
		t.Fatalf("expected restored graph saved, version=%d", backend.version)
	}

	backend.failSave = errors.New("disk full")
	if err := store.Restore(context.Background(), Snapshot{}); err == nil {
		t.Fatalf("expected restore to fail")
	}
	if len(store.ListNodes()) != 2 {
		t.Fatalf("failed restore must keep the graph")
	}
}

func TestNewDurableStoreLoadError(t *testing.T) {
	boom := errors.New("load failed")
	if _, err := NewDurableStore(context.Background(), nil, &sharedBackend{failLoad: boom}); !errors.Is(err, boom) {
		t.Fatalf("expected load error, got %v", err)
	}
}
