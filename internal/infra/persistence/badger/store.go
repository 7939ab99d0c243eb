// Package badger persists the in-memory graph store to an embedded BadgerDB
// key/value database, one key per snapshot bucket.
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"

	"graphversioner/internal/infra/persistence/memory"
	"graphversioner/pkg/domain"
)

var _ domain.PersistentStore = (*Store)(nil)

const (
	keyPrefix  = "state/"
	versionKey = "meta/version"
)

// Config configures the Badger backend.
type Config struct {
	// Path is the database directory. Required unless InMemory is set.
	Path string

	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives Badger's internal log lines. Nil silences them.
	Logger *slog.Logger

	// GCInterval is how often value log GC runs. Zero disables it.
	GCInterval time.Duration

	GCDiscardRatio float64
}

// DefaultConfig returns a durable configuration rooted at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func open(cfg Config) (*badger.DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return db, nil
}

// Store keeps the graph in memory and saves it to Badger, one key per
// snapshot bucket plus a version key.
type Store struct {
	*memory.Store
	db     *badger.DB
	cancel context.CancelFunc
	gcDone chan struct{}
	logger *slog.Logger
}

// NewStore opens the database described by cfg and hydrates the in-memory
// store from any snapshot it already holds.
func NewStore(cfg Config, engine *domain.RulesEngine) (*Store, error) {
	db, err := open(cfg)
	if err != nil {
		return nil, err
	}
	mem, err := memory.NewDurableStore(context.Background(), engine, backend{db: db})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &Store{Store: mem, db: db, logger: cfg.Logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.gcDone = make(chan struct{})
		go s.runGC(ctx, cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return s, nil
}

// backend implements memory.Backend on the Badger keyspace.
type backend struct {
	db *badger.DB
}

func readVersion(txn *badger.Txn) (int64, error) {
	item, err := txn.Get([]byte(versionKey))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read version: %w", err)
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return 0, fmt.Errorf("read version: %w", err)
	}
	version, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("decode version: %w", err)
	}
	return version, nil
}

func (b backend) Version(context.Context) (int64, error) {
	var version int64
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		version, err = readVersion(txn)
		return err
	})
	return version, err
}

func (b backend) Load(context.Context) (domain.Snapshot, int64, error) {
	payloads := make(map[string][]byte)
	var version int64
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		if version, err = readVersion(txn); err != nil {
			return err
		}
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("read %s: %w", item.Key(), err)
			}
			payloads[string(item.Key()[len(keyPrefix):])] = value
		}
		return nil
	})
	if err != nil {
		return domain.Snapshot{}, 0, fmt.Errorf("load snapshot: %w", err)
	}
	snapshot, err := memory.DecodeBuckets(payloads)
	if err != nil {
		return domain.Snapshot{}, 0, err
	}
	return snapshot, version, nil
}

// Save writes the buckets and the next version when the stored version still
// equals expected. Badger's own conflict detection covers concurrent Saves.
func (b backend) Save(_ context.Context, snapshot domain.Snapshot, expected int64) (int64, error) {
	payloads, err := memory.EncodeBuckets(snapshot)
	if err != nil {
		return 0, err
	}
	next := expected + 1
	err = b.db.Update(func(txn *badger.Txn) error {
		current, err := readVersion(txn)
		if err != nil {
			return err
		}
		if current != expected {
			return memory.ErrVersionConflict
		}
		for _, bucket := range memory.Buckets {
			if err := txn.Set([]byte(keyPrefix+bucket), payloads[bucket]); err != nil {
				return fmt.Errorf("set %s: %w", bucket, err)
			}
		}
		return txn.Set([]byte(versionKey), []byte(strconv.FormatInt(next, 10)))
	})
	if errors.Is(err, badger.ErrConflict) {
		err = memory.ErrVersionConflict
	}
	if err != nil {
		return 0, fmt.Errorf("persist snapshot: %w", err)
	}
	return next, nil
}

func (s *Store) runGC(ctx context.Context, interval time.Duration, ratio float64) {
	defer close(s.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) && s.logger != nil {
				s.logger.Warn("badger value log GC error", slog.String("err", err.Error()))
			}
		}
	}
}

// Close stops background GC and closes the database.
func (s *Store) Close() error {
	if s.cancel != nil {
		s.cancel()
		<-s.gcDone
	}
	return s.db.Close()
}
