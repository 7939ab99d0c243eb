// Package sqlite persists the in-memory graph store to a single SQLite table.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"graphversioner/internal/infra/persistence/memory"
	"graphversioner/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultPath = "graphversioner.db"
	busyTimeout = "_pragma=busy_timeout(5000)"
)

// Store keeps the graph in memory and saves it to a single SQLite table as
// JSON buckets. A version row guards the buckets so several processes can
// share one database file.
type Store struct {
	*memory.Store
	db   *sql.DB
	path string
}

// NewStore constructs a SQLite-backed persistent store.
func NewStore(path string, engine *domain.RulesEngine) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?"+busyTimeout)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	mem, err := memory.NewDurableStore(context.Background(), engine, backend{db: db})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: mem, db: db, path: path}, nil
}

func ensureSchema(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		return fmt.Errorf("create state table: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state_version (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		version INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("create version table: %w", err)
	}
	if _, err := db.Exec(`INSERT OR IGNORE INTO state_version(id, version) VALUES(1, 0)`); err != nil {
		return fmt.Errorf("seed version: %w", err)
	}
	return nil
}

// backend implements memory.Backend on the state tables.
type backend struct {
	db *sql.DB
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readVersion(ctx context.Context, q querier) (int64, error) {
	var version int64
	if err := q.QueryRowContext(ctx, `SELECT version FROM state_version WHERE id = 1`).Scan(&version); err != nil {
		return 0, fmt.Errorf("select version: %w", err)
	}
	return version, nil
}

func (b backend) Version(ctx context.Context) (int64, error) {
	return readVersion(ctx, b.db)
}

func (b backend) Load(ctx context.Context) (domain.Snapshot, int64, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Snapshot{}, 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	version, err := readVersion(ctx, tx)
	if err != nil {
		return domain.Snapshot{}, 0, err
	}
	rows, err := tx.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return domain.Snapshot{}, 0, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()
	payloads := make(map[string][]byte)
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return domain.Snapshot{}, 0, fmt.Errorf("scan: %w", err)
		}
		payloads[bucket] = payload
	}
	if err := rows.Err(); err != nil {
		return domain.Snapshot{}, 0, fmt.Errorf("iterate state: %w", err)
	}
	snapshot, err := memory.DecodeBuckets(payloads)
	if err != nil {
		return domain.Snapshot{}, 0, err
	}
	return snapshot, version, nil
}

// Save bumps the version row only when it still holds expected, then
// rewrites every bucket in the same transaction.
func (b backend) Save(ctx context.Context, snapshot domain.Snapshot, expected int64) (_ int64, retErr error) {
	payloads, err := memory.EncodeBuckets(snapshot)
	if err != nil {
		return 0, err
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	res, err := tx.ExecContext(ctx, `UPDATE state_version SET version = version + 1 WHERE id = 1 AND version = ?`, expected)
	if err != nil {
		return 0, fmt.Errorf("bump version: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("bump version: %w", err)
	}
	if n == 0 {
		return 0, memory.ErrVersionConflict
	}
	for _, bucket := range memory.Buckets {
		if _, err := tx.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, bucket, payloads[bucket]); err != nil {
			return 0, fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return expected + 1, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }
