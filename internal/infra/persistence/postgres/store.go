// Package postgres provides a Postgres-backed persistent store that mirrors
// the in-memory semantics and snapshots the graph into a JSONB state table.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"graphversioner/internal/infra/persistence/memory"
	"graphversioner/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/graphversioner?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store keeps the graph in memory and saves it to Postgres as JSONB buckets
// guarded by a version row.
type Store struct {
	*memory.Store
	db *sql.DB
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back to defaultDSN).
// It ensures the snapshot tables exist and hydrates the in-memory store from
// any existing snapshot.
func NewStore(ctx context.Context, dsn string, engine *domain.RulesEngine) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureStateTable(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	mem, err := memory.NewDurableStore(ctx, engine, backend{db: db})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: mem, db: db}, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func ensureStateTable(ctx context.Context, db *sql.DB) error {
	stmts := []struct {
		query string
		args  []any
	}{
		{query: `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`},
		{query: `CREATE TABLE IF NOT EXISTS state_version (
		id INTEGER PRIMARY KEY,
		version BIGINT NOT NULL
	)`},
		{query: `INSERT INTO state_version(id,version) VALUES($1,$2) ON CONFLICT(id) DO NOTHING`, args: []any{int64(1), int64(0)}},
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt.query, stmt.args...); err != nil {
			return fmt.Errorf("ensure state table: %w", err)
		}
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

func readVersion(ctx context.Context, q querier, query string) (int64, error) {
	var version int64
	if err := q.QueryRowContext(ctx, query).Scan(&version); err != nil {
		return 0, fmt.Errorf("select version: %w", err)
	}
	return version, nil
}

func (b backend) Version(ctx context.Context) (int64, error) {
	return readVersion(ctx, b.db, `SELECT version FROM state_version WHERE id = 1`)
}

func (b backend) Load(ctx context.Context) (domain.Snapshot, int64, error) {
	tx, err := b.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return domain.Snapshot{}, 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	version, err := readVersion(ctx, tx, `SELECT version FROM state_version WHERE id = 1`)
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
			return domain.Snapshot{}, 0, fmt.Errorf("scan state: %w", err)
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

// Save locks the version row, checks it still holds expected and rewrites
// every bucket in the same transaction.
func (b backend) Save(ctx context.Context, snapshot domain.Snapshot, expected int64) (int64, error) {
	payloads, err := memory.EncodeBuckets(snapshot)
	if err != nil {
		return 0, err
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	current, err := readVersion(ctx, tx, `SELECT version FROM state_version WHERE id = 1 FOR UPDATE`)
	if err != nil {
		return 0, err
	}
	if current != expected {
		return 0, memory.ErrVersionConflict
	}
	for _, bucket := range memory.Buckets {
		if _, err := tx.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload`, bucket, payloads[bucket]); err != nil {
			return 0, fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	next := expected + 1
	if _, err := tx.ExecContext(ctx, `INSERT INTO state_version(id,version) VALUES($1,$2) ON CONFLICT(id) DO UPDATE SET version=EXCLUDED.version`, int64(1), next); err != nil {
		return 0, fmt.Errorf("bump version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	committed = true
	return next, nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
