// Package postgres provides a Postgres-backed repository that mirrors the
// in-memory semantics and snapshots the record set into a JSONB row.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	sqldocs "recordkeeper/docs/schema/sql"
	"recordkeeper/internal/infra/persistence/memory"
	"recordkeeper/pkg/domain"
)

// Compile-time contract assertion ensuring the repository satisfies the domain interface.
var _ domain.Repository = (*Repository)(nil)

const (
	defaultDriver = "pgx"
	// DefaultDSN is used when no DSN is configured.
	DefaultDSN = "postgres://localhost/recordkeeper?sslmode=disable"

	recordsBucket = "records"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Repository persists records to Postgres while reusing the in-memory
// repository as its working view.
type Repository struct {
	*memory.Repository
	db *sql.DB
}

// NewRepository opens a Postgres-backed repository using dsn (falls back to
// DefaultDSN). It ensures the snapshot table exists and hydrates the
// in-memory view from any existing snapshot.
func NewRepository(ctx context.Context, dsn string, opts ...memory.Option) (*Repository, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	fail := func(err error) (*Repository, error) {
		_ = db.Close()
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return fail(fmt.Errorf("ping postgres: %w", err))
	}
	if err := ensureStateTable(ctx, db); err != nil {
		return fail(err)
	}
	snapshot, err := loadSnapshot(ctx, db)
	if err != nil {
		return fail(err)
	}
	r := &Repository{db: db}
	r.Repository = memory.NewRepository(append(opts, memory.WithCommit(r.persist))...)
	r.Store().ImportState(snapshot)
	return r, nil
}

// Close releases the database handle.
func (r *Repository) Close() error { return r.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (r *Repository) DB() *sql.DB { return r.db }

func ensureStateTable(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, sqldocs.Postgres); err != nil {
		return fmt.Errorf("ensure state table: %w", err)
	}
	return nil
}

func loadSnapshot(ctx context.Context, db *sql.DB) (memory.Snapshot, error) {
	var payload []byte
	err := db.QueryRowContext(ctx, `SELECT payload FROM state WHERE bucket = $1`, recordsBucket).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return memory.Snapshot{}, nil
	}
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("select state: %w", err)
	}
	var snapshot memory.Snapshot
	if len(payload) == 0 {
		return snapshot, nil
	}
	if err := json.Unmarshal(payload, &snapshot.Records); err != nil {
		return memory.Snapshot{}, &domain.SerializationError{Err: fmt.Errorf("decode %s: %w", recordsBucket, err)}
	}
	return snapshot, nil
}

func (r *Repository) persist(ctx context.Context, snapshot memory.Snapshot) error {
	data, err := json.Marshal(snapshot.Records)
	if err != nil {
		return &domain.SerializationError{Err: err}
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload`, recordsBucket, data); err != nil {
		return fmt.Errorf("upsert %s: %w", recordsBucket, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
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
