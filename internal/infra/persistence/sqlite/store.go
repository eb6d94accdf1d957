// Package sqlite persists the in-memory record view to a single SQLite table
// as a JSON snapshot.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver

	sqldocs "recordkeeper/docs/schema/sql"
	"recordkeeper/internal/infra/persistence/memory"
	"recordkeeper/pkg/domain"
)

// Compile-time contract assertion.
var _ domain.Repository = (*Repository)(nil)

// DefaultPath is used when no database path is configured.
const DefaultPath = "recordkeeper.db"

const recordsBucket = "records"

// Repository embeds the in-memory repository and snapshots the full record
// set to SQLite on every write. A write becomes visible only after its
// snapshot is stored.
type Repository struct {
	*memory.Repository
	db   *sql.DB
	path string
}

// NewRepository opens (or creates) the database at path and loads any
// previously persisted records.
func NewRepository(path string, opts ...memory.Option) (*Repository, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(sqldocs.SQLite); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create state table: %w", err)
	}
	r := &Repository{db: db, path: path}
	r.Repository = memory.NewRepository(append(opts, memory.WithCommit(r.persist))...)
	if err := r.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repository) load() error {
	var payload []byte
	err := r.db.QueryRow(`SELECT payload FROM state WHERE bucket = ?`, recordsBucket).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	var records map[string]domain.Record
	if err := json.Unmarshal(payload, &records); err != nil {
		return &domain.SerializationError{Err: fmt.Errorf("decode %s: %w", recordsBucket, err)}
	}
	r.Store().ImportState(memory.Snapshot{Records: records})
	return nil
}

func (r *Repository) persist(ctx context.Context, snapshot memory.Snapshot) (retErr error) {
	data, err := json.Marshal(snapshot.Records)
	if err != nil {
		return &domain.SerializationError{Err: err}
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, recordsBucket, data); err != nil {
		return fmt.Errorf("upsert %s: %w", recordsBucket, err)
	}
	return tx.Commit()
}

// Close releases the database handle.
func (r *Repository) Close() error { return r.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (r *Repository) DB() *sql.DB { return r.db }

// Path returns the configured database path.
func (r *Repository) Path() string { return r.path }
