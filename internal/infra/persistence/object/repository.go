// Package object stores each record as a JSON document in a blob store under
// <prefix>/<id>.json.
package object

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"recordkeeper/internal/blob"
	"recordkeeper/pkg/domain"
)

// Compile-time contract assertion.
var _ domain.Repository = (*Repository)(nil)

// DefaultPrefix is the key prefix used when none is configured.
const DefaultPrefix = "records"

const (
	documentSuffix = ".json"
	contentType    = "application/json"
)

// Option customises a Repository.
type Option func(*Repository)

// WithPrefix overrides the key prefix documents are stored under.
func WithPrefix(prefix string) Option {
	return func(r *Repository) {
		if p := strings.Trim(prefix, "/"); p != "" {
			r.prefix = p
		}
	}
}

// WithClock overrides the time source used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) {
		if now != nil {
			r.now = now
		}
	}
}

// Repository persists records one document per blob. Writes from this
// process are serialised so the existence check and the write of Update and
// Delete happen as one step; reads are lock-free.
type Repository struct {
	store  blob.Store
	prefix string
	now    func() time.Time
	mu     sync.Mutex
}

// NewRepository wraps store.
func NewRepository(store blob.Store, opts ...Option) *Repository {
	r := &Repository{
		store:  store,
		prefix: DefaultPrefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Prefix returns the key prefix documents are stored under.
func (r *Repository) Prefix() string { return r.prefix }

func (r *Repository) key(id string) string {
	return r.prefix + "/" + id + documentSuffix
}

// FindAll lists and decodes every document under the prefix. Documents
// removed between the listing and the read are skipped.
func (r *Repository) FindAll(ctx context.Context) ([]domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	infos, err := r.store.List(ctx, r.prefix+"/")
	if err != nil {
		return nil, domain.Internal("list", err)
	}
	out := make([]domain.Record, 0, len(infos))
	for _, info := range infos {
		if !strings.HasSuffix(info.Key, documentSuffix) {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(info.Key, r.prefix+"/"), documentSuffix)
		rec, ok, err := r.read(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// FindByID reads the document for id.
func (r *Repository) FindByID(ctx context.Context, id string) (domain.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Record{}, false, err
	}
	return r.read(ctx, id)
}

// Create writes a new document and fails with a conflict if one exists.
func (r *Repository) Create(ctx context.Context, rec domain.Record) (domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return domain.Record{}, err
	}
	if rec.ID == "" {
		return domain.Record{}, &domain.ValidationError{Field: "id", Message: "must not be empty"}
	}
	rec = normalize(rec)
	now := r.now()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.write(ctx, rec, false); err != nil {
		if errors.Is(err, blob.ErrExists) {
			return domain.Record{}, &domain.ConflictError{ID: rec.ID}
		}
		return domain.Record{}, err
	}
	return rec, nil
}

// Update replaces the document for id, keeping its creation time.
func (r *Repository) Update(ctx context.Context, id string, rec domain.Record) (domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return domain.Record{}, err
	}
	rec = normalize(rec)
	rec.ID = id

	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok, err := r.read(ctx, id)
	if err != nil {
		return domain.Record{}, err
	}
	if !ok {
		return domain.Record{}, &domain.NotFoundError{ID: id}
	}
	rec.CreatedAt = current.CreatedAt
	rec.UpdatedAt = r.now()
	if err := r.write(ctx, rec, true); err != nil {
		return domain.Record{}, err
	}
	return rec, nil
}

// Delete removes the document for id.
func (r *Repository) Delete(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	removed, err := r.store.Delete(ctx, r.key(id))
	if err != nil {
		return false, domain.Internal("delete", err)
	}
	return removed, nil
}

func (r *Repository) read(ctx context.Context, id string) (domain.Record, bool, error) {
	_, rc, err := r.store.Get(ctx, r.key(id))
	if errors.Is(err, blob.ErrNotFound) {
		return domain.Record{}, false, nil
	}
	if err != nil {
		return domain.Record{}, false, domain.Internal("get", err)
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return domain.Record{}, false, domain.Internal("read", err)
	}
	var rec domain.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.Record{}, false, &domain.SerializationError{ID: id, Err: fmt.Errorf("decode document: %w", err)}
	}
	if rec.ID != id {
		return domain.Record{}, false, &domain.SerializationError{ID: id, Err: fmt.Errorf("document holds id %q", rec.ID)}
	}
	return normalize(rec), true, nil
}

func (r *Repository) write(ctx context.Context, rec domain.Record, overwrite bool) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return &domain.SerializationError{ID: rec.ID, Err: err}
	}
	_, err = r.store.Put(ctx, r.key(rec.ID), bytes.NewReader(data), blob.PutOptions{ContentType: contentType, Overwrite: overwrite})
	if err != nil && !errors.Is(err, blob.ErrExists) {
		return domain.Internal("put", err)
	}
	return err
}

func normalize(rec domain.Record) domain.Record {
	rec = rec.Clone()
	if rec.Tags == nil {
		rec.Tags = []string{}
	}
	return rec
}
