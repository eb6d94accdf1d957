package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"recordkeeper/pkg/domain"
)

// Compile-time contract assertion ensuring Repository satisfies the domain contract.
var _ domain.Repository = (*Repository)(nil)

// CommitFunc durably records the post-write snapshot. A non-nil error discards
// the write before any reader sees it.
type CommitFunc func(ctx context.Context, snapshot Snapshot) error

// Option customises a Repository.
type Option func(*Repository)

// WithClock overrides the time source used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) {
		if now != nil {
			r.now = now
		}
	}
}

// WithStore makes the repository operate on an existing store.
func WithStore(store *Store) Option {
	return func(r *Repository) {
		if store != nil {
			r.store = store
		}
	}
}

// WithCommit installs a hook that durably records every write before it
// becomes visible. Writes are serialised while a hook is installed.
func WithCommit(fn CommitFunc) Option {
	return func(r *Repository) { r.commit = fn }
}

// Repository is the in-memory domain.Repository. It adds the existence check
// for updates and manages record timestamps on top of Store.
type Repository struct {
	store  *Store
	now    func() time.Time
	commit CommitFunc
	// writeMu orders staged writes. It is always taken before the store lock.
	writeMu sync.Mutex
}

// NewRepository constructs a repository over a fresh store unless WithStore is given.
func NewRepository(opts ...Option) *Repository {
	r := &Repository{
		store: NewStore(),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Store exposes the backing store.
func (r *Repository) Store() *Store { return r.store }

// NowFunc returns the time provider used for timestamps.
func (r *Repository) NowFunc() func() time.Time { return r.now }

// FindAll returns every record in unspecified order.
func (r *Repository) FindAll(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.store.ListAll(), nil
}

// FindByID returns the record stored under id, if any.
func (r *Repository) FindByID(ctx context.Context, id string) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}
	rec, ok := r.store.Get(id)
	return rec, ok, nil
}

// Create stores rec under rec.ID. The repository assigns both timestamps.
func (r *Repository) Create(ctx context.Context, rec Record) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	if rec.ID == "" {
		return Record{}, &domain.ValidationError{Field: "id", Message: "must not be empty"}
	}
	rec = normalize(rec)
	now := r.now()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	if r.commit == nil {
		if !r.store.Insert(rec.ID, rec) {
			return Record{}, &domain.ConflictError{ID: rec.ID}
		}
		return rec.Clone(), nil
	}
	err := r.stage(ctx, "create", func(records map[string]Record) error {
		if _, exists := records[rec.ID]; exists {
			return &domain.ConflictError{ID: rec.ID}
		}
		records[rec.ID] = rec.Clone()
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	return rec.Clone(), nil
}

// Update replaces the record stored under id with rec. The stored creation
// time is kept and the update time refreshed. Absent ids fail with a
// *domain.NotFoundError and are never recreated.
func (r *Repository) Update(ctx context.Context, id string, rec Record) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	rec = normalize(rec)
	rec.ID = id
	now := r.now()
	replace := func(current Record) Record {
		rec.CreatedAt = current.CreatedAt
		rec.UpdatedAt = now
		return rec
	}

	if r.commit == nil {
		updated, ok := r.store.Replace(id, replace)
		if !ok {
			return Record{}, &domain.NotFoundError{ID: id}
		}
		return updated, nil
	}
	err := r.stage(ctx, "update", func(records map[string]Record) error {
		current, ok := records[id]
		if !ok {
			return &domain.NotFoundError{ID: id}
		}
		records[id] = replace(current).Clone()
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	return rec.Clone(), nil
}

// Delete removes id and reports whether anything was removed.
func (r *Repository) Delete(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if r.commit == nil {
		return r.store.Remove(id), nil
	}
	removed := false
	err := r.stage(ctx, "delete", func(records map[string]Record) error {
		if _, ok := records[id]; !ok {
			return errUnchanged
		}
		delete(records, id)
		removed = true
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return removed, nil
}

// errUnchanged aborts a staged write that would not modify anything.
var errUnchanged = errors.New("memory: unchanged")

// stage applies mutate to a copy of the current state, hands the copy to the
// commit hook and installs it only once the hook succeeds. Readers see either
// the state before the write or the committed state.
func (r *Repository) stage(ctx context.Context, op string, mutate func(records map[string]Record) error) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	snapshot := r.store.ExportState()
	if err := mutate(snapshot.Records); err != nil {
		return err
	}
	if err := domain.Internal(op, r.commit(ctx, snapshot)); err != nil {
		return err
	}
	r.store.ImportState(snapshot)
	return nil
}

func normalize(rec Record) Record {
	rec = rec.Clone()
	if rec.Tags == nil {
		rec.Tags = []string{}
	}
	return rec
}
