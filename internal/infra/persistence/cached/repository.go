package cached

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"recordkeeper/pkg/domain"
)

// Compile-time contract assertion.
var _ domain.Repository = (*Repository)(nil)

// DefaultTTL bounds how long a cached record may be served.
const DefaultTTL = 5 * time.Minute

const keyPrefix = "record:"

// Option customises a Repository.
type Option func(*Repository)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(r *Repository) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithLogger reports cache failures to log.
func WithLogger(log *zap.Logger) Option {
	return func(r *Repository) {
		if log != nil {
			r.log = log
		}
	}
}

// Stats counts cache lookups made by FindByID.
type Stats struct {
	Hits   uint64
	Misses uint64
}

// Repository serves FindByID from a cache and delegates everything else to
// the wrapped repository. Concurrent misses for the same record share one
// backend read. Cache failures degrade to misses.
type Repository struct {
	next  domain.Repository
	cache Cache
	ttl   time.Duration
	log   *zap.Logger
	group singleflight.Group

	// mu guards gen. gen advances on every write so a read that started
	// before the write never populates the cache.
	mu  sync.Mutex
	gen uint64

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewRepository wraps next with cache.
func NewRepository(next domain.Repository, cache Cache, opts ...Option) *Repository {
	r := &Repository{
		next:  next,
		cache: cache,
		ttl:   DefaultTTL,
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Unwrap returns the decorated repository.
func (r *Repository) Unwrap() domain.Repository { return r.next }

// Stats returns the hit and miss counters.
func (r *Repository) Stats() Stats {
	return Stats{Hits: r.hits.Load(), Misses: r.misses.Load()}
}

// FindAll always reads from the wrapped repository.
func (r *Repository) FindAll(ctx context.Context) ([]domain.Record, error) {
	return r.next.FindAll(ctx)
}

type lookup struct {
	rec domain.Record
	ok  bool
}

// FindByID returns the cached record when present, otherwise reads through.
// Absent records are not cached.
func (r *Repository) FindByID(ctx context.Context, id string) (domain.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Record{}, false, err
	}
	key := keyPrefix + id
	if rec, ok := r.cached(ctx, key, id); ok {
		r.hits.Add(1)
		return rec, true, nil
	}
	r.misses.Add(1)

	gen := r.generation()
	ch := r.group.DoChan(key+"@"+strconv.FormatUint(gen, 10), func() (any, error) {
		bg := context.WithoutCancel(ctx)
		rec, ok, err := r.next.FindByID(bg, id)
		if err != nil || !ok {
			return lookup{}, err
		}
		r.fill(bg, key, rec, gen)
		return lookup{rec: rec, ok: true}, nil
	})
	select {
	case <-ctx.Done():
		return domain.Record{}, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return domain.Record{}, false, res.Err
		}
		l := res.Val.(lookup)
		return l.rec.Clone(), l.ok, nil
	}
}

// Create delegates and drops any cached entry for the new id.
func (r *Repository) Create(ctx context.Context, rec domain.Record) (domain.Record, error) {
	out, err := r.next.Create(ctx, rec)
	if err == nil {
		r.invalidate(ctx, rec.ID)
	}
	return out, err
}

// Update delegates and invalidates the cached entry.
func (r *Repository) Update(ctx context.Context, id string, rec domain.Record) (domain.Record, error) {
	out, err := r.next.Update(ctx, id, rec)
	r.invalidate(ctx, id)
	return out, err
}

// Delete delegates and invalidates the cached entry.
func (r *Repository) Delete(ctx context.Context, id string) (bool, error) {
	removed, err := r.next.Delete(ctx, id)
	r.invalidate(ctx, id)
	return removed, err
}

// Close closes the cache and the wrapped repository when they hold resources.
func (r *Repository) Close() error {
	var errs []error
	if c, ok := r.cache.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	if c, ok := r.next.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func (r *Repository) generation() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gen
}

func (r *Repository) cached(ctx context.Context, key, id string) (domain.Record, bool) {
	data, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		r.log.Warn("record cache get failed", zap.String("record_id", id), zap.Error(err))
		return domain.Record{}, false
	}
	if !ok {
		return domain.Record{}, false
	}
	var rec domain.Record
	if err := json.Unmarshal(data, &rec); err != nil || rec.ID != id {
		r.log.Warn("dropping undecodable cache entry", zap.String("record_id", id), zap.Error(err))
		_ = r.cache.Delete(ctx, key)
		return domain.Record{}, false
	}
	if rec.Tags == nil {
		rec.Tags = []string{}
	}
	return rec, true
}

func (r *Repository) fill(ctx context.Context, key string, rec domain.Record, gen uint64) {
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen != gen {
		return
	}
	if err := r.cache.Set(ctx, key, data, r.ttl); err != nil {
		r.log.Warn("record cache set failed", zap.String("record_id", rec.ID), zap.Error(err))
	}
}

func (r *Repository) invalidate(ctx context.Context, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen++
	if err := r.cache.Delete(context.WithoutCancel(ctx), keyPrefix+id); err != nil {
		r.log.Warn("record cache invalidate failed", zap.String("record_id", id), zap.Error(err))
	}
}
