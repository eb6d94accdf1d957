// Package persistencetest holds the behavioural contract every
// domain.Repository implementation is checked against.
package persistencetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"recordkeeper/pkg/domain"
)

// Factory builds a fresh, empty repository for one subtest.
type Factory func(t *testing.T) domain.Repository

// Run executes the repository contract against repositories built by newRepo.
func Run(t *testing.T, newRepo Factory) {
	t.Helper()
	cases := []struct {
		name string
		fn   func(t *testing.T, repo domain.Repository)
	}{
		{"CreateThenFind", testCreateThenFind},
		{"FindMissing", testFindMissing},
		{"CreateDuplicateConflicts", testCreateDuplicate},
		{"CreateRequiresID", testCreateRequiresID},
		{"UpdateMissingNotFound", testUpdateMissing},
		{"UpdateReplacesWholeRecord", testUpdateReplaces},
		{"DeleteIsIdempotent", testDeleteIdempotent},
		{"FindAllCountsCreates", testFindAllCounts},
		{"ReturnedValuesAreCopies", testCopies},
		{"NilTagsNormalised", testNilTags},
		{"CancelledContext", testCancelledContext},
		{"ConcurrentCreates", testConcurrentCreates},
		{"UpdateNeverResurrects", testUpdateNeverResurrects},
		{"ReadsDuringUpdatesSeeWholeRecords", testReadsDuringUpdates},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			c.fn(t, newRepo(t))
		})
	}
}

// Sample returns a valid record with the given id.
func Sample(id string) domain.Record {
	return domain.Record{
		ID:      id,
		Name:    "Record " + id,
		Contact: id + "@example.com",
		Role:    domain.RoleViewer,
		Tags:    []string{"alpha", "beta"},
	}
}

func testCreateThenFind(t *testing.T, repo domain.Repository) {
	ctx := context.Background()
	created, err := repo.Create(ctx, Sample("r1"))
	require.NoError(t, err)
	require.Equal(t, "r1", created.ID)
	require.False(t, created.CreatedAt.IsZero())
	require.Equal(t, created.CreatedAt, created.UpdatedAt)

	got, ok, err := repo.FindByID(ctx, "r1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, created.Name, got.Name)
	require.Equal(t, created.Contact, got.Contact)
	require.Equal(t, created.Role, got.Role)
	require.Equal(t, created.Tags, got.Tags)
	require.True(t, created.CreatedAt.Equal(got.CreatedAt))
}

func testFindMissing(t *testing.T, repo domain.Repository) {
	_, ok, err := repo.FindByID(context.Background(), "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func testCreateDuplicate(t *testing.T, repo domain.Repository) {
	ctx := context.Background()
	_, err := repo.Create(ctx, Sample("dup"))
	require.NoError(t, err)

	again := Sample("dup")
	again.Name = "Other"
	_, err = repo.Create(ctx, again)
	require.True(t, domain.IsConflict(err), "got %v", err)

	got, ok, err := repo.FindByID(ctx, "dup")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Record dup", got.Name)
}

func testCreateRequiresID(t *testing.T, repo domain.Repository) {
	_, err := repo.Create(context.Background(), Sample(""))
	require.True(t, domain.IsValidation(err), "got %v", err)
}

func testUpdateMissing(t *testing.T, repo domain.Repository) {
	ctx := context.Background()
	_, err := repo.Update(ctx, "ghost", Sample("ghost"))
	require.True(t, domain.IsNotFound(err), "got %v", err)
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
	require.Equal(t, "ghost", nf.ID)

	_, ok, err := repo.FindByID(ctx, "ghost")
	require.NoError(t, err)
	require.False(t, ok)
}

func testUpdateReplaces(t *testing.T, repo domain.Repository) {
	ctx := context.Background()
	created, err := repo.Create(ctx, Sample("u1"))
	require.NoError(t, err)

	next := domain.Record{ID: "ignored", Name: "Renamed", Role: domain.RoleAdmin, Tags: []string{"gamma"}}
	updated, err := repo.Update(ctx, "u1", next)
	require.NoError(t, err)
	require.Equal(t, "u1", updated.ID)
	require.Equal(t, "Renamed", updated.Name)
	require.Empty(t, updated.Contact)
	require.True(t, created.CreatedAt.Equal(updated.CreatedAt))
	require.False(t, updated.UpdatedAt.Before(created.UpdatedAt))

	got, ok, err := repo.FindByID(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []string{"gamma"}, got.Tags)
	require.Equal(t, domain.RoleAdmin, got.Role)

	_, ok, err = repo.FindByID(ctx, "ignored")
	require.NoError(t, err)
	require.False(t, ok)
}

func testDeleteIdempotent(t *testing.T, repo domain.Repository) {
	ctx := context.Background()
	_, err := repo.Create(ctx, Sample("d1"))
	require.NoError(t, err)

	removed, err := repo.Delete(ctx, "d1")
	require.NoError(t, err)
	require.True(t, removed)

	removed, err = repo.Delete(ctx, "d1")
	require.NoError(t, err)
	require.False(t, removed)

	_, ok, err := repo.FindByID(ctx, "d1")
	require.NoError(t, err)
	require.False(t, ok)
}

func testFindAllCounts(t *testing.T, repo domain.Repository) {
	ctx := context.Background()
	all, err := repo.FindAll(ctx)
	require.NoError(t, err)
	require.Empty(t, all)

	for i := 0; i < 5; i++ {
		_, err := repo.Create(ctx, Sample(fmt.Sprintf("n%d", i)))
		require.NoError(t, err)
	}
	all, err = repo.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 5)
}

func testCopies(t *testing.T, repo domain.Repository) {
	ctx := context.Background()
	input := Sample("c1")
	created, err := repo.Create(ctx, input)
	require.NoError(t, err)

	input.Tags[0] = "mutated-input"
	created.Tags[0] = "mutated-created"
	got, _, err := repo.FindByID(ctx, "c1")
	require.NoError(t, err)
	got.Tags[1] = "mutated-got"
	got.Name = "mutated"

	all, err := repo.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	all[0].Tags[0] = "mutated-all"

	fresh, ok, err := repo.FindByID(ctx, "c1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []string{"alpha", "beta"}, fresh.Tags)
	require.Equal(t, "Record c1", fresh.Name)
}

func testNilTags(t *testing.T, repo domain.Repository) {
	ctx := context.Background()
	rec := Sample("t1")
	rec.Tags = nil
	created, err := repo.Create(ctx, rec)
	require.NoError(t, err)
	require.NotNil(t, created.Tags)
	require.Empty(t, created.Tags)

	got, _, err := repo.FindByID(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, got.Tags)
}

func testCancelledContext(t *testing.T, repo domain.Repository) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := repo.FindAll(ctx)
	require.ErrorIs(t, err, context.Canceled)
	_, _, err = repo.FindByID(ctx, "x")
	require.ErrorIs(t, err, context.Canceled)
	_, err = repo.Create(ctx, Sample("x"))
	require.ErrorIs(t, err, context.Canceled)
	_, err = repo.Update(ctx, "x", Sample("x"))
	require.ErrorIs(t, err, context.Canceled)
	_, err = repo.Delete(ctx, "x")
	require.ErrorIs(t, err, context.Canceled)

	all, err := repo.FindAll(context.Background())
	require.NoError(t, err)
	require.Empty(t, all)
}

func testConcurrentCreates(t *testing.T, repo domain.Repository) {
	const workers = 16
	const perWorker = 8
	ctx := context.Background()
	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id := fmt.Sprintf("w%d-%d", w, i)
				if _, err := repo.Create(ctx, Sample(id)); err != nil {
					errs <- err
					continue
				}
				if _, _, err := repo.FindByID(ctx, id); err != nil {
					errs <- err
				}
				if _, err := repo.FindAll(ctx); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	all, err := repo.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, workers*perWorker)
}

func testUpdateNeverResurrects(t *testing.T, repo domain.Repository) {
	ctx := context.Background()
	const rounds = 32
	for i := 0; i < rounds; i++ {
		id := fmt.Sprintf("race-%d", i)
		_, err := repo.Create(ctx, Sample(id))
		require.NoError(t, err)

		var wg sync.WaitGroup
		var updateErr, deleteErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, updateErr = repo.Update(ctx, id, Sample(id))
		}()
		go func() {
			defer wg.Done()
			_, deleteErr = repo.Delete(ctx, id)
		}()
		wg.Wait()
		require.NoError(t, deleteErr)
		if updateErr != nil && !errors.Is(updateErr, domain.ErrNotFound) {
			t.Fatalf("update: %v", updateErr)
		}

		_, ok, err := repo.FindByID(ctx, id)
		require.NoError(t, err)
		require.False(t, ok, "record %s resurrected by update", id)
	}
}

// variant builds one of two internally consistent versions of a record, so a
// read mixing fields from both is detectable.
func variant(id string, n int) domain.Record {
	label := fmt.Sprintf("v%d", n%2)
	rec := Sample(id)
	rec.Name = "Record " + label
	rec.Contact = label + "@example.com"
	rec.Tags = []string{label}
	return rec
}

func consistent(rec domain.Record) error {
	for n := 0; n < 2; n++ {
		want := variant(rec.ID, n)
		if rec.Name == want.Name && rec.Contact == want.Contact && len(rec.Tags) == 1 && rec.Tags[0] == want.Tags[0] {
			return nil
		}
	}
	return fmt.Errorf("torn record %+v", rec)
}

func testReadsDuringUpdates(t *testing.T, repo domain.Repository) {
	const updates = 200
	const readers = 4
	ctx := context.Background()
	_, err := repo.Create(ctx, variant("r1", 0))
	require.NoError(t, err)

	stop := make(chan struct{})
	errs := make(chan error, readers)
	var wg sync.WaitGroup
	stopReaders := sync.OnceFunc(func() {
		close(stop)
		wg.Wait()
	})
	defer stopReaders()
	for r := 0; r < readers; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				rec, ok, err := repo.FindByID(ctx, "r1")
				if err == nil && !ok {
					err = errors.New("record vanished during update")
				}
				if err == nil {
					err = consistent(rec)
				}
				if err == nil {
					var all []domain.Record
					all, err = repo.FindAll(ctx)
					if err == nil && len(all) != 1 {
						err = fmt.Errorf("FindAll returned %d records", len(all))
					}
					if err == nil {
						err = consistent(all[0])
					}
				}
				if err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	for i := 1; i <= updates; i++ {
		_, err := repo.Update(ctx, "r1", variant("r1", i))
		require.NoError(t, err)
	}
	stopReaders()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	got, ok, err := repo.FindByID(ctx, "r1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, variant("r1", updates).Name, got.Name)
}
