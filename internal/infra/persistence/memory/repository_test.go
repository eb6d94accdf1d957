package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"recordkeeper/internal/infra/persistence/memory"
	"recordkeeper/internal/infra/persistence/persistencetest"
	"recordkeeper/pkg/domain"
)

func TestRepositoryContract(t *testing.T) {
	persistencetest.Run(t, func(t *testing.T) domain.Repository {
		return memory.NewRepository()
	})
}

func TestRepositoryContractWithCommitHook(t *testing.T) {
	persistencetest.Run(t, func(t *testing.T) domain.Repository {
		return memory.NewRepository(memory.WithCommit(func(context.Context, memory.Snapshot) error { return nil }))
	})
}

func TestRepositoryTimestampsFollowClock(t *testing.T) {
	current := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	repo := memory.NewRepository(memory.WithClock(func() time.Time { return current }))
	ctx := context.Background()

	forged := persistencetest.Sample("r1")
	forged.CreatedAt = time.Unix(0, 0)
	created, err := repo.Create(ctx, forged)
	require.NoError(t, err)
	require.Equal(t, current, created.CreatedAt)
	require.Equal(t, current, created.UpdatedAt)

	later := current.Add(time.Hour)
	current = later
	updated, err := repo.Update(ctx, "r1", persistencetest.Sample("r1"))
	require.NoError(t, err)
	require.Equal(t, created.CreatedAt, updated.CreatedAt)
	require.Equal(t, later, updated.UpdatedAt)
}

func TestRepositorySharesStore(t *testing.T) {
	store := memory.NewStore()
	repo := memory.NewRepository(memory.WithStore(store))
	require.Same(t, store, repo.Store())
	require.NotNil(t, repo.NowFunc())

	_, err := repo.Create(context.Background(), persistencetest.Sample("s1"))
	require.NoError(t, err)
	require.Equal(t, 1, store.Len())
}

func TestRepositoryCommitSeesWrite(t *testing.T) {
	var seen []int
	repo := memory.NewRepository(memory.WithCommit(func(_ context.Context, snap memory.Snapshot) error {
		seen = append(seen, len(snap.Records))
		return nil
	}))
	ctx := context.Background()
	_, err := repo.Create(ctx, persistencetest.Sample("a"))
	require.NoError(t, err)
	_, err = repo.Create(ctx, persistencetest.Sample("b"))
	require.NoError(t, err)
	_, err = repo.Delete(ctx, "a")
	require.NoError(t, err)
	removed, err := repo.Delete(ctx, "a")
	require.NoError(t, err)
	require.False(t, removed)
	require.Equal(t, []int{1, 2, 1}, seen)
}

func TestRepositoryCommitFailureLeavesState(t *testing.T) {
	fail := false
	repo := memory.NewRepository(memory.WithCommit(func(context.Context, memory.Snapshot) error {
		if fail {
			return errors.New("disk full")
		}
		return nil
	}))
	ctx := context.Background()
	_, err := repo.Create(ctx, persistencetest.Sample("keep"))
	require.NoError(t, err)

	fail = true
	_, err = repo.Create(ctx, persistencetest.Sample("new"))
	require.True(t, domain.IsInternal(err), "got %v", err)
	_, ok, _ := repo.FindByID(ctx, "new")
	require.False(t, ok)

	changed := persistencetest.Sample("keep")
	changed.Name = "changed"
	_, err = repo.Update(ctx, "keep", changed)
	require.True(t, domain.IsInternal(err))
	got, _, _ := repo.FindByID(ctx, "keep")
	require.Equal(t, "Record keep", got.Name)

	removed, err := repo.Delete(ctx, "keep")
	require.True(t, domain.IsInternal(err))
	require.False(t, removed)
	_, ok, _ = repo.FindByID(ctx, "keep")
	require.True(t, ok)
}

func TestRepositoryCommitSerializationErrorKeepsKind(t *testing.T) {
	repo := memory.NewRepository(memory.WithCommit(func(context.Context, memory.Snapshot) error {
		return &domain.SerializationError{Err: errors.New("bad json")}
	}))
	_, err := repo.Create(context.Background(), persistencetest.Sample("x"))
	require.True(t, domain.IsSerialization(err))
	require.False(t, domain.IsInternal(err))
}

func TestRepositoryWriteHiddenUntilCommitted(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan error)
	repo := memory.NewRepository(memory.WithCommit(func(context.Context, memory.Snapshot) error {
		entered <- struct{}{}
		return <-release
	}))
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := repo.Create(ctx, persistencetest.Sample("ghost"))
		done <- err
	}()
	<-entered
	_, ok, err := repo.FindByID(ctx, "ghost")
	require.NoError(t, err)
	require.False(t, ok, "uncommitted create visible")
	all, err := repo.FindAll(ctx)
	require.NoError(t, err)
	require.Empty(t, all)
	release <- errors.New("disk full")
	require.True(t, domain.IsInternal(<-done))
	_, ok, _ = repo.FindByID(ctx, "ghost")
	require.False(t, ok)

	go func() {
		_, err := repo.Create(ctx, persistencetest.Sample("kept"))
		done <- err
	}()
	<-entered
	release <- nil
	require.NoError(t, <-done)

	go func() {
		changed := persistencetest.Sample("kept")
		changed.Name = "renamed"
		_, err := repo.Update(ctx, "kept", changed)
		done <- err
	}()
	<-entered
	got, ok, err := repo.FindByID(ctx, "kept")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Record kept", got.Name)
	release <- nil
	require.NoError(t, <-done)
	got, _, _ = repo.FindByID(ctx, "kept")
	require.Equal(t, "renamed", got.Name)
}
