package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"recordkeeper/internal/infra/persistence/memory"
	"recordkeeper/pkg/domain"
)

func sequentialIDs(prefix string) domain.IDGenerator {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%03d", prefix, n)
	}
}

func TestCreateRecordRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryService(WithIDGenerator(sequentialIDs("rec")))

	created, err := svc.CreateRecord(ctx, "  Ada Lovelace ", "ada@example.com", domain.RoleAdmin)
	require.NoError(t, err)
	require.Equal(t, "rec-001", created.ID)
	require.Equal(t, "Ada Lovelace", created.Name)
	require.NotNil(t, created.Tags)
	require.Empty(t, created.Tags)
	require.False(t, created.CreatedAt.IsZero())

	got, ok, err := svc.Repository().FindByID(ctx, created.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, created, got)

	fetched, err := svc.GetRecord(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, created, fetched)
}

func TestContactStoredVerbatim(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryService()
	contact := "  Ada <ada@example.com>\n"
	created, err := svc.CreateRecord(ctx, "Ada", contact, domain.RoleViewer)
	require.NoError(t, err)
	require.Equal(t, contact, created.Contact)

	updated, err := svc.UpdateRecord(ctx, created.ID, domain.Record{Name: "Ada", Contact: " \t", Role: domain.RoleViewer})
	require.NoError(t, err)
	require.Equal(t, " \t", updated.Contact)
	got, err := svc.GetRecord(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, " \t", got.Contact)
}

func TestCreateRecordValidation(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryService()

	for _, name := range []string{"", "   \t"} {
		_, err := svc.CreateRecord(ctx, name, "x@example.com", domain.RoleViewer)
		require.True(t, domain.IsValidation(err), "name %q: %v", name, err)
		var ve *domain.ValidationError
		require.ErrorAs(t, err, &ve)
		require.Equal(t, "name", ve.Field)
	}

	_, err := svc.CreateRecord(ctx, "Grace", "grace@example.com", domain.Role("owner"))
	require.True(t, domain.IsValidation(err))
	require.ErrorContains(t, err, `unknown role "owner"`)

	all, err := svc.ListRecords(ctx)
	require.NoError(t, err)
	require.Empty(t, all, "rejected input must not reach the store")
}

func TestCreateRecordConflictFromGenerator(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryService(WithIDGenerator(func() string { return "fixed" }))
	_, err := svc.CreateRecord(ctx, "One", "", domain.RoleViewer)
	require.NoError(t, err)
	_, err = svc.CreateRecord(ctx, "Two", "", domain.RoleViewer)
	require.True(t, domain.IsConflict(err), "got %v", err)
}

func TestGetRecordNotFound(t *testing.T) {
	_, err := NewInMemoryService().GetRecord(context.Background(), "missing")
	require.True(t, domain.IsNotFound(err))
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
	require.Equal(t, "missing", nf.ID)
}

func TestListByRole(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryService()
	admin, err := svc.CreateRecord(ctx, "Admin", "a@example.com", domain.RoleAdmin)
	require.NoError(t, err)
	_, err = svc.CreateRecord(ctx, "Viewer", "v@example.com", domain.RoleViewer)
	require.NoError(t, err)

	admins, err := svc.ListByRole(ctx, domain.RoleAdmin)
	require.NoError(t, err)
	require.Equal(t, []domain.Record{admin}, admins)

	editors, err := svc.ListByRole(ctx, domain.RoleEditor)
	require.NoError(t, err)
	require.NotNil(t, editors)
	require.Empty(t, editors)

	_, err = svc.ListByRole(ctx, domain.Role("root"))
	require.True(t, domain.IsValidation(err))
}

func TestListRecordsOrdersByCreation(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	repo := memory.NewRepository(memory.WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}))
	svc := NewService(repo, WithIDGenerator(sequentialIDs("z")))
	for _, name := range []string{"c", "a", "b"} {
		_, err := svc.CreateRecord(ctx, name, "", domain.RoleViewer)
		require.NoError(t, err)
	}
	all, err := svc.ListRecords(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, []string{"c", "a", "b"}, []string{all[0].Name, all[1].Name, all[2].Name})
}

func TestTagAndNameQueries(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryService()
	ada, err := svc.CreateRecord(ctx, "Ada Lovelace", "", domain.RoleAdmin)
	require.NoError(t, err)
	_, err = svc.CreateRecord(ctx, "Alan Turing", "", domain.RoleEditor)
	require.NoError(t, err)

	ada.Tags = []string{"math", "poetry"}
	_, err = svc.UpdateRecord(ctx, ada.ID, ada)
	require.NoError(t, err)

	tagged, err := svc.ListByTag(ctx, " poetry ")
	require.NoError(t, err)
	require.Len(t, tagged, 1)
	require.Equal(t, ada.ID, tagged[0].ID)

	_, err = svc.ListByTag(ctx, " ")
	require.True(t, domain.IsValidation(err))

	found, err := svc.SearchByName(ctx, "TURING")
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, "Alan Turing", found[0].Name)

	everyone, err := svc.SearchByName(ctx, "")
	require.NoError(t, err)
	require.Len(t, everyone, 2)
}

func TestUpdateRecordReplacesWholeRecord(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryService()
	created, err := svc.CreateRecord(ctx, "Original", "old@example.com", domain.RoleViewer)
	require.NoError(t, err)

	updated, err := svc.UpdateRecord(ctx, created.ID, domain.Record{ID: "ignored", Name: "Renamed", Role: domain.RoleEditor})
	require.NoError(t, err)
	require.Equal(t, created.ID, updated.ID)
	require.Equal(t, "Renamed", updated.Name)
	require.Empty(t, updated.Contact, "fields absent from the replacement are cleared")
	require.Equal(t, domain.RoleEditor, updated.Role)
	require.NotNil(t, updated.Tags)
	require.Equal(t, created.CreatedAt, updated.CreatedAt)

	_, err = svc.UpdateRecord(ctx, created.ID, domain.Record{Name: " ", Role: domain.RoleEditor})
	require.True(t, domain.IsValidation(err))

	_, err = svc.UpdateRecord(ctx, "missing", domain.Record{Name: "x", Role: domain.RoleViewer})
	require.True(t, domain.IsNotFound(err))
	all, err := svc.ListRecords(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestDeleteRecordIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryService()
	created, err := svc.CreateRecord(ctx, "Temp", "", domain.RoleViewer)
	require.NoError(t, err)

	removed, err := svc.DeleteRecord(ctx, created.ID)
	require.NoError(t, err)
	require.True(t, removed)
	removed, err = svc.DeleteRecord(ctx, created.ID)
	require.NoError(t, err)
	require.False(t, removed)
	_, err = svc.GetRecord(ctx, created.ID)
	require.True(t, domain.IsNotFound(err))
}

func TestConcurrentCreatesAreAllRetained(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryService()
	const n = 64
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := svc.CreateRecord(ctx, fmt.Sprintf("user-%d", i), "", domain.RoleViewer)
			if err == nil {
				ids <- rec.ID
			}
		}(i)
	}
	wg.Wait()
	close(ids)

	count := 0
	for id := range ids {
		_, err := svc.GetRecord(ctx, id)
		require.NoError(t, err)
		count++
	}
	require.Equal(t, n, count)
	all, err := svc.ListRecords(ctx)
	require.NoError(t, err)
	require.Len(t, all, n)
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryService()
	created, err := svc.CreateRecord(ctx, "Isolated", "", domain.RoleViewer)
	require.NoError(t, err)
	created.Tags = []string{"x"}
	_, err = svc.UpdateRecord(ctx, created.ID, created)
	require.NoError(t, err)

	all, err := svc.ListRecords(ctx)
	require.NoError(t, err)
	all[0].Name = "mutated"
	all[0].Tags[0] = "mutated"

	got, err := svc.GetRecord(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "Isolated", got.Name)
	require.Equal(t, []string{"x"}, got.Tags)
}

type failingRepo struct {
	domain.Repository
	err error
}

func (f failingRepo) FindAll(context.Context) ([]domain.Record, error) { return nil, f.err }

func TestQueriesPropagateRepositoryErrors(t *testing.T) {
	cause := domain.Internal("list", errors.New("disk gone"))
	svc := NewService(failingRepo{Repository: memory.NewRepository(), err: cause})
	ctx := context.Background()

	_, err := svc.ListRecords(ctx)
	require.True(t, domain.IsInternal(err))
	_, err = svc.ListByRole(ctx, domain.RoleAdmin)
	require.ErrorIs(t, err, cause)
	_, err = svc.SearchByName(ctx, "x")
	require.ErrorIs(t, err, cause)
}

func TestCancelledContextIsReported(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc := NewInMemoryService()
	_, err := svc.CreateRecord(ctx, "Late", "", domain.RoleViewer)
	require.ErrorIs(t, err, context.Canceled)
	_, err = svc.ListByRole(ctx, domain.RoleViewer)
	require.ErrorIs(t, err, context.Canceled)
}
