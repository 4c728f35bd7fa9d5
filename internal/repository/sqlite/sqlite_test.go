package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lid-inspector/internal/domain"
	"lid-inspector/internal/repository"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(context.Background(), filepath.Join(t.TempDir(), "db", "inspector.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleInspection(name string, verdict domain.Verdict) *domain.Inspection {
	return &domain.Inspection{
		CorrelationID: "c-" + name,
		FileName:      name,
		Path:          "/frames/" + name,
		Verdict:       verdict,
		Reason:        "reason for " + name,
		Confidence:    88,
		Strictness:    3,
		NoBrand:       true,
		Model:         "gpt-4o-mini",
		RawResponse:   string(verdict) + " - reason",
	}
}

func TestInspectionRepositoryCRUD(t *testing.T) {
	ctx := context.Background()
	repo := openTestStore(t).Inspections

	in := sampleInspection("1.jpg", domain.VerdictAccept)
	id, err := repo.Create(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, id, in.ID)
	assert.False(t, in.CreatedAt.IsZero())

	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "1.jpg", got.FileName)
	assert.Equal(t, domain.VerdictAccept, got.Verdict)
	assert.Equal(t, 88, got.Confidence)
	assert.True(t, got.NoBrand)
	assert.WithinDuration(t, in.CreatedAt, got.CreatedAt, time.Second)

	require.NoError(t, repo.MarkArchived(ctx, id, "s3://bucket/inspections/1.jpg"))
	got, err = repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "s3://bucket/inspections/1.jpg", got.S3Location)

	require.NoError(t, repo.Delete(ctx, id))
	_, err = repo.Get(ctx, id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, id), domain.ErrNotFound)
	assert.ErrorIs(t, repo.MarkArchived(ctx, id, "x"), domain.ErrNotFound)
}

func TestInspectionRepositoryListAndStats(t *testing.T) {
	ctx := context.Background()
	repo := openTestStore(t).Inspections

	for i, v := range []domain.Verdict{domain.VerdictAccept, domain.VerdictReject, domain.VerdictError, domain.VerdictAccept} {
		_, err := repo.Create(ctx, sampleInspection(string(rune('1'+i))+".jpg", v))
		require.NoError(t, err)
	}

	all, err := repo.List(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "4.jpg", all[0].FileName)

	page, err := repo.List(ctx, 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "3.jpg", page[0].FileName)

	stats, err := repo.Stats(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, domain.Stats{Total: 4, Accepted: 2, Rejected: 1, Errored: 1}, stats)

	stats, err = repo.Stats(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, domain.Stats{}, stats)
}

func TestListFileNamesSince(t *testing.T) {
	ctx := context.Background()
	repo := openTestStore(t).Inspections

	_, err := repo.Create(ctx, sampleInspection("1.jpg", domain.VerdictAccept))
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	cutoff := time.Now()
	time.Sleep(10 * time.Millisecond)
	_, err = repo.Create(ctx, sampleInspection("2.jpg", domain.VerdictReject))
	require.NoError(t, err)
	_, err = repo.Create(ctx, sampleInspection("2.jpg", domain.VerdictAccept))
	require.NoError(t, err)

	names, err := repo.ListFileNamesSince(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, []string{"1.jpg", "2.jpg"}, names)

	names, err = repo.ListFileNamesSince(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, []string{"2.jpg"}, names)
}

func TestStateRepository(t *testing.T) {
	ctx := context.Background()
	repo := openTestStore(t).State

	_, err := repo.Load(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, repo.Save(ctx, domain.RuntimeState{Settings: domain.Settings{Strictness: 4}}))
	state, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Settings{Strictness: 4}, state.Settings)
	assert.True(t, state.ClearedAt.IsZero())

	cleared := time.Now().Truncate(time.Millisecond)
	require.NoError(t, repo.Save(ctx, domain.RuntimeState{Settings: domain.Settings{Strictness: 2, NoBrand: true}, ClearedAt: cleared}))
	state, err = repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Settings{Strictness: 2, NoBrand: true}, state.Settings)
	assert.True(t, cleared.Equal(state.ClearedAt))
}

func TestUserRepository(t *testing.T) {
	ctx := context.Background()
	repo := openTestStore(t).Users

	u := &domain.User{Username: "shift-lead", PasswordHash: "hash"}
	id, err := repo.Create(ctx, u)
	require.NoError(t, err)

	got, err := repo.GetByUsername(ctx, "SHIFT-LEAD")
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)

	got, err = repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "shift-lead", got.Username)
	assert.True(t, got.LastLoginAt.IsZero())

	at := time.Date(2026, 3, 2, 6, 30, 0, 0, time.UTC)
	require.NoError(t, repo.RecordLogin(ctx, id, at))
	assert.ErrorIs(t, repo.RecordLogin(ctx, id+100, at), domain.ErrNotFound)

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, at.Equal(list[0].LastLoginAt))

	_, err = repo.Create(ctx, &domain.User{Username: "shift-lead", PasswordHash: "other"})
	assert.ErrorIs(t, err, repository.ErrUserExists)

	_, err = repo.GetByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
