package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webrag-go/internal/model"
	"webrag-go/pkg/errs"
)

func TestMemoryJobRepositoryLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryJobRepository()

	job, err := repo.Create(ctx, "https://example.com", map[string]any{"title": "Example"})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.Len(t, job.ID, 36)

	taskID := "task-1"
	updated, err := repo.Update(ctx, job.ID, model.JobUpdate{TaskID: &taskID})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, updated.Status)
	assert.Equal(t, "task-1", *updated.TaskID)

	_, err = repo.Update(ctx, job.ID, model.JobUpdate{Status: model.StatusPtr(model.JobStatusCompleted)})
	assert.ErrorIs(t, err, errs.ErrInvalidTransition)

	got, err := repo.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, got.Status)
	assert.Equal(t, "Example", got.Metadata["title"])
}

func TestMemoryJobRepositoryNotFound(t *testing.T) {
	repo := NewMemoryJobRepository()
	_, err := repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, err = repo.Update(context.Background(), "missing", model.JobUpdate{})
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestMemoryJobRepositoryListStale(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryJobRepository()
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	var ids []string
	for i := 0; i < 3; i++ {
		j, err := repo.Create(ctx, "https://example.com", nil)
		require.NoError(t, err)
		started := base.Add(time.Duration(i) * time.Minute)
		_, err = repo.Update(ctx, j.ID, model.JobUpdate{Status: model.StatusPtr(model.JobStatusProcessing), StartedAt: &started})
		require.NoError(t, err)
		ids = append(ids, j.ID)
	}
	_, err := repo.Update(ctx, ids[0], model.JobUpdate{Status: model.StatusPtr(model.JobStatusCompleted)})
	require.NoError(t, err)

	stale, err := repo.ListStale(ctx, base.Add(90*time.Second), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, ids[1], stale[0].ID)
}

type fakeRow struct{ values []any }

func (r fakeRow) Scan(dest ...any) error {
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.values[i].(string)
		case *time.Time:
			*p = r.values[i].(time.Time)
		case *sql.NullTime:
			*p = r.values[i].(sql.NullTime)
		case *sql.NullInt64:
			*p = r.values[i].(sql.NullInt64)
		case *sql.NullFloat64:
			*p = r.values[i].(sql.NullFloat64)
		case *sql.NullString:
			*p = r.values[i].(sql.NullString)
		case *[]byte:
			*p = r.values[i].([]byte)
		}
	}
	return nil
}

func TestScanJob(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	row := fakeRow{values: []any{
		"id-1", "https://example.com", "completed", now, now,
		sql.NullTime{Time: now, Valid: true}, sql.NullTime{Time: now, Valid: true},
		sql.NullInt64{Int64: 4, Valid: true}, sql.NullInt64{Int64: 120, Valid: true},
		sql.NullFloat64{Float64: 2.5, Valid: true},
		sql.NullString{}, sql.NullString{}, sql.NullString{String: "task", Valid: true},
		[]byte(`{"tags":["a","b"]}`),
	}}
	job, err := scanJob(row)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, job.Status)
	assert.Equal(t, 4, *job.ChunkCount)
	assert.Equal(t, 120, *job.TotalTokens)
	assert.Equal(t, 2.5, *job.ProcessingTimeSeconds)
	assert.Nil(t, job.ErrorMessage)
	assert.Equal(t, "task", *job.TaskID)
	assert.Equal(t, []any{"a", "b"}, job.Metadata["tags"])
}

func TestMetadataCodec(t *testing.T) {
	md, err := decodeMetadata(nil)
	require.NoError(t, err)
	assert.Empty(t, md)

	md, err = decodeMetadata([]byte("null"))
	require.NoError(t, err)
	assert.NotNil(t, md)

	raw, err := encodeMetadata(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(raw))

	_, err = decodeMetadata([]byte("[1]"))
	assert.Error(t, err)
}

func TestMemoryJobRepositoryFindLatestByURL(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryJobRepository()
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := t0
	repo.SetClock(func() time.Time { return clock })

	_, err := repo.FindLatestByURL(ctx, "https://example.com")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	_, err = repo.Create(ctx, "https://example.com", nil)
	require.NoError(t, err)
	clock = t0.Add(time.Minute)
	second, err := repo.Create(ctx, "https://example.com", nil)
	require.NoError(t, err)
	_, err = repo.Create(ctx, "https://other.example.com", nil)
	require.NoError(t, err)

	got, err := repo.FindLatestByURL(ctx, "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
}
