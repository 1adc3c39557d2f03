package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webrag-go/internal/model"
	"webrag-go/pkg/errs"
)

var jobColumnNames = []string{
	"id", "url", "status", "created_at", "updated_at", "started_at", "completed_at", "chunk_count",
	"total_tokens", "processing_time_seconds", "error_message", "error_traceback", "task_id", "metadata",
}

var sqlNow = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

func newSQLMockRepo(t *testing.T) (*sqlJobRepository, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &sqlJobRepository{db: db, now: func() time.Time { return sqlNow }}, mock
}

func TestSQLJobRepositoryCreate(t *testing.T) {
	repo, mock := newSQLMockRepo(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO url_ingestion_jobs (id, url, status, created_at, updated_at, metadata) VALUES (?, ?, ?, ?, ?, ?)")).
		WithArgs(sqlmock.AnyArg(), "https://example.com", "pending", sqlNow, sqlNow, []byte(`{"tag":"go"}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	job, err := repo.Create(context.Background(), "https://example.com", map[string]any{"tag": "go"})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.Len(t, job.ID, 36)
	assert.Equal(t, sqlNow, job.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLJobRepositoryUpdateLocksRowAndWritesBack(t *testing.T) {
	repo, mock := newSQLMockRepo(t)
	earlier := sqlNow.Add(-time.Hour)

	// 上一次运行已完成，重复投递时回到 processing
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM url_ingestion_jobs WHERE id = ? FOR UPDATE")).
		WithArgs("id-1").
		WillReturnRows(sqlmock.NewRows(jobColumnNames).AddRow(
			"id-1", "https://example.com", "completed", earlier, earlier, earlier, earlier,
			int64(4), int64(120), 2.5, nil, nil, "task-1", []byte(`{}`)))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE url_ingestion_jobs SET status = ?, updated_at = ?, started_at = ?, completed_at = ?, chunk_count = ?, total_tokens = ?, processing_time_seconds = ?, error_message = ?, error_traceback = ?, task_id = ? WHERE id = ?")).
		WithArgs("processing", sqlNow, sqlNow, nil, nil, nil, nil, nil, nil, "task-1", "id-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	started := sqlNow
	job, err := repo.Update(context.Background(), "id-1", model.JobUpdate{
		Status:     model.StatusPtr(model.JobStatusProcessing),
		StartedAt:  &started,
		ClearError: true,
	})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusProcessing, job.Status)
	assert.Nil(t, job.CompletedAt)
	assert.Nil(t, job.ChunkCount)
	assert.Nil(t, job.TotalTokens)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLJobRepositoryUpdateCompletesJob(t *testing.T) {
	repo, mock := newSQLMockRepo(t)
	started := sqlNow.Add(-time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM url_ingestion_jobs WHERE id = ? FOR UPDATE")).
		WithArgs("id-2").
		WillReturnRows(sqlmock.NewRows(jobColumnNames).AddRow(
			"id-2", "https://example.com", "processing", started, started, started, nil,
			nil, nil, nil, nil, nil, nil, nil))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE url_ingestion_jobs SET")).
		WithArgs("completed", sqlNow, started, sqlNow, int64(3), int64(90), 1.5, nil, nil, nil, "id-2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	chunks, tokens, secs := 3, 90, 1.5
	job, err := repo.Update(context.Background(), "id-2", model.JobUpdate{
		Status:                model.StatusPtr(model.JobStatusCompleted),
		ChunkCount:            &chunks,
		TotalTokens:           &tokens,
		ProcessingTimeSeconds: &secs,
	})
	require.NoError(t, err)
	require.NotNil(t, job.CompletedAt)
	assert.Equal(t, sqlNow, *job.CompletedAt)
	assert.NotNil(t, job.Metadata)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLJobRepositoryUpdateNotFound(t *testing.T) {
	repo, mock := newSQLMockRepo(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(jobColumnNames))
	mock.ExpectRollback()

	_, err := repo.Update(context.Background(), "missing", model.JobUpdate{})
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLJobRepositoryUpdateRejectsInvalidTransition(t *testing.T) {
	repo, mock := newSQLMockRepo(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("id-3").
		WillReturnRows(sqlmock.NewRows(jobColumnNames).AddRow(
			"id-3", "https://example.com", "pending", sqlNow, sqlNow, nil, nil,
			nil, nil, nil, nil, nil, nil, []byte(`{}`)))
	mock.ExpectRollback()

	_, err := repo.Update(context.Background(), "id-3", model.JobUpdate{Status: model.StatusPtr(model.JobStatusCompleted)})
	assert.ErrorIs(t, err, errs.ErrInvalidTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLJobRepositoryGetNotFound(t *testing.T) {
	repo, mock := newSQLMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM url_ingestion_jobs WHERE id = ?")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLJobRepositoryListStale(t *testing.T) {
	repo, mock := newSQLMockRepo(t)
	cutoff := sqlNow.Add(-10 * time.Minute)
	started := cutoff.Add(-time.Minute)

	mock.ExpectQuery(regexp.QuoteMeta("FROM url_ingestion_jobs WHERE status = ? AND started_at < ? ORDER BY started_at ASC LIMIT ?")).
		WithArgs("processing", cutoff, 20).
		WillReturnRows(sqlmock.NewRows(jobColumnNames).AddRow(
			"id-4", "https://example.com/slow", "processing", started, started, started, nil,
			nil, nil, nil, nil, nil, "task-4", []byte(`{"title":"Slow"}`)))

	jobs, err := repo.ListStale(context.Background(), cutoff, 20)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "id-4", jobs[0].ID)
	assert.Equal(t, model.JobStatusProcessing, jobs[0].Status)
	assert.Equal(t, started, *jobs[0].StartedAt)
	assert.Equal(t, "Slow", jobs[0].Metadata["title"])
	assert.NoError(t, mock.ExpectationsWereMet())
}
