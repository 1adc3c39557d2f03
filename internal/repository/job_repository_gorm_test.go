package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"webrag-go/internal/model"
	"webrag-go/pkg/errs"
)

const lockQuery = "SELECT * FROM `url_ingestion_jobs` WHERE id = ?"

func newGormMockRepo(t *testing.T) (*jobRepository, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	gdb, err := gorm.Open(mysql.New(mysql.Config{Conn: db, SkipInitializeWithVersion: true}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return &jobRepository{db: gdb, now: func() time.Time { return sqlNow }}, mock
}

func TestGormJobRepositoryCreate(t *testing.T) {
	repo, mock := newGormMockRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `url_ingestion_jobs`")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	job, err := repo.Create(context.Background(), "https://example.com", nil)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.NotNil(t, job.Metadata)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormJobRepositoryUpdateUsesRowLock(t *testing.T) {
	repo, mock := newGormMockRepo(t)
	earlier := sqlNow.Add(-time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockQuery) + ".*FOR UPDATE").
		WillReturnRows(sqlmock.NewRows(jobColumnNames).AddRow(
			"id-1", "https://example.com", "failed", earlier, earlier, earlier, earlier,
			int64(2), int64(40), 0.8, "boom", "stage: fetch", "task-1", []byte(`{"tag":"go"}`)))
	mock.ExpectExec("UPDATE `url_ingestion_jobs` SET .*`status`=\\?.*`completed_at`=\\?.*`chunk_count`=\\?.*WHERE .*`id` = \\?").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	job, err := repo.Update(context.Background(), "id-1", model.JobUpdate{
		Status:     model.StatusPtr(model.JobStatusProcessing),
		ClearError: true,
	})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusProcessing, job.Status)
	assert.Nil(t, job.CompletedAt)
	assert.Nil(t, job.ChunkCount)
	assert.Nil(t, job.ErrorMessage)
	assert.Equal(t, "go", job.Metadata["tag"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormJobRepositoryUpdateNotFound(t *testing.T) {
	repo, mock := newGormMockRepo(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockQuery) + ".*FOR UPDATE").
		WillReturnRows(sqlmock.NewRows(jobColumnNames))
	mock.ExpectRollback()

	_, err := repo.Update(context.Background(), "missing", model.JobUpdate{})
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormJobRepositoryUpdateRejectsInvalidTransition(t *testing.T) {
	repo, mock := newGormMockRepo(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockQuery) + ".*FOR UPDATE").
		WillReturnRows(sqlmock.NewRows(jobColumnNames).AddRow(
			"id-2", "https://example.com", "pending", sqlNow, sqlNow, nil, nil,
			nil, nil, nil, nil, nil, nil, []byte(`{}`)))
	mock.ExpectRollback()

	_, err := repo.Update(context.Background(), "id-2", model.JobUpdate{Status: model.StatusPtr(model.JobStatusCompleted)})
	assert.ErrorIs(t, err, errs.ErrInvalidTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormJobRepositoryListStale(t *testing.T) {
	repo, mock := newGormMockRepo(t)
	cutoff := sqlNow.Add(-10 * time.Minute)
	started := cutoff.Add(-time.Minute)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `url_ingestion_jobs` WHERE status = ? AND started_at < ? ORDER BY started_at asc")).
		WillReturnRows(sqlmock.NewRows(jobColumnNames).AddRow(
			"id-3", "https://example.com/slow", "processing", started, started, started, nil,
			nil, nil, nil, nil, nil, nil, []byte(`{}`)))

	jobs, err := repo.ListStale(context.Background(), cutoff, 5)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "id-3", jobs[0].ID)
	assert.Equal(t, model.JobStatusProcessing, jobs[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}
