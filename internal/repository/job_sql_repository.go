package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"webrag-go/internal/model"
	"webrag-go/pkg/errs"
)

const jobColumns = `id, url, status, created_at, updated_at, started_at, completed_at, chunk_count,
	total_tokens, processing_time_seconds, error_message, error_traceback, task_id, metadata`

// sqlJobRepository 是 JobRepository 的 database/sql 实现，供 worker 进程使用。
// 每个操作使用独立的短事务，连接池与 API 服务进程互不共享。
type sqlJobRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLJobRepository 基于原生连接池创建 JobRepository。
func NewSQLJobRepository(db *sql.DB) JobRepository {
	return &sqlJobRepository{db: db, now: utcNow}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.IngestionJob, error) {
	var (
		j                            model.IngestionJob
		status                       string
		startedAt, completedAt       sql.NullTime
		chunkCount, totalTokens      sql.NullInt64
		procSeconds                  sql.NullFloat64
		errMsg, errTraceback, taskID sql.NullString
		metadata                     []byte
	)
	if err := row.Scan(&j.ID, &j.URL, &status, &j.CreatedAt, &j.UpdatedAt, &startedAt, &completedAt,
		&chunkCount, &totalTokens, &procSeconds, &errMsg, &errTraceback, &taskID, &metadata); err != nil {
		return nil, err
	}
	j.Status = model.JobStatus(status)
	if startedAt.Valid {
		t := startedAt.Time
		j.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	if chunkCount.Valid {
		n := int(chunkCount.Int64)
		j.ChunkCount = &n
	}
	if totalTokens.Valid {
		n := int(totalTokens.Int64)
		j.TotalTokens = &n
	}
	if procSeconds.Valid {
		f := procSeconds.Float64
		j.ProcessingTimeSeconds = &f
	}
	j.ErrorMessage = nullString(errMsg)
	j.ErrorTraceback = nullString(errTraceback)
	j.TaskID = nullString(taskID)

	md, err := decodeMetadata(metadata)
	if err != nil {
		return nil, fmt.Errorf("decode metadata of job %s: %w", j.ID, err)
	}
	j.Metadata = md
	return &j, nil
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func decodeMetadata(raw []byte) (map[string]any, error) {
	md := map[string]any{}
	if len(raw) == 0 || string(raw) == "null" {
		return md, nil
	}
	if err := json.Unmarshal(raw, &md); err != nil {
		return nil, err
	}
	return md, nil
}

func encodeMetadata(md map[string]any) ([]byte, error) {
	if md == nil {
		md = map[string]any{}
	}
	return json.Marshal(md)
}

func (r *sqlJobRepository) Create(ctx context.Context, url string, metadata map[string]any) (*model.IngestionJob, error) {
	job := model.NewIngestionJob(uuid.NewString(), url, metadata, r.now())
	md, err := encodeMetadata(job.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO url_ingestion_jobs (id, url, status, created_at, updated_at, metadata) VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, job.URL, string(job.Status), job.CreatedAt, job.UpdatedAt, md)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

func (r *sqlJobRepository) Update(ctx context.Context, id string, u model.JobUpdate) (*model.IngestionJob, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	job, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM url_ingestion_jobs WHERE id = ? FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: job %s", errs.ErrNotFound, id)
		}
		return nil, fmt.Errorf("lock job %s: %w", id, err)
	}
	if err := job.Apply(u, r.now()); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `UPDATE url_ingestion_jobs SET
		status = ?, updated_at = ?, started_at = ?, completed_at = ?, chunk_count = ?, total_tokens = ?,
		processing_time_seconds = ?, error_message = ?, error_traceback = ?, task_id = ?
		WHERE id = ?`,
		string(job.Status), job.UpdatedAt, job.StartedAt, job.CompletedAt, job.ChunkCount, job.TotalTokens,
		job.ProcessingTimeSeconds, job.ErrorMessage, job.ErrorTraceback, job.TaskID, job.ID)
	if err != nil {
		return nil, fmt.Errorf("update job %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return job, nil
}

func (r *sqlJobRepository) Get(ctx context.Context, id string) (*model.IngestionJob, error) {
	job, err := scanJob(r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM url_ingestion_jobs WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: job %s", errs.ErrNotFound, id)
		}
		return nil, err
	}
	return job, nil
}

func (r *sqlJobRepository) FindLatestByURL(ctx context.Context, url string) (*model.IngestionJob, error) {
	job, err := scanJob(r.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM url_ingestion_jobs WHERE url = ? ORDER BY created_at DESC LIMIT 1`, url))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: job for %s", errs.ErrNotFound, url)
		}
		return nil, err
	}
	return job, nil
}

func (r *sqlJobRepository) ListStale(ctx context.Context, startedBefore time.Time, limit int) ([]model.IngestionJob, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM url_ingestion_jobs WHERE status = ? AND started_at < ? ORDER BY started_at ASC LIMIT ?`,
		string(model.JobStatusProcessing), startedBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []model.IngestionJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func (r *sqlJobRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
