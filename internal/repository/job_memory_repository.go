package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"webrag-go/internal/model"
	"webrag-go/pkg/errs"
)

// MemoryJobRepository 是进程内的 JobRepository 实现，用于测试与单机调试。
type MemoryJobRepository struct {
	mu   sync.Mutex
	jobs map[string]*model.IngestionJob
	now  func() time.Time
}

// NewMemoryJobRepository 创建一个空的内存台账。
func NewMemoryJobRepository() *MemoryJobRepository {
	return &MemoryJobRepository{jobs: make(map[string]*model.IngestionJob), now: utcNow}
}

// SetClock 替换时间来源。
func (r *MemoryJobRepository) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

func (r *MemoryJobRepository) Create(_ context.Context, url string, metadata map[string]any) (*model.IngestionJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job := model.NewIngestionJob(uuid.NewString(), url, metadata, r.now())
	r.jobs[job.ID] = job
	return cloneJob(job), nil
}

func (r *MemoryJobRepository) Update(_ context.Context, id string, u model.JobUpdate) (*model.IngestionJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: job %s", errs.ErrNotFound, id)
	}
	job := cloneJob(stored)
	if err := job.Apply(u, r.now()); err != nil {
		return nil, err
	}
	r.jobs[id] = job
	return cloneJob(job), nil
}

func (r *MemoryJobRepository) Get(_ context.Context, id string) (*model.IngestionJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: job %s", errs.ErrNotFound, id)
	}
	return cloneJob(job), nil
}

func (r *MemoryJobRepository) FindLatestByURL(_ context.Context, url string) (*model.IngestionJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *model.IngestionJob
	for _, j := range r.jobs {
		if j.URL == url && (latest == nil || j.CreatedAt.After(latest.CreatedAt)) {
			latest = j
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: job for %s", errs.ErrNotFound, url)
	}
	return cloneJob(latest), nil
}

func (r *MemoryJobRepository) ListStale(_ context.Context, startedBefore time.Time, limit int) ([]model.IngestionJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.IngestionJob
	for _, j := range r.jobs {
		if j.Status == model.JobStatusProcessing && j.StartedAt != nil && j.StartedAt.Before(startedBefore) {
			out = append(out, *cloneJob(j))
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].StartedAt.Before(*out[b].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryJobRepository) Ping(context.Context) error { return nil }

// cloneJob 复制指针字段，避免调用方修改内部状态。
func cloneJob(j *model.IngestionJob) *model.IngestionJob {
	c := *j
	md := make(map[string]any, len(j.Metadata))
	for k, v := range j.Metadata {
		md[k] = v
	}
	c.Metadata = md
	return &c
}

var _ JobRepository = (*MemoryJobRepository)(nil)
