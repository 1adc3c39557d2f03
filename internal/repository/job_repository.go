// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"webrag-go/internal/model"
	"webrag-go/pkg/errs"
)

// JobRepository 接口定义了抓取任务台账的持久化操作。
type JobRepository interface {
	// Create 以 pending 状态创建任务。
	Create(ctx context.Context, url string, metadata map[string]any) (*model.IngestionJob, error)
	// Update 在单个事务内锁定该行、应用更新并写回。
	Update(ctx context.Context, id string, u model.JobUpdate) (*model.IngestionJob, error)
	Get(ctx context.Context, id string) (*model.IngestionJob, error)
	// FindLatestByURL 返回该 URL 最近创建的任务，不存在时返回 ErrNotFound。
	FindLatestByURL(ctx context.Context, url string) (*model.IngestionJob, error)
	// ListStale 返回 started_at 早于给定时间且仍处于 processing 的任务。
	ListStale(ctx context.Context, startedBefore time.Time, limit int) ([]model.IngestionJob, error)
	Ping(ctx context.Context) error
}

// jobRepository 是 JobRepository 接口的 GORM 实现，供 API 服务进程使用。
type jobRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewJobRepository 创建一个新的 JobRepository 实例。
func NewJobRepository(db *gorm.DB) JobRepository {
	return &jobRepository{db: db, now: utcNow}
}

func utcNow() time.Time { return time.Now().UTC() }

// Create 在数据库中创建一个新的任务记录。
func (r *jobRepository) Create(ctx context.Context, url string, metadata map[string]any) (*model.IngestionJob, error) {
	job := model.NewIngestionJob(uuid.NewString(), url, metadata, r.now())
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

// Update 使用 SELECT ... FOR UPDATE 保证同一行的读改写是原子的。
func (r *jobRepository) Update(ctx context.Context, id string, u model.JobUpdate) (*model.IngestionJob, error) {
	var job model.IngestionJob
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&job).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: job %s", errs.ErrNotFound, id)
			}
			return err
		}
		if err := job.Apply(u, r.now()); err != nil {
			return err
		}
		return tx.Save(&job).Error
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// Get 根据 ID 检索任务。
func (r *jobRepository) Get(ctx context.Context, id string) (*model.IngestionJob, error) {
	var job model.IngestionJob
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: job %s", errs.ErrNotFound, id)
		}
		return nil, err
	}
	return &job, nil
}

// FindLatestByURL 根据 URL 检索最近的任务。
func (r *jobRepository) FindLatestByURL(ctx context.Context, url string) (*model.IngestionJob, error) {
	var job model.IngestionJob
	if err := r.db.WithContext(ctx).Where("url = ?", url).Order("created_at desc").First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: job for %s", errs.ErrNotFound, url)
		}
		return nil, err
	}
	return &job, nil
}

// ListStale 查找执行超时仍未结束的任务，按 started_at 升序。
func (r *jobRepository) ListStale(ctx context.Context, startedBefore time.Time, limit int) ([]model.IngestionJob, error) {
	var jobs []model.IngestionJob
	err := r.db.WithContext(ctx).
		Where("status = ? AND started_at < ?", model.JobStatusProcessing, startedBefore).
		Order("started_at asc").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

// Ping 检查底层连接。
func (r *jobRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
