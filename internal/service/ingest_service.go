// Package service 提供了抓取与问答相关的业务逻辑。
package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"webrag-go/internal/model"
	"webrag-go/internal/repository"
	"webrag-go/pkg/errs"
	"webrag-go/pkg/log"
	"webrag-go/pkg/tasks"
)

// EstimatedIngestSeconds 是返回给调用方的预估处理时间。
const EstimatedIngestSeconds = 30

// TaskQueue 把抓取任务交给 worker。
type TaskQueue interface {
	Enqueue(ctx context.Context, task tasks.IngestTask) (string, error)
}

// IngestService 接口定义了提交抓取任务与查询任务状态的操作。
type IngestService interface {
	Submit(ctx context.Context, req model.IngestRequest) (*model.IngestResponse, error)
	GetStatus(ctx context.Context, jobID string) (*model.JobStatusResponse, error)
}

type ingestService struct {
	jobs  repository.JobRepository
	queue TaskQueue
}

// NewIngestService 创建一个新的 IngestService 实例。
func NewIngestService(jobs repository.JobRepository, queue TaskQueue) IngestService {
	return &ingestService{jobs: jobs, queue: queue}
}

// ValidateURL 要求 http/https 协议且 host 非空。
func ValidateURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return errs.Validationf("Invalid URL provided")
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errs.Validationf("Invalid URL provided")
	}
	return nil
}

// Submit 创建 pending 任务并投递到队列。投递失败时尽力把任务标记为 failed。
func (s *ingestService) Submit(ctx context.Context, req model.IngestRequest) (*model.IngestResponse, error) {
	if err := ValidateURL(req.URL); err != nil {
		return nil, err
	}
	rawURL := strings.TrimSpace(req.URL)

	job, err := s.jobs.Create(ctx, rawURL, req.Metadata)
	if err != nil {
		log.Errorf("[IngestService] 创建任务失败, URL: %s, Error: %v", rawURL, err)
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	log.Infof("[IngestService] 任务已创建, JobID: %s, URL: %s", job.ID, rawURL)

	taskID, err := s.queue.Enqueue(ctx, tasks.IngestTask{JobID: job.ID, URL: rawURL})
	if err != nil {
		log.Errorf("[IngestService] 投递任务失败, JobID: %s, Error: %v", job.ID, err)
		msg := err.Error()
		if _, uerr := s.jobs.Update(context.WithoutCancel(ctx), job.ID, model.JobUpdate{
			Status:       model.StatusPtr(model.JobStatusFailed),
			ErrorMessage: &msg,
		}); uerr != nil {
			log.Errorf("[IngestService] 标记任务失败状态失败, JobID: %s, Error: %v", job.ID, uerr)
		}
		return nil, fmt.Errorf("failed to enqueue ingestion task: %w", err)
	}

	// 只写 task_id，不改变状态：worker 可能已经开始处理
	if _, err := s.jobs.Update(ctx, job.ID, model.JobUpdate{TaskID: &taskID}); err != nil {
		log.Warnf("[IngestService] 记录 task_id 失败, JobID: %s, Error: %v", job.ID, err)
	}

	return &model.IngestResponse{
		JobID:                job.ID,
		Status:               model.JobStatusPending,
		Message:              "Job accepted",
		EstimatedTimeSeconds: EstimatedIngestSeconds,
	}, nil
}

// GetStatus 返回任务的对外视图。
func (s *ingestService) GetStatus(ctx context.Context, jobID string) (*model.JobStatusResponse, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, errs.Validationf("invalid job id %q", jobID)
	}
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	resp := model.NewJobStatusResponse(job)
	return &resp, nil
}
