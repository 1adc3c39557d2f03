// Package model 定义了与数据库表对应的 Go 结构体以及 HTTP 层的数据传输对象。
package model

import (
	"fmt"
	"time"

	"webrag-go/pkg/errs"
)

// JobStatus 是抓取任务的状态。
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Valid 判断状态值是否合法。
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// Terminal 表示 completed 或 failed。
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransition 判断状态迁移是否合法。
// 终态回到 processing 只发生在同一任务被重复投递时。
func CanTransition(from, to JobStatus) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	switch from {
	case JobStatusPending:
		return to == JobStatusProcessing || to == JobStatusFailed
	case JobStatusProcessing:
		return to.Terminal()
	case JobStatusCompleted, JobStatusFailed:
		return to == JobStatusProcessing
	}
	return false
}

// IngestionJob 定义了 url_ingestion_jobs 表的 ORM 模型。
type IngestionJob struct {
	ID                    string         `gorm:"type:char(36);primaryKey" json:"job_id"`
	URL                   string         `gorm:"type:varchar(2048);not null" json:"url"`
	Status                JobStatus      `gorm:"type:varchar(20);not null;default:pending;index" json:"status"`
	CreatedAt             time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt             time.Time      `gorm:"not null" json:"updated_at"`
	StartedAt             *time.Time     `gorm:"default:null" json:"started_at"`
	CompletedAt           *time.Time     `gorm:"default:null" json:"completed_at"`
	ChunkCount            *int           `gorm:"default:null" json:"chunk_count"`
	TotalTokens           *int           `gorm:"default:null" json:"total_tokens"`
	ProcessingTimeSeconds *float64       `gorm:"default:null" json:"processing_time_seconds"`
	ErrorMessage          *string        `gorm:"type:text" json:"error_message"`
	ErrorTraceback        *string        `gorm:"type:text" json:"error_traceback"`
	TaskID                *string        `gorm:"type:varchar(64)" json:"task_id"`
	Metadata              map[string]any `gorm:"type:json;serializer:json" json:"metadata"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (IngestionJob) TableName() string {
	return "url_ingestion_jobs"
}

// NewIngestionJob 创建一个 pending 状态的任务。
func NewIngestionJob(id, url string, metadata map[string]any, now time.Time) *IngestionJob {
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &IngestionJob{
		ID:        id,
		URL:       url,
		Status:    JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  metadata,
	}
}

// JobUpdate 描述一次部分更新；nil 字段保持不变。
type JobUpdate struct {
	Status                *JobStatus
	StartedAt             *time.Time
	ChunkCount            *int
	TotalTokens           *int
	ProcessingTimeSeconds *float64
	ErrorMessage          *string
	ErrorTraceback        *string
	TaskID                *string
	// ClearError 清空 error_message 与 error_traceback。
	ClearError bool
	// ExpectStatus 非空时，仅当当前状态与之相同才应用更新。
	ExpectStatus *JobStatus
}

// Apply 在内存中应用更新。completed_at 仅在终态时有值，chunk_count、total_tokens 与
// processing_time_seconds 在进入 processing 时清空，updated_at 总是刷新。
func (j *IngestionJob) Apply(u JobUpdate, now time.Time) error {
	if u.ExpectStatus != nil && j.Status != *u.ExpectStatus {
		return fmt.Errorf("%w: job %s is %s, expected %s", errs.ErrInvalidTransition, j.ID, j.Status, *u.ExpectStatus)
	}
	if u.Status != nil {
		if !CanTransition(j.Status, *u.Status) {
			return fmt.Errorf("%w: job %s cannot move from %s to %s", errs.ErrInvalidTransition, j.ID, j.Status, *u.Status)
		}
		j.Status = *u.Status
		if j.Status.Terminal() {
			t := now
			j.CompletedAt = &t
		} else {
			j.CompletedAt = nil
		}
		// 重新进入 processing 时丢弃上一次运行的结果
		if j.Status == JobStatusProcessing {
			j.ChunkCount = nil
			j.TotalTokens = nil
			j.ProcessingTimeSeconds = nil
		}
	}
	if u.StartedAt != nil {
		j.StartedAt = u.StartedAt
	}
	if u.ChunkCount != nil {
		j.ChunkCount = u.ChunkCount
	}
	if u.TotalTokens != nil {
		j.TotalTokens = u.TotalTokens
	}
	if u.ProcessingTimeSeconds != nil {
		j.ProcessingTimeSeconds = u.ProcessingTimeSeconds
	}
	if u.ClearError {
		j.ErrorMessage = nil
		j.ErrorTraceback = nil
	}
	if u.ErrorMessage != nil {
		j.ErrorMessage = u.ErrorMessage
	}
	if u.ErrorTraceback != nil {
		j.ErrorTraceback = u.ErrorTraceback
	}
	if u.TaskID != nil {
		j.TaskID = u.TaskID
	}
	j.UpdatedAt = now
	return nil
}

// StatusPtr 返回状态的指针，便于构造 JobUpdate。
func StatusPtr(s JobStatus) *JobStatus { return &s }
