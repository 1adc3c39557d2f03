package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"webrag-go/internal/config"
	"webrag-go/internal/metrics"
	"webrag-go/internal/model"
	"webrag-go/internal/repository"
	"webrag-go/pkg/errs"
	"webrag-go/pkg/log"
)

const (
	reaperLockKey = "webrag:reaper:lock"
	// ReapedMessage 是被清理任务的 error_message。
	ReapedMessage = "worker lost: exceeded execution ceiling"
)

// Locker 保证同一时刻只有一个 worker 执行清理。
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// Reaper 把超过执行上限仍停留在 processing 的任务标记为 failed。
// worker 被强制终止时任务不会走到终态，由它兜底。
type Reaper struct {
	jobs     repository.JobRepository
	locker   Locker
	interval time.Duration
	ceiling  time.Duration
	batch    int
	now      func() time.Time
}

// NewReaper 创建清理器。locker 为 nil 时不加锁。
func NewReaper(jobs repository.JobRepository, locker Locker, cfg config.ReaperConfig, taskTimeout time.Duration) *Reaper {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 100
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reaper{
		jobs:     jobs,
		locker:   locker,
		interval: interval,
		ceiling:  taskTimeout + cfg.Grace,
		batch:    batch,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run 周期性执行 Sweep，直到 ctx 被取消。
func (r *Reaper) Run(ctx context.Context) {
	log.Infof("[Reaper] 已启动, interval=%s, ceiling=%s", r.interval, r.ceiling)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("[Reaper] 退出")
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				log.Errorf("[Reaper] 清理失败: %v", err)
			}
		}
	}
}

// Sweep 执行一次清理，返回被标记为 failed 的任务数。
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	if r.locker != nil {
		ok, err := r.locker.TryLock(ctx, reaperLockKey, r.interval)
		if err != nil {
			return 0, fmt.Errorf("acquire reaper lock: %w", err)
		}
		if !ok {
			return 0, nil
		}
		defer func() {
			if err := r.locker.Unlock(context.WithoutCancel(ctx), reaperLockKey); err != nil {
				log.Warnf("[Reaper] 释放锁失败: %v", err)
			}
		}()
	}

	cutoff := r.now().Add(-r.ceiling)
	stale, err := r.jobs.ListStale(ctx, cutoff, r.batch)
	if err != nil {
		return 0, fmt.Errorf("list stale jobs: %w", err)
	}

	reaped := 0
	for _, job := range stale {
		msg := ReapedMessage
		traceback := fmt.Sprintf("job %s started at %s and was still processing at %s (ceiling %s)",
			job.ID, job.StartedAt.UTC().Format(time.RFC3339), r.now().Format(time.RFC3339), r.ceiling)
		_, err := r.jobs.Update(ctx, job.ID, model.JobUpdate{
			ExpectStatus:   model.StatusPtr(model.JobStatusProcessing),
			Status:         model.StatusPtr(model.JobStatusFailed),
			ErrorMessage:   &msg,
			ErrorTraceback: &traceback,
		})
		if err != nil {
			// 任务在查询后已结束
			if errors.Is(err, errs.ErrInvalidTransition) || errors.Is(err, errs.ErrNotFound) {
				continue
			}
			return reaped, fmt.Errorf("reap job %s: %w", job.ID, err)
		}
		reaped++
		log.Warnf("[Reaper] 任务超时未结束, 已标记为 failed, JobID: %s", job.ID)
	}
	if reaped > 0 {
		metrics.JobsReaped.Add(float64(reaped))
		metrics.JobsTotal.WithLabelValues(string(model.JobStatusFailed)).Add(float64(reaped))
	}
	return reaped, nil
}
