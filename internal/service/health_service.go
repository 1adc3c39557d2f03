package service

import (
	"context"
	"sync"
	"time"

	"webrag-go/internal/model"
)

// HealthCheck 检查一个依赖是否可用。
type HealthCheck func(ctx context.Context) error

// HealthService 汇总各依赖的健康状态。
type HealthService interface {
	Check(ctx context.Context) model.HealthResponse
}

type healthService struct {
	checks  map[string]HealthCheck
	version string
	timeout time.Duration
}

// NewHealthService 创建一个新的 HealthService 实例。
func NewHealthService(checks map[string]HealthCheck, version string) HealthService {
	return &healthService{checks: checks, version: version, timeout: 2 * time.Second}
}

// Check 并发执行所有检查；任一失败时整体状态为 degraded。
func (s *healthService) Check(ctx context.Context) model.HealthResponse {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		services = make(map[string]model.ServiceHealth, len(s.checks))
	)
	for name, check := range s.checks {
		wg.Add(1)
		go func(name string, check HealthCheck) {
			defer wg.Done()
			h := model.ServiceHealth{OK: true}
			if err := check(ctx); err != nil {
				h = model.ServiceHealth{OK: false, Error: err.Error()}
			}
			mu.Lock()
			services[name] = h
			mu.Unlock()
		}(name, check)
	}
	wg.Wait()

	status := "ok"
	for _, h := range services {
		if !h.OK {
			status = "degraded"
			break
		}
	}
	return model.HealthResponse{
		Status:    status,
		Services:  services,
		Timestamp: model.UTCTime(time.Now()),
		Version:   s.version,
	}
}
