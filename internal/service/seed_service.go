package service

import (
	"bufio"
	"context"
	"errors"
	"os"
	"strings"

	"webrag-go/internal/model"
	"webrag-go/internal/repository"
	"webrag-go/pkg/errs"
	"webrag-go/pkg/log"
)

// SeedURLs 读取文件中的 URL（每行一个，# 开头为注释）并提交抓取（幂等）。
// 已存在未失败任务的 URL 会被跳过；返回新提交的数量。
func SeedURLs(ctx context.Context, path string, jobs repository.JobRepository, ingest IngestService) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Infof("SeedURLs: 文件 '%s' 不存在，跳过初始化导入", path)
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()

	submitted := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return submitted, ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// 幂等检查：已有未失败的任务则跳过
		existing, err := jobs.FindLatestByURL(ctx, line)
		if err == nil && existing.Status != model.JobStatusFailed {
			log.Infof("SeedURLs: 已存在，跳过: %s (job_id=%s, status=%s)", line, existing.ID, existing.Status)
			continue
		}
		if err != nil && !errors.Is(err, errs.ErrNotFound) {
			log.Warnf("SeedURLs: 查询已有任务失败: %s, err=%v", line, err)
			continue
		}

		resp, err := ingest.Submit(ctx, model.IngestRequest{URL: line, Metadata: map[string]any{"seeded": true}})
		if err != nil {
			log.Warnf("SeedURLs: 提交失败: %s, err=%v", line, err)
			continue
		}
		submitted++
		log.Infof("SeedURLs: 已提交: %s (job_id=%s)", line, resp.JobID)
	}
	return submitted, scanner.Err()
}
