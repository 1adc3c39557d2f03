// Package storage提供了与对象存储服务（如 MinIO）交互的功能。
package storage

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"webrag-go/internal/config"
	"webrag-go/pkg/log"
)

// RawArchive 把抓取到的原始网页归档到 MinIO，键为 raw/<job_id>.html。
type RawArchive struct {
	client *minio.Client
	bucket string
}

// InitMinIO 初始化 MinIO 客户端并确保指定的存储桶存在。
func InitMinIO(ctx context.Context, cfg config.MinIOConfig) (*RawArchive, error) {
	// 1. 初始化 MinIO 客户端
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 MinIO 客户端失败: %w", err)
	}
	log.Info("MinIO 客户端初始化成功")

	// 2. 检查存储桶 (Bucket) 是否存在，如果不存在则创建
	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("检查 MinIO 存储桶失败: %w", err)
	}
	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", cfg.BucketName)
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("创建 MinIO 存储桶失败: %w", err)
		}
		log.Infof("存储桶 '%s' 创建成功", cfg.BucketName)
	} else {
		log.Infof("存储桶 '%s' 已存在", cfg.BucketName)
	}
	return &RawArchive{client: client, bucket: cfg.BucketName}, nil
}

// ObjectName 返回任务原始网页的对象名。
func ObjectName(jobID string) string {
	return "raw/" + jobID + ".html"
}

// PutRawPage 上传原始网页。同一任务重复执行时覆盖旧对象。
func (a *RawArchive) PutRawPage(ctx context.Context, jobID, sourceURL, body string) error {
	_, err := a.client.PutObject(ctx, a.bucket, ObjectName(jobID), bytes.NewReader([]byte(body)), int64(len(body)),
		minio.PutObjectOptions{
			ContentType:  "text/html; charset=utf-8",
			UserMetadata: map[string]string{"source-url": sourceURL},
		})
	if err != nil {
		return fmt.Errorf("put %s: %w", ObjectName(jobID), err)
	}
	return nil
}
