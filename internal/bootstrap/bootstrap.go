// Package bootstrap 组装 server 与 worker 共用的依赖：向量索引与向量化客户端。
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"webrag-go/internal/config"
	"webrag-go/pkg/embedding"
	"webrag-go/pkg/es"
	"webrag-go/pkg/log"
	"webrag-go/pkg/pgvector"
	"webrag-go/pkg/retry"
	"webrag-go/pkg/vectorstore"
)

// OpenVectorStore 根据 vector_store.driver 打开向量索引。
func OpenVectorStore(cfg config.Config) (vectorstore.Store, error) {
	switch cfg.VectorStore.Driver {
	case "elasticsearch":
		return es.Open(cfg.Elasticsearch, cfg.VectorStore)
	case "pgvector":
		return pgvector.Open(cfg.Postgres, cfg.VectorStore)
	case "memory":
		log.Warnf("使用内存向量索引，数据不会持久化，且不在 server 与 worker 间共享")
		return vectorstore.NewMemoryStore(cfg.VectorStore.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown vector_store.driver %q", cfg.VectorStore.Driver)
	}
}

// EnsureCollection 在启动时创建集合，依赖可能尚未就绪，按退避策略重试。
func EnsureCollection(ctx context.Context, store vectorstore.Store) error {
	return ensureCollection(ctx, store, retry.Bootstrap())
}

func ensureCollection(ctx context.Context, store vectorstore.Store, policy retry.Policy) error {
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		log.Warnf("向量集合初始化失败 (第 %d 次)，%s 后重试: %v", attempt, delay, err)
	}
	if err := policy.Do(ctx, store.EnsureCollection); err != nil {
		return fmt.Errorf("ensure vector collection: %w", err)
	}
	return nil
}

// NewEmbeddingClient 创建向量化客户端；rdb 非空且配置了 cache_ttl 时为查询向量加 Redis 缓存。
func NewEmbeddingClient(ctx context.Context, cfg config.EmbeddingConfig, rdb *redis.Client) (embedding.Client, error) {
	client, err := embedding.NewFromConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if rdb != nil && cfg.CacheTTL > 0 {
		log.Infof("查询向量缓存已启用, ttl=%s", cfg.CacheTTL)
		client = embedding.NewCachedClient(client, embedding.NewRedisCacheStore(rdb), cfg.CacheTTL)
	}
	return client, nil
}
