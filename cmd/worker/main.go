// Package main 是抓取 worker 的入口点：消费 Kafka 任务，执行抓取、切块、向量化与入库。
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"webrag-go/internal/bootstrap"
	"webrag-go/internal/config"
	"webrag-go/internal/metrics"
	"webrag-go/internal/pipeline"
	"webrag-go/internal/repository"
	"webrag-go/pkg/chunker"
	"webrag-go/pkg/database"
	"webrag-go/pkg/fetcher"
	"webrag-go/pkg/kafka"
	"webrag-go/pkg/log"
	"webrag-go/pkg/storage"
)

func main() {
	// 1. 初始化配置与日志
	config.Init("./configs/config.yaml")
	cfg := config.Conf
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath, "worker")
	defer log.Sync()
	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. 初始化任务台账和 Redis
	sqlDB, err := database.OpenSQL(cfg.Database.MySQL)
	if err != nil {
		log.Fatal("连接 MySQL 失败", err)
	}
	defer sqlDB.Close()
	jobRepo := repository.NewSQLJobRepository(sqlDB)
	database.InitRedis(cfg.Database.Redis)

	// 3. 初始化处理管道的依赖
	var archive pipeline.RawArchive
	if cfg.MinIO.Enabled {
		a, err := storage.InitMinIO(ctx, cfg.MinIO)
		if err != nil {
			log.Fatal("MinIO 初始化失败", err)
		}
		archive = a
	}

	splitter, err := chunker.New(cfg.Chunker.ChunkSize, cfg.Chunker.ChunkOverlap)
	if err != nil {
		log.Fatal("切块器配置错误", err)
	}

	embeddingClient, err := bootstrap.NewEmbeddingClient(ctx, cfg.Embedding, nil)
	if err != nil {
		log.Fatal("Embedding 客户端初始化失败", err)
	}
	defer embeddingClient.Close()

	store, err := bootstrap.OpenVectorStore(cfg)
	if err != nil {
		log.Fatal("向量库初始化失败", err)
	}
	defer store.Close()
	if err := bootstrap.EnsureCollection(ctx, store); err != nil {
		log.Fatal("向量集合初始化失败", err)
	}

	processor := pipeline.NewProcessor(
		jobRepo,
		fetcher.NewClient(cfg.Fetcher),
		splitter,
		embeddingClient,
		store,
		archive,
		cfg.Worker.TaskTimeout,
	)

	// 4. 启动 Kafka 消费者与卡死任务清理器
	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Worker, processor, kafka.NewRedisAttemptCounter(database.RDB))
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return consumer.Run(gctx) })
	if cfg.Reaper.Enabled {
		reaper := pipeline.NewReaper(jobRepo, database.NewRedisLocker(database.RDB), cfg.Reaper, cfg.Worker.TaskTimeout)
		g.Go(func() error {
			reaper.Run(gctx)
			return nil
		})
	}

	log.Infof("Worker 已启动, topic=%s, group=%s, concurrency=%d", cfg.Kafka.Topic, cfg.Kafka.GroupID, cfg.Worker.Concurrency)
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Errorf("Worker 异常退出: %v", err)
		return
	}
	log.Info("Worker 已优雅关闭")
}
