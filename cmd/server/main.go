// Package main 是 API 服务的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"webrag-go/internal/bootstrap"
	"webrag-go/internal/config"
	"webrag-go/internal/handler"
	"webrag-go/internal/metrics"
	"webrag-go/internal/model"
	"webrag-go/internal/repository"
	"webrag-go/internal/service"
	"webrag-go/pkg/database"
	"webrag-go/pkg/kafka"
	"webrag-go/pkg/llm"
	"webrag-go/pkg/log"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath, "server")
	defer log.Sync()
	log.Info("日志记录器初始化成功")
	metrics.Register()

	// 3. 初始化数据库、Redis 和 Kafka 生产者
	database.InitMySQL(cfg.Database.MySQL)
	if cfg.Database.MySQL.AutoMigrate {
		if err := database.DB.AutoMigrate(&model.IngestionJob{}); err != nil {
			log.Fatal("任务表迁移失败", err)
		}
	}
	database.InitRedis(cfg.Database.Redis)
	producer := kafka.NewProducer(cfg.Kafka)
	defer producer.Close()

	// 4. 初始化向量库、Embedding 与 LLM
	initCtx, cancelInit := context.WithCancel(context.Background())
	defer cancelInit()

	store, err := bootstrap.OpenVectorStore(cfg)
	if err != nil {
		log.Fatal("向量库初始化失败", err)
	}
	defer store.Close()
	if err := bootstrap.EnsureCollection(initCtx, store); err != nil {
		log.Fatal("向量集合初始化失败", err)
	}

	embeddingClient, err := bootstrap.NewEmbeddingClient(initCtx, cfg.Embedding, database.RDB)
	if err != nil {
		log.Fatal("Embedding 客户端初始化失败", err)
	}
	defer embeddingClient.Close()

	llmClient, err := llm.NewFromConfig(initCtx, cfg.LLM)
	if err != nil {
		log.Fatal("LLM 客户端初始化失败", err)
	}
	defer llmClient.Close()

	// 5. 初始化 Repository 和 Service
	jobRepo := repository.NewJobRepository(database.DB)
	ingestService := service.NewIngestService(jobRepo, producer)
	queryService := service.NewQueryService(embeddingClient, store, llmClient, cfg.Query)
	healthService := service.NewHealthService(map[string]service.HealthCheck{
		"mysql": jobRepo.Ping,
		"redis": func(ctx context.Context) error { return database.RDB.Ping(ctx).Err() },
		"kafka": func(ctx context.Context) error { return kafka.Ping(ctx, cfg.Kafka) },
		"vector_store": store.Ping,
	}, cfg.Server.Version)

	// 6. 初始化导入种子 URL，已导入则跳过
	if cfg.Seed.URLsFile != "" {
		go func() {
			n, err := service.SeedURLs(initCtx, cfg.Seed.URLsFile, jobRepo, ingestService)
			if err != nil {
				log.Warnf("种子 URL 导入中断: %v", err)
				return
			}
			log.Infof("种子 URL 导入完成, 新提交 %d 个", n)
		}()
	}

	// 7. 设置 Gin 模式并注册路由
	gin.SetMode(cfg.Server.Mode)
	r := handler.NewRouter(
		handler.NewIngestHandler(ingestService),
		handler.NewQueryHandler(queryService),
		handler.NewHealthHandler(healthService),
	)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")
	cancelInit()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("HTTP 服务器关闭失败", err)
	}
	log.Info("服务已优雅关闭")
}
