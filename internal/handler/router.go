package handler

import (
	"github.com/gin-gonic/gin"

	"webrag-go/internal/metrics"
	"webrag-go/internal/middleware"
)

// NewRouter 创建路由引擎并注册所有路由。
func NewRouter(ingest *IngestHandler, query *QueryHandler, health *HealthHandler) *gin.Engine {
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	// 添加自定义的日志中间件、指标中间件和 Gin 的 Recovery 中间件
	r.Use(middleware.RequestLogger(), metrics.GinMiddleware(), gin.Recovery())

	r.POST("/ingest-url", ingest.IngestURL)
	r.GET("/status/:job_id", ingest.GetStatus)
	r.POST("/query", query.Query)
	r.GET("/health", health.Health)
	r.GET("/metrics", Metrics())
	return r
}
