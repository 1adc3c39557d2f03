// Package metrics 定义 server 与 worker 共用的 Prometheus 指标。
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "webrag"

var (
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path", "status"},
	)

	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingestion_jobs_total",
			Help:      "Ingestion jobs by terminal status",
		},
		[]string{"status"},
	)

	JobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingestion_job_duration_seconds",
			Help:      "Wall time from start of processing to terminal status",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	ChunksIndexed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_indexed_total",
			Help:      "Vector points upserted into the index",
		},
	)

	JobsReaped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingestion_jobs_reaped_total",
			Help:      "Jobs failed by the stuck-job reaper",
		},
	)

	EmbeddingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_requests_total",
			Help:      "Embedding provider calls",
		},
		[]string{"provider", "task", "status"},
	)

	EmbeddingRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_retries_total",
			Help:      "Embedding retries by error class",
		},
		[]string{"provider", "class"},
	)

	EmbeddingRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedding_request_duration_seconds",
			Help:      "Embedding provider call duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"provider"},
	)

	EmbeddingCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_total",
			Help:      "Query embedding cache hits and misses",
		},
		[]string{"result"},
	)

	QueryStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_stage_duration_seconds",
			Help:      "Query pipeline stage duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"stage"},
	)

	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Queries by outcome",
		},
		[]string{"outcome"},
	)
)

var registerOnce sync.Once

// Register 注册所有指标，多次调用只生效一次。在 main 中调用。
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestDuration,
			JobsTotal,
			JobDuration,
			ChunksIndexed,
			JobsReaped,
			EmbeddingRequestsTotal,
			EmbeddingRetriesTotal,
			EmbeddingRequestDuration,
			EmbeddingCacheTotal,
			QueryStageDuration,
			QueriesTotal,
		)
	})
}

// GinMiddleware 记录每个请求的耗时。path 使用路由模板以控制标签基数。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}
		HTTPRequestDuration.
			WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

// ObserveStage 返回一个在调用时记录阶段耗时的函数，用法：defer metrics.ObserveStage("search")()
func ObserveStage(stage string) func() {
	start := time.Now()
	return func() {
		QueryStageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}
