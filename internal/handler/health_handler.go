package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"webrag-go/internal/service"
)

// HealthHandler 暴露健康检查与指标。
type HealthHandler struct {
	healthService service.HealthService
}

// NewHealthHandler 创建一个新的 HealthHandler 实例。
func NewHealthHandler(healthService service.HealthService) *HealthHandler {
	return &HealthHandler{healthService: healthService}
}

// Health 处理 GET /health。依赖不可用时仍返回 200，状态为 degraded。
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, h.healthService.Check(c.Request.Context()))
}

// Metrics 处理 GET /metrics。
func Metrics() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
