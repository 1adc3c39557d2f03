package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"webrag-go/internal/model"
	"webrag-go/internal/service"
	"webrag-go/pkg/errs"
	"webrag-go/pkg/log"
)

// IngestHandler 处理抓取任务的提交与状态查询。
type IngestHandler struct {
	ingestService service.IngestService
}

// NewIngestHandler 创建一个新的 IngestHandler 实例。
func NewIngestHandler(ingestService service.IngestService) *IngestHandler {
	return &IngestHandler{ingestService: ingestService}
}

// IngestURL 处理 POST /ingest-url。
func (h *IngestHandler) IngestURL(c *gin.Context) {
	var req model.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("[IngestHandler] 请求体解析失败: %v", err)
		writeError(c, errs.Validationf("invalid request body: %v", err))
		return
	}

	resp, err := h.ingestService.Submit(c.Request.Context(), req)
	if err != nil {
		log.Errorf("[IngestHandler] 提交任务失败, URL: %s, Error: %v", req.URL, err)
		writeError(c, err)
		return
	}
	log.Infof("[IngestHandler] 任务已受理, JobID: %s", resp.JobID)
	c.JSON(http.StatusAccepted, resp)
}

// GetStatus 处理 GET /status/:job_id。
func (h *IngestHandler) GetStatus(c *gin.Context) {
	resp, err := h.ingestService.GetStatus(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
