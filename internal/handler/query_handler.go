package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"webrag-go/internal/model"
	"webrag-go/internal/service"
	"webrag-go/pkg/errs"
	"webrag-go/pkg/log"
)

// QueryHandler 处理问答请求。
type QueryHandler struct {
	queryService service.QueryService
}

// NewQueryHandler 创建一个新的 QueryHandler 实例。
func NewQueryHandler(queryService service.QueryService) *QueryHandler {
	return &QueryHandler{queryService: queryService}
}

// Query 处理 POST /query。
func (h *QueryHandler) Query(c *gin.Context) {
	var req model.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errs.Validationf("invalid request body: %v", err))
		return
	}

	resp, err := h.queryService.Query(c.Request.Context(), req)
	if err != nil {
		log.Errorf("[QueryHandler] 查询失败, stage: %s, Error: %v", errs.StageOf(err), err)
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
