// Package handler 存放 HTTP 处理函数。
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"webrag-go/pkg/errs"
)

// statusFor 把错误分类映射为 HTTP 状态码。
func statusFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrNotFound), errors.Is(err, errs.ErrNoRelevantDocuments):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeError 输出统一的错误体；stage 仅在查询链路的阶段错误上出现。
func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	body := gin.H{"code": status, "message": err.Error()}
	if stage := errs.StageOf(err); stage != "" {
		body["stage"] = stage
	}
	c.JSON(status, body)
}
