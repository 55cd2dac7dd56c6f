package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"updown/internal/service"
)

type apiResponse struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    any            `json:"data,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

func Ok(c *gin.Context, data any, meta map[string]any) {
	c.JSON(http.StatusOK, apiResponse{
		Code:    0,
		Message: "ok",
		Data:    data,
		Meta:    meta,
	})
}

func Error(c *gin.Context, status int, message string, meta map[string]any) {
	c.JSON(status, apiResponse{
		Code:    status,
		Message: message,
		Meta:    meta,
	})
}

// ServiceError maps the engine's coded errors onto HTTP statuses. The
// machine-readable code travels in meta; internals never leak.
func ServiceError(c *gin.Context, err error) {
	var svcErr *service.Error
	if !errors.As(err, &svcErr) {
		Error(c, http.StatusInternalServerError, "internal error", nil)
		return
	}
	status := http.StatusInternalServerError
	switch svcErr.Code {
	case service.CodeValidation:
		status = http.StatusBadRequest
	case service.CodeVotingClosed:
		status = http.StatusConflict
	case service.CodeInsufficientBalance:
		status = http.StatusUnprocessableEntity
	case service.CodeNotFound:
		status = http.StatusNotFound
	case service.CodeUpstreamFetch:
		status = http.StatusBadGateway
	}
	Error(c, status, svcErr.Message, map[string]any{"code": svcErr.Code})
}
