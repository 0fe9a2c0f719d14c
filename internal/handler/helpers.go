package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/baggagelens/internal/middleware"
	appErr "github.com/xxxsen/baggagelens/internal/pkg/errors"
	"github.com/xxxsen/baggagelens/internal/pkg/response"
)

func statusOf(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case appErr.IsModelUnavailable(err):
		return http.StatusServiceUnavailable
	case appErr.IsInvalidImage(err), errors.Is(err, appErr.ErrInvalidRequest), errors.As(err, &tooLarge):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	abortWithError(c, statusOf(err), err)
}

func abortWithError(c *gin.Context, status int, err error) {
	logger := logutil.GetLogger(c.Request.Context()).With(
		zap.String("request_id", middleware.GetRequestID(c)),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("status", status),
	)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		logger.Error("request failed", zap.Error(err))
	} else {
		logger.Warn("request rejected", zap.Error(err))
	}
	_ = c.Error(err)
	response.Error(c, status, err.Error())
}
