package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	appErr "github.com/xxxsen/baggagelens/internal/pkg/errors"
)

func formatUploadLimit(bytes int64) string {
	const mb = 1024 * 1024
	if bytes <= 0 {
		return "0MB"
	}
	value := bytes / mb
	if value <= 0 {
		value = 1
	}
	return strconv.FormatInt(value, 10) + "MB"
}

// parseUpload caps the request body and parses the multipart form.
func parseUpload(c *gin.Context, limit int64) error {
	if limit > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	}
	if _, err := c.MultipartForm(); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: upload exceeds %s", appErr.ErrInvalidRequest, formatUploadLimit(limit))
		}
		return fmt.Errorf("%w: multipart form expected: %v", appErr.ErrInvalidRequest, err)
	}
	return nil
}
