package handler

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	appErr "github.com/xxxsen/baggagelens/internal/pkg/errors"
	"github.com/xxxsen/baggagelens/internal/pkg/response"
	"github.com/xxxsen/baggagelens/internal/service"
)

type SiameseHandler struct {
	compare     *service.CompareService
	uploadLimit int64
}

func NewSiameseHandler(compare *service.CompareService, maxUploadMB int) *SiameseHandler {
	return &SiameseHandler{compare: compare, uploadLimit: int64(maxUploadMB) << 20}
}

func (h *SiameseHandler) Health(c *gin.Context) {
	response.Success(c, http.StatusOK, h.compare.Health())
}

func readUpload(fh *multipart.FileHeader) (service.Image, error) {
	f, err := fh.Open()
	if err != nil {
		return service.Image{}, fmt.Errorf("%w: open %s: %v", appErr.ErrInvalidRequest, fh.Filename, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return service.Image{}, fmt.Errorf("%w: read %s: %v", appErr.ErrInvalidRequest, fh.Filename, err)
	}
	return service.Image{Name: fh.Filename, Data: data}, nil
}

// formImages returns the files uploaded under field, at least one.
func formImages(c *gin.Context, field string) ([]service.Image, error) {
	form := c.Request.MultipartForm
	if form == nil || len(form.File[field]) == 0 {
		return nil, fmt.Errorf("%w: %s is required", appErr.ErrInvalidRequest, field)
	}
	out := make([]service.Image, 0, len(form.File[field]))
	for _, fh := range form.File[field] {
		img, err := readUpload(fh)
		if err != nil {
			return nil, err
		}
		out = append(out, img)
	}
	return out, nil
}

func formImage(c *gin.Context, field string) (service.Image, error) {
	imgs, err := formImages(c, field)
	if err != nil {
		return service.Image{}, err
	}
	return imgs[0], nil
}

// withUpload checks availability before touching the body so a missing
// model answers 503 whatever was uploaded.
func (h *SiameseHandler) withUpload(c *gin.Context) bool {
	if !h.compare.Available() {
		handleError(c, appErr.ErrModelUnavailable)
		return false
	}
	if err := parseUpload(c, h.uploadLimit); err != nil {
		handleError(c, err)
		return false
	}
	return true
}

func (h *SiameseHandler) Compare(c *gin.Context) {
	if !h.withUpload(c) {
		return
	}
	a, err := formImage(c, "image1")
	if err != nil {
		handleError(c, err)
		return
	}
	b, err := formImage(c, "image2")
	if err != nil {
		handleError(c, err)
		return
	}
	resp, err := h.compare.Compare(c.Request.Context(), a, b)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, http.StatusOK, resp)
}

func (h *SiameseHandler) MatchBatch(c *gin.Context) {
	if !h.withUpload(c) {
		return
	}
	lost, err := formImage(c, "lost_image")
	if err != nil {
		handleError(c, err)
		return
	}
	found, err := formImages(c, "found_images")
	if err != nil {
		handleError(c, err)
		return
	}
	resp, err := h.compare.MatchBatch(c.Request.Context(), lost, found)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, http.StatusOK, resp)
}

func (h *SiameseHandler) ExtractFeatures(c *gin.Context) {
	if !h.withUpload(c) {
		return
	}
	img, err := formImage(c, "image")
	if err != nil {
		handleError(c, err)
		return
	}
	resp, err := h.compare.ExtractFeatures(c.Request.Context(), img)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, http.StatusOK, resp)
}
