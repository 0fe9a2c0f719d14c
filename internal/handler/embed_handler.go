package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/baggagelens/internal/model"
	appErr "github.com/xxxsen/baggagelens/internal/pkg/errors"
	"github.com/xxxsen/baggagelens/internal/pkg/response"
	"github.com/xxxsen/baggagelens/internal/service"
)

type EmbedHandler struct {
	embed *service.EmbedService
}

func NewEmbedHandler(embed *service.EmbedService) *EmbedHandler {
	return &EmbedHandler{embed: embed}
}

func (h *EmbedHandler) Root(c *gin.Context) {
	response.Success(c, http.StatusOK, h.embed.Root())
}

func (h *EmbedHandler) Embed(c *gin.Context) {
	var req model.EmbedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusUnprocessableEntity, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.ImageURL) == "" {
		response.Error(c, http.StatusUnprocessableEntity, "imageUrl is required")
		return
	}
	vec, err := h.embed.Embed(c.Request.Context(), req.ImageURL)
	if err != nil {
		// fetch, decode and inference failures all surface as 500
		status := http.StatusInternalServerError
		if errors.Is(err, appErr.ErrInvalidRequest) {
			status = http.StatusUnprocessableEntity
		}
		abortWithError(c, status, err)
		return
	}
	response.Success(c, http.StatusOK, model.EmbedResponse{Embedding: vec})
}
