package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func registerMetrics(api *gin.RouterGroup) {
	api.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func RegisterSiameseRoutes(api *gin.RouterGroup, h *SiameseHandler) {
	api.GET("/health", h.Health)
	api.POST("/compare", h.Compare)
	api.POST("/match-batch", h.MatchBatch)
	api.POST("/extract-features", h.ExtractFeatures)
	registerMetrics(api)
}

func RegisterCLIPRoutes(api *gin.RouterGroup, h *EmbedHandler) {
	api.GET("/", h.Root)
	api.POST("/embed", h.Embed)
	registerMetrics(api)
}
