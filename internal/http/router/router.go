package router

import (
	"github.com/gin-gonic/gin"

	"basegraph.app/digest/internal/http/handler"
	"basegraph.app/digest/internal/service"
	"basegraph.app/digest/internal/store"
)

type RouterConfig struct {
	Digest service.DigestService
	// Reports may be nil when no archive is configured.
	Reports store.ReportStore
}

func SetupRoutes(router *gin.Engine, cfg RouterConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	{
		digestHandler := handler.NewDigestHandler(cfg.Digest)
		DigestRouter(v1.Group("/digest"), digestHandler)

		reportHandler := handler.NewReportHandler(cfg.Reports)
		ReportRouter(v1.Group("/reports"), reportHandler)
	}
}

func DigestRouter(rg *gin.RouterGroup, h *handler.DigestHandler) {
	rg.POST("", h.Handle)
}

func ReportRouter(rg *gin.RouterGroup, h *handler.ReportHandler) {
	rg.GET("", h.ListRecent)
	rg.GET("/:id", h.GetByID)
}
