package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/EslamTharwaat/remove-image-background/config"
	"github.com/EslamTharwaat/remove-image-background/middleware"
)

// NewRouter builds the gin engine with every route and middleware.
// segmenter may be nil, in which case /health skips the reachability check.
func NewRouter(cfg *config.Config, svc *Services, segmenter Pinger) *gin.Engine {
	router := gin.New()
	router.MaxMultipartMemory = 32 << 20

	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORS())
	router.Use(middleware.NoCache())
	if cfg.RateLimit.Requests > 0 {
		router.Use(middleware.RateLimit(cfg.RateLimit.Requests, cfg.RateLimit.Window))
	}
	router.Use(middleware.BodyLimit(cfg.Limits.MaxRequestBytes))

	settings := NewSettingsResolver(cfg)
	imageHandler := NewImageHandler(svc, settings)
	apiHandler := NewAPIHandler(svc, settings)
	metaHandler := NewMetaHandler(cfg, settings, segmenter)
	authHandler := NewAuthHandler(cfg)

	router.GET("/health", metaHandler.Health)
	router.GET("/models", metaHandler.Models)
	router.GET("/settings", metaHandler.Settings)
	router.POST("/test-s3", metaHandler.TestS3)
	router.POST("/upload", imageHandler.Upload)
	router.POST("/batch-upload", imageHandler.BatchUpload)
	router.GET("/batch-status/:batch_id", imageHandler.BatchStatus)
	router.POST("/reprocess", imageHandler.Reprocess)

	files := router.Group("/", middleware.FileHeaders())
	{
		files.GET("/download/:filename", imageHandler.Download)
		files.GET("/outputs/:filename", imageHandler.Output)
		files.GET("/uploads/:filename", imageHandler.Original)
	}

	v1 := router.Group("/api/v1")
	v1.POST("/auth/token", authHandler.Token)
	v1.GET("/health", metaHandler.Health)

	protected := v1.Group("/", middleware.APIAuth(&cfg.Auth))
	{
		protected.GET("/auth/me", authHandler.Me)
		protected.GET("/models", metaHandler.Models)
		protected.GET("/settings", metaHandler.Settings)
		protected.POST("/process", apiHandler.Process)
		protected.POST("/process-zip", apiHandler.ProcessZip)
		protected.GET("/batch-status/:batch_id", imageHandler.BatchStatus)
		protected.GET("/download/:filename", middleware.FileHeaders(), imageHandler.Download)
	}

	return router
}
