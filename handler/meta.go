package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/EslamTharwaat/remove-image-background/config"
	"github.com/EslamTharwaat/remove-image-background/pkg/logger"
	"github.com/EslamTharwaat/remove-image-background/service"
)

const version = "1.0.0"

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// MetaHandler serves health, model and default-setting lookups.
type MetaHandler struct {
	config    *config.Config
	settings  *SettingsResolver
	segmenter Pinger
}

func NewMetaHandler(cfg *config.Config, settings *SettingsResolver, segmenter Pinger) *MetaHandler {
	return &MetaHandler{config: cfg, settings: settings, segmenter: segmenter}
}

func (h *MetaHandler) Health(c *gin.Context) {
	resp := gin.H{
		"status":    "healthy",
		"service":   "background-remover",
		"version":   version,
		"timestamp": time.Now().Format(time.RFC3339),
	}
	if h.segmenter != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.segmenter.Ping(ctx); err != nil {
			logger.Warn(c.Request.Context(), "segmenter unreachable", "error", err)
			resp["segmenter"] = "unreachable"
		} else {
			resp["segmenter"] = "ok"
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *MetaHandler) Models(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"models":        h.config.Processing.Models,
		"default_model": h.config.Processing.DefaultModel,
		"force_model":   h.config.Processing.ForceModel,
	})
}

func (h *MetaHandler) Settings(c *gin.Context) {
	d := h.settings.Defaults()
	c.JSON(http.StatusOK, gin.H{
		"default_ai_model":             d.Model,
		"default_alpha_matting":        d.AlphaMatting,
		"default_foreground_threshold": d.ForegroundThreshold,
		"default_background_threshold": d.BackgroundThreshold,
		"default_erode_size":           d.ErodeSize,
		"default_base_size":            d.BaseSize,
		"max_file_size":                h.config.Limits.MaxImageBytes,
		"max_archive_size":             h.config.Limits.MaxArchiveBytes,
		"allowed_extensions":           service.ImageExtensions(),
		"optimize_images":              h.config.Processing.Optimize(),
		"max_image_dimension":          h.config.Processing.MaxImageDimension,
	})
}

type testS3Request struct {
	AccessKey string `json:"access_key" binding:"required"`
	SecretKey string `json:"secret_key" binding:"required"`
	Bucket    string `json:"bucket_name" binding:"required"`
	Region    string `json:"region" binding:"omitempty,max=32,excludesall=/:@.?#"`
}

// TestS3 checks that the submitted credentials can reach the bucket on the
// configured endpoint. Clients cannot choose the host that gets contacted.
func (h *MetaHandler) TestS3(c *gin.Context) {
	var req testS3Request
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "access_key, secret_key and bucket_name are required")
		return
	}

	cfg := h.config.S3
	cfg.AccessKey = req.AccessKey
	cfg.SecretKey = req.SecretKey
	cfg.Bucket = req.Bucket
	if req.Region != "" {
		cfg.Region = req.Region
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()
	if err := service.CheckS3Connection(ctx, &cfg); err != nil {
		logger.Info(c.Request.Context(), "s3 connection test failed", "bucket", cfg.Bucket, "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "S3 connection successful"})
}
