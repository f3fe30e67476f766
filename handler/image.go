package handler

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/EslamTharwaat/remove-image-background/model"
	"github.com/EslamTharwaat/remove-image-background/pkg/logger"
	"github.com/EslamTharwaat/remove-image-background/service"
)

// ImageHandler serves the browser-facing upload, batch and file routes.
type ImageHandler struct {
	svc      *Services
	settings *SettingsResolver
}

func NewImageHandler(svc *Services, settings *SettingsResolver) *ImageHandler {
	return &ImageHandler{svc: svc, settings: settings}
}

// Upload processes a single image synchronously.
func (h *ImageHandler) Upload(c *gin.Context) {
	settings, err := h.settings.FromRequest(c)
	if err != nil {
		respondError(c, err)
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		formError(c, err, "No file provided")
		return
	}

	job, err := h.svc.readImage(fh)
	if err != nil {
		respondError(c, err)
		return
	}

	result, err := h.svc.Processor.Process(c.Request.Context(), job, settings)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, processedResponse(result,
		fmt.Sprintf("Background removed successfully in %.2f seconds!", result.ProcessingTimeSeconds)))
}

// BatchUpload accepts images and ZIP archives and starts a background batch.
func (h *ImageHandler) BatchUpload(c *gin.Context) {
	settings, err := h.settings.FromRequest(c)
	if err != nil {
		respondError(c, err)
		return
	}

	if _, err := c.MultipartForm(); err != nil {
		formError(c, err, "No files uploaded")
		return
	}
	files := multipartFiles(c.Request, "files[]", "files", "zip_file")
	if len(files) == 0 {
		badRequest(c, "No files uploaded")
		return
	}

	jobs, err := h.svc.collectJobs(files)
	if err != nil {
		respondError(c, err)
		return
	}

	batchID, err := h.svc.Coordinator.Submit(c.Request.Context(), jobs, settings)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"batch_id":    batchID,
		"total_files": len(jobs),
		"message":     fmt.Sprintf("Started processing %d images in parallel", len(jobs)),
	})
}

// BatchStatus returns the current snapshot of a batch.
func (h *ImageHandler) BatchStatus(c *gin.Context) {
	rec, err := h.svc.Coordinator.Status(c.Request.Context(), c.Param("batch_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, batchStatusResponse(rec))
}

type reprocessRequest struct {
	ImagePath string `form:"image_path" json:"image_path"`
}

// Reprocess runs a previously uploaded image again with new settings.
func (h *ImageHandler) Reprocess(c *gin.Context) {
	settings, err := h.settings.FromRequest(c)
	if err != nil {
		respondError(c, err)
		return
	}

	var req reprocessRequest
	if err := c.ShouldBind(&req); err != nil || req.ImagePath == "" {
		badRequest(c, "No image path provided")
		return
	}

	name, ok := strings.CutPrefix(req.ImagePath, "/uploads/")
	if !ok || service.ValidateFileName(name) != nil {
		badRequest(c, "Invalid image path")
		return
	}

	result, err := h.svc.Processor.Reprocess(c.Request.Context(), name, settings)
	if err != nil {
		respondError(c, err)
		return
	}

	logger.Info(c.Request.Context(), "image reprocessed", "file", name, "model", settings.Model)
	c.JSON(http.StatusOK, processedResponse(result,
		fmt.Sprintf("Image reprocessed successfully in %.2f seconds!", result.ProcessingTimeSeconds)))
}

// Download sends a processed image as an attachment.
func (h *ImageHandler) Download(c *gin.Context) {
	name := c.Param("filename")
	path, err := h.svc.Outputs.Path(name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.FileAttachment(path, name)
}

// Output serves a processed image inline.
func (h *ImageHandler) Output(c *gin.Context) {
	serveFile(c, h.svc.Outputs)
}

// Original serves an uploaded image inline.
func (h *ImageHandler) Original(c *gin.Context) {
	serveFile(c, h.svc.Uploads)
}

func serveFile(c *gin.Context, store *service.FileStore) {
	path, err := store.Path(c.Param("filename"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.File(path)
}

func processedResponse(result *model.ProcessedResult, message string) gin.H {
	resp := gin.H{
		"success":         true,
		"original_image":  result.OriginalImage,
		"processed_image": result.ProcessedImage,
		"download_url":    result.DownloadURL,
		"message":         message,
		"processing_time": result.ProcessingTimeSeconds,
		"ai_model":        result.Model,
	}
	if result.S3URL != "" {
		resp["s3_url"] = result.S3URL
	}
	return resp
}

func batchStatusResponse(rec *model.BatchRecord) gin.H {
	resp := gin.H{
		"batch_id":            rec.BatchID,
		"status":              rec.Status,
		"progress":            rec.Progress(),
		"total_files":         rec.TotalFiles,
		"processed_files":     rec.ProcessedFiles,
		"individual_progress": rec.IndividualProgress,
		"results":             rec.Results,
		"errors":              rec.Errors,
		"ai_model":            rec.Model,
		"started_at":          rec.StartedAt,
		"total_time":          rec.TotalTime,
	}
	if rec.CompletedAt != nil {
		resp["completed_at"] = rec.CompletedAt
	}
	return resp
}
