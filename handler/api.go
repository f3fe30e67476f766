package handler

import (
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/EslamTharwaat/remove-image-background/model"
	"github.com/EslamTharwaat/remove-image-background/pkg/logger"
)

const apiDownloadPrefix = "/api/v1/download/"

// APIHandler serves the programmatic /api/v1 routes.
type APIHandler struct {
	svc      *Services
	settings *SettingsResolver
}

func NewAPIHandler(svc *Services, settings *SettingsResolver) *APIHandler {
	return &APIHandler{svc: svc, settings: settings}
}

// Process removes the background from an uploaded file or base64 payload
// and returns the PNG inline.
func (h *APIHandler) Process(c *gin.Context) {
	settings, err := h.settings.FromRequest(c)
	if err != nil {
		respondError(c, err)
		return
	}

	var job model.UploadJob
	if fh, ferr := c.FormFile("image"); ferr == nil {
		job, err = h.svc.readImage(fh)
	} else if data := c.PostForm("image_data"); data != "" {
		job, err = h.svc.decodeImageData(data)
	} else {
		formError(c, ferr, "No image provided. Use 'image' file upload or 'image_data' base64 field")
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	result, err := h.svc.Processor.Process(c.Request.Context(), job, settings)
	if err != nil {
		respondError(c, err)
		return
	}

	png, err := h.svc.Outputs.ReadFile(result.ProcessedFileName)
	if err != nil {
		respondError(c, fmt.Errorf("read output: %w", err))
		return
	}

	resp := gin.H{
		"success":           true,
		"message":           fmt.Sprintf("Image processed successfully in %.2f seconds", result.ProcessingTimeSeconds),
		"processing_time":   result.ProcessingTimeSeconds,
		"ai_model":          result.Model,
		"original_filename": job.FileName,
		"processed_image":   "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
		"download_url":      apiDownloadPrefix + result.ProcessedFileName,
	}
	if result.S3URL != "" {
		resp["s3_url"] = result.S3URL
	}
	c.JSON(http.StatusOK, resp)
}

type zipResult struct {
	OriginalFileName  string  `json:"original_filename"`
	ProcessedFileName string  `json:"processed_filename"`
	ProcessingTime    float64 `json:"processing_time"`
	Model             string  `json:"ai_model"`
	DownloadURL       string  `json:"download_url"`
	S3URL             string  `json:"s3_url,omitempty"`
}

// ProcessZip runs every image in a ZIP as a batch and waits for the summary.
func (h *APIHandler) ProcessZip(c *gin.Context) {
	settings, err := h.settings.FromRequest(c)
	if err != nil {
		respondError(c, err)
		return
	}

	fh, err := c.FormFile("zip_file")
	if err != nil {
		formError(c, err, "No ZIP file provided")
		return
	}

	jobs, err := h.svc.readArchive(fh)
	if err != nil {
		respondError(c, err)
		return
	}

	ctx := c.Request.Context()
	batchID, err := h.svc.Coordinator.Submit(ctx, jobs, settings)
	if err != nil {
		respondError(c, err)
		return
	}

	rec, err := h.svc.Coordinator.Wait(ctx, batchID)
	if err != nil {
		logger.Warn(ctx, "gave up waiting for batch", "batch_id", batchID, "error", err)
		respondError(c, err)
		return
	}

	results := make([]zipResult, 0, len(rec.Results))
	for _, r := range rec.Results {
		results = append(results, zipResult{
			OriginalFileName:  r.OriginalFileName,
			ProcessedFileName: r.ProcessedFileName,
			ProcessingTime:    r.ProcessingTimeSeconds,
			Model:             r.Model,
			DownloadURL:       apiDownloadPrefix + r.ProcessedFileName,
			S3URL:             r.S3URL,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"batch_id":         batchID,
		"message":          fmt.Sprintf("Processed %d images from ZIP file", len(results)),
		"total_images":     rec.TotalFiles,
		"successful":       len(results),
		"failed":           len(rec.Errors),
		"results":          results,
		"errors":           rec.Errors,
		"quality_settings": settings,
		"ai_model":         rec.Model,
		"total_time":       rec.TotalTime,
	})
}
