package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/EslamTharwaat/remove-image-background/pkg/logger"
	"github.com/EslamTharwaat/remove-image-background/service"
)

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes),
		errors.Is(err, service.ErrTooLarge),
		errors.Is(err, service.ErrArchiveTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, service.ErrBatchNotFound),
		errors.Is(err, service.ErrFileNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrUnsupportedFormat),
		errors.Is(err, service.ErrInvalidFileName),
		errors.Is(err, service.ErrInvalidSettings),
		errors.Is(err, service.ErrNoImages),
		errors.Is(err, service.ErrEmptyBatch):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrShuttingDown):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes {success:false, error} with the mapped status. Errors
// that are not ours are reported without detail.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError && !errors.Is(err, service.ErrProcessingFailure) {
		msg = "Internal server error"
	}

	ctx := c.Request.Context()
	if status >= http.StatusInternalServerError {
		logger.Error(ctx, "request failed", "status", status, "error", err)
	} else {
		logger.Debug(ctx, "request rejected", "status", status, "error", err)
	}

	c.JSON(status, gin.H{"success": false, "error": msg})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": msg})
}

// formError reports a missing form part, unless the body was cut off by the
// size limit.
func formError(c *gin.Context, err error, msg string) {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		respondError(c, err)
		return
	}
	badRequest(c, msg)
}
