package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/EslamTharwaat/remove-image-background/pkg/logger"
)

// quietPrefixes are polled about once a second by the UI; successful hits
// are logged at debug so they don't drown the access log.
var quietPrefixes = []string{"/batch-status/", "/api/v1/batch-status/", "/health", "/api/v1/health"}

// RequestLogger logs every request once it has been served.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"status", status,
			"method", c.Request.Method,
			"path", path,
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
			"bytes_in", c.Request.ContentLength,
			"bytes_out", c.Writer.Size(),
		}
		if client := GetClientID(c); client != "" {
			attrs = append(attrs, "client", client)
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
		}

		log := logger.WithContext(c.Request.Context())
		switch {
		case status >= 500:
			log.Error("request completed", attrs...)
		case status >= 400:
			log.Warn("request completed", attrs...)
		case isQuiet(path):
			log.Debug("request completed", attrs...)
		default:
			log.Info("request completed", attrs...)
		}
	}
}

func isQuiet(path string) bool {
	for _, p := range quietPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
