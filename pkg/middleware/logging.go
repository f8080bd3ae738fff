package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nimburion/monjobs/pkg/observability/logger"
)

// Log field name constants
const (
	FieldMethod     = "method"
	FieldRoute      = "route"
	FieldPath       = "path"
	FieldStatus     = "status"
	FieldDurationMS = "duration_ms"
	FieldRemoteAddr = "remote_addr"
	FieldError      = "error"
)

// Logging logs one line per request once the handler chain returns. Server errors log at error
// level, client errors at warn and the rest at info. Paths under excludedPrefixes, such as the
// probe endpoints, are not logged.
func Logging(log logger.Logger, excludedPrefixes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, prefix := range excludedPrefixes {
			if prefix != "" && strings.HasPrefix(c.Request.URL.Path, prefix) {
				c.Next()
				return
			}
		}

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []any{
			FieldMethod, c.Request.Method,
			FieldRoute, c.FullPath(),
			FieldPath, c.Request.URL.Path,
			FieldStatus, status,
			FieldDurationMS, time.Since(start).Milliseconds(),
			FieldRemoteAddr, c.ClientIP(),
		}
		if errs := c.Errors.ByType(gin.ErrorTypeAny); len(errs) > 0 {
			fields = append(fields, FieldError, errs.String())
		}

		reqLog := log.WithContext(c.Request.Context())
		switch {
		case status >= 500:
			reqLog.Error("request completed", fields...)
		case status >= 400:
			reqLog.Warn("request completed", fields...)
		default:
			reqLog.Info("request completed", fields...)
		}
	}
}
