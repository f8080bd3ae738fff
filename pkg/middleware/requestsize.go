package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// RequestSize enforces a maximum request body size in bytes. A non-positive maxBytes disables it.
// Bodies without a declared length are capped with http.MaxBytesReader, so decoding fails once the
// limit is crossed.
func RequestSize(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBytes <= 0 || c.Request.Body == nil {
			c.Next()
			return
		}
		if c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error":    "request_too_large",
				"message":  fmt.Sprintf("request body exceeds maximum allowed size of %d bytes", maxBytes),
				"max_size": maxBytes,
			})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
