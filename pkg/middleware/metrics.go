package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nimburion/monjobs/pkg/observability/metrics"
)

// Metrics records Prometheus metrics for HTTP requests:
// - HTTP request duration histogram (by method, route, status)
// - HTTP request counter (by method, route, status)
// - In-flight requests gauge
//
// Requests are labelled with the route template, so ids in the path do not create new series.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		metrics.IncrementInFlight()
		defer metrics.DecrementInFlight()

		start := time.Now()
		c.Next()

		metrics.RecordHTTPMetrics(c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start))
	}
}
