package middleware_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nimburion/monjobs/pkg/middleware"
	"github.com/nimburion/monjobs/pkg/observability/logger"
	"github.com/nimburion/monjobs/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newZapLogger(t *testing.T, out *bytes.Buffer) *logger.ZapLogger {
	t.Helper()
	log, err := logger.NewZapLogger(logger.Config{
		Level:  logger.InfoLevel,
		Format: logger.JSONFormat,
		Output: out,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Sync() })
	return log
}

func logLines(t *testing.T, out *bytes.Buffer) []map[string]any {
	t.Helper()
	var lines []map[string]any
	for _, raw := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if raw == "" {
			continue
		}
		var line map[string]any
		require.NoError(t, json.Unmarshal([]byte(raw), &line))
		lines = append(lines, line)
	}
	return lines
}

// TestRequestIDAndLoggingIntegration verifies that the request id set by RequestID reaches the
// access log written through zap.
func TestRequestIDAndLoggingIntegration(t *testing.T) {
	// Given: an engine with RequestID before Logging
	var out bytes.Buffer
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(middleware.RequestID(), middleware.Logging(newZapLogger(t, &out)))

	var captured string
	engine.GET("/v1/queues/:queue/jobs/:id", func(c *gin.Context) {
		captured = middleware.GetRequestID(c)
		c.Status(http.StatusOK)
	})

	// When: a request with an existing X-Request-ID is made
	req := httptest.NewRequest(http.MethodGet, "/v1/queues/emails/jobs/j1", nil)
	req.Header.Set(middleware.RequestIDHeader, "client-id")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	// Then: the id is preserved and logged with the route
	assert.Equal(t, "client-id", captured)
	assert.Equal(t, "client-id", rec.Header().Get(middleware.RequestIDHeader))

	lines := logLines(t, &out)
	require.Len(t, lines, 1)
	assert.Equal(t, "client-id", lines[0]["request_id"])
	assert.Equal(t, "/v1/queues/:queue/jobs/:id", lines[0][middleware.FieldRoute])
	assert.EqualValues(t, http.StatusOK, lines[0][middleware.FieldStatus])
}

// TestRecoveryInsideLogging verifies that a panic is logged as a 500 by the outer access log.
func TestRecoveryInsideLogging(t *testing.T) {
	var out bytes.Buffer
	log := newZapLogger(t, &out)
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(middleware.RequestID(), middleware.Logging(log), middleware.Recovery(log))
	engine.GET("/boom", func(c *gin.Context) { panic("boom") })

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var access map[string]any
	for _, line := range logLines(t, &out) {
		if line["message"] == "request completed" {
			access = line
		}
	}
	require.NotNil(t, access)
	assert.Equal(t, "error", access["level"])
	assert.EqualValues(t, http.StatusInternalServerError, access[middleware.FieldStatus])
}

func TestRedisRateLimiter_Integration(t *testing.T) {
	url := testutil.RedisURL(t)

	var out bytes.Buffer
	limiter, err := middleware.NewRedisRateLimiter(middleware.RedisLimiterConfig{
		URL:               url,
		Prefix:            "monjobs:it:" + t.Name(),
		Window:            2 * time.Second,
		RequestsPerSecond: 1,
		Burst:             1,
	}, newZapLogger(t, &out))
	require.NoError(t, err)
	t.Cleanup(func() { _ = limiter.Close() })

	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(middleware.RequestID(), middleware.RateLimit(limiter, func(c *gin.Context) string {
		return c.GetHeader("X-Client")
	}))
	engine.GET("/jobs", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(client string) int {
		req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
		req.Header.Set("X-Client", client)
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, req)
		return rec.Code
	}

	// two requests per window plus one burst
	assert.Equal(t, http.StatusOK, do("a"))
	assert.Equal(t, http.StatusOK, do("a"))
	assert.Equal(t, http.StatusOK, do("a"))
	assert.Equal(t, http.StatusTooManyRequests, do("a"))
	assert.Equal(t, http.StatusOK, do("b"))

	assert.Eventually(t, func() bool { return do("a") == http.StatusOK }, 5*time.Second, 250*time.Millisecond)
}
