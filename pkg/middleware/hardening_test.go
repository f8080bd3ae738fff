package middleware

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketLimiter_PerKey(t *testing.T) {
	limiter := NewTokenBucketLimiter(1, 2)

	assert.True(t, limiter.Allow("a"))
	assert.True(t, limiter.Allow("a"))
	assert.False(t, limiter.Allow("a"))
	assert.True(t, limiter.Allow("b"))
}

func TestRateLimit_Returns429(t *testing.T) {
	engine := newEngine(RequestID(), RateLimit(NewTokenBucketLimiter(1, 1), nil))
	engine.GET("/jobs", func(c *gin.Context) { c.Status(http.StatusOK) })

	first := serve(engine, httptest.NewRequest(http.MethodGet, "/jobs", nil))
	assert.Equal(t, http.StatusOK, first.Code)

	second := serve(engine, httptest.NewRequest(http.MethodGet, "/jobs", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "1", second.Header().Get("Retry-After"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &body))
	assert.Equal(t, "rate_limited", body["error"])
	assert.Equal(t, second.Header().Get(RequestIDHeader), body["request_id"])
}

func TestRateLimit_NilLimiterPassesThrough(t *testing.T) {
	engine := newEngine(RateLimit(nil, nil))
	engine.GET("/jobs", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, serve(engine, httptest.NewRequest(http.MethodGet, "/jobs", nil)).Code)
	}
}

type fakeRedis struct {
	mu       sync.Mutex
	counts   map[string]int64
	expiries map[string]time.Duration
	incrErr  error
	closed   bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{counts: map[string]int64{}, expiries: map[string]time.Duration{}}
}

func (f *fakeRedis) Incr(ctx context.Context, key string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.incrErr != nil {
		return redis.NewIntResult(0, f.incrErr)
	}
	f.counts[key]++
	return redis.NewIntResult(f.counts[key], nil)
}

func (f *fakeRedis) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expiries[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Ping(ctx context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (f *fakeRedis) Close() error {
	f.closed = true
	return nil
}

func TestRedisRateLimiter_FixedWindow(t *testing.T) {
	client := newFakeRedis()
	limiter := newRedisRateLimiter(client, RedisLimiterConfig{RequestsPerSecond: 2, Burst: 1}, newRecordingLogger())

	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.False(t, limiter.Allow("10.0.0.1"))
	assert.True(t, limiter.Allow("10.0.0.2"))

	assert.Equal(t, time.Second, client.expiries["monjobs:ratelimit:10.0.0.1"])
	assert.Len(t, client.expiries, 2)

	require.NoError(t, limiter.HealthCheck(context.Background()))
	require.NoError(t, limiter.Close())
	assert.True(t, client.closed)
}

func TestRedisRateLimiter_FailsOpen(t *testing.T) {
	client := newFakeRedis()
	client.incrErr = errors.New("connection refused")
	log := newRecordingLogger()
	limiter := newRedisRateLimiter(client, RedisLimiterConfig{RequestsPerSecond: 1, Prefix: "test"}, log)

	assert.True(t, limiter.Allow("k"))
	entries := log.all()
	require.Len(t, entries, 1)
	assert.Equal(t, "error", entries[0].level)
}

func TestNewRedisRateLimiter_RejectsInvalidConfig(t *testing.T) {
	log := newRecordingLogger()

	_, err := NewRedisRateLimiter(RedisLimiterConfig{RequestsPerSecond: 1}, log)
	assert.Error(t, err)

	_, err = NewRedisRateLimiter(RedisLimiterConfig{URL: "redis://localhost:6379"}, log)
	assert.Error(t, err)

	_, err = NewRedisRateLimiter(RedisLimiterConfig{URL: "not a url", RequestsPerSecond: 1}, log)
	assert.Error(t, err)
}

func corsRequest(method, origin string, preflight bool) *http.Request {
	req := httptest.NewRequest(method, "/v1/queues/emails/jobs", nil)
	req.Header.Set("Origin", origin)
	if preflight {
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "Content-Type")
	}
	return req
}

func newCORSEngine(cfg CORSConfig) *gin.Engine {
	engine := newEngine(CORS(cfg))
	engine.GET("/v1/queues/:queue/jobs", func(c *gin.Context) { c.Status(http.StatusOK) })
	engine.POST("/v1/queues/:queue/jobs", func(c *gin.Context) { c.Status(http.StatusCreated) })
	return engine
}

func TestCORS_AllowedOrigin(t *testing.T) {
	engine := newCORSEngine(CORSConfig{AllowOrigins: []string{"https://dash.example.com"}})

	rec := serve(engine, corsRequest(http.MethodGet, "https://dash.example.com", false))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://dash.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), RequestIDHeader)
	assert.Contains(t, rec.Header().Get("Vary"), "Origin")
}

func TestCORS_Preflight(t *testing.T) {
	engine := newCORSEngine(CORSConfig{AllowOrigins: []string{"https://dash.example.com"}})

	rec := serve(engine, corsRequest(http.MethodOptions, "https://dash.example.com", true))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
	assert.Equal(t, "Content-Type", rec.Header().Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "43200", rec.Header().Get("Access-Control-Max-Age"))
}

func TestCORS_DisallowedOrigin(t *testing.T) {
	engine := newCORSEngine(CORSConfig{AllowOrigins: []string{"https://dash.example.com"}})

	preflight := serve(engine, corsRequest(http.MethodOptions, "https://evil.example.org", true))
	assert.Equal(t, http.StatusForbidden, preflight.Code)

	simple := serve(engine, corsRequest(http.MethodGet, "https://evil.example.org", false))
	assert.Equal(t, http.StatusOK, simple.Code)
	assert.Empty(t, simple.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_WildcardAndCredentials(t *testing.T) {
	open := newCORSEngine(CORSConfig{AllowOrigins: []string{"*"}})
	rec := serve(open, corsRequest(http.MethodGet, "https://anything.test", false))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	sub := newCORSEngine(CORSConfig{AllowOrigins: []string{"https://*.example.com"}, AllowCredentials: true})
	rec = serve(sub, corsRequest(http.MethodGet, "https://ops.example.com", false))
	assert.Equal(t, "https://ops.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	rec = serve(sub, corsRequest(http.MethodGet, "https://example.com", false))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func newCompressionEngine(cfg CompressionConfig) *gin.Engine {
	engine := newEngine(Compression(cfg))
	engine.GET("/large", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"jobs": strings.Repeat("x", 4096)})
	})
	engine.GET("/small", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	engine.GET("/empty", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return engine
}

func compressedRequest(path, acceptEncoding string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if acceptEncoding != "" {
		req.Header.Set("Accept-Encoding", acceptEncoding)
	}
	return req
}

func decodeJobs(t *testing.T, r io.Reader) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(r).Decode(&body))
	return body["jobs"]
}

func TestCompression_PrefersBrotli(t *testing.T) {
	engine := newCompressionEngine(DefaultCompressionConfig())

	rec := serve(engine, compressedRequest("/large", "gzip, br"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "br", rec.Header().Get("Content-Encoding"))
	assert.Contains(t, rec.Header().Get("Vary"), "Accept-Encoding")
	assert.Equal(t, strings.Repeat("x", 4096), decodeJobs(t, brotli.NewReader(rec.Body)))
}

func TestCompression_GzipByQuality(t *testing.T) {
	engine := newCompressionEngine(DefaultCompressionConfig())

	rec := serve(engine, compressedRequest("/large", "br;q=0.5, gzip"))
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	reader, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("x", 4096), decodeJobs(t, reader))
}

func TestCompression_SkipsSmallAndEmptyBodies(t *testing.T) {
	engine := newCompressionEngine(DefaultCompressionConfig())

	small := serve(engine, compressedRequest("/small", "br"))
	assert.Empty(t, small.Header().Get("Content-Encoding"))
	assert.JSONEq(t, `{"ok":true}`, small.Body.String())

	empty := serve(engine, compressedRequest("/empty", "gzip"))
	assert.Equal(t, http.StatusNoContent, empty.Code)
	assert.Empty(t, empty.Header().Get("Content-Encoding"))
	assert.Zero(t, empty.Body.Len())
}

func TestCompression_WithoutAcceptEncoding(t *testing.T) {
	engine := newCompressionEngine(DefaultCompressionConfig())

	rec := serve(engine, compressedRequest("/large", ""))
	assert.Empty(t, rec.Header().Get("Content-Encoding"))
	assert.Equal(t, strings.Repeat("x", 4096), decodeJobs(t, rec.Body))

	refused := serve(engine, compressedRequest("/large", "br;q=0, gzip;q=0"))
	assert.Empty(t, refused.Header().Get("Content-Encoding"))
}

func TestNegotiateEncoding(t *testing.T) {
	cases := map[string]string{
		"":                   "",
		"identity":           "",
		"gzip":               "gzip",
		"br":                 "br",
		"*":                  "br",
		"gzip;q=1, br;q=0.8": "gzip",
		"*;q=0.3, gzip":      "gzip",
	}
	for header, want := range cases {
		assert.Equal(t, want, negotiateEncoding(header), header)
	}
}
