package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nimburion/monjobs/pkg/observability/logger"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RateLimiter decides whether a request identified by key may proceed.
// Implementations must be safe for concurrent use.
type RateLimiter interface {
	Allow(key string) bool
}

// TokenBucketLimiter keeps one token bucket per key in process memory.
type TokenBucketLimiter struct {
	limiters sync.Map // map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// NewTokenBucketLimiter creates a limiter allowing requestsPerSecond on average with bursts of
// up to burst requests per key.
func NewTokenBucketLimiter(requestsPerSecond, burst int) *TokenBucketLimiter {
	return &TokenBucketLimiter{
		rate:  rate.Limit(requestsPerSecond),
		burst: burst,
	}
}

// Allow consumes one token from the bucket of key.
func (l *TokenBucketLimiter) Allow(key string) bool {
	if limiter, ok := l.limiters.Load(key); ok {
		return limiter.(*rate.Limiter).Allow()
	}
	limiter, _ := l.limiters.LoadOrStore(key, rate.NewLimiter(l.rate, l.burst))
	return limiter.(*rate.Limiter).Allow()
}

type redisClient interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// RedisLimiterConfig configures a RedisRateLimiter.
type RedisLimiterConfig struct {
	URL               string
	Prefix            string
	Window            time.Duration
	OperationTimeout  time.Duration
	RequestsPerSecond int
	Burst             int
}

// RedisRateLimiter counts requests per key and fixed window in Redis, so every API replica
// shares one budget.
type RedisRateLimiter struct {
	client    redisClient
	limit     int64
	window    time.Duration
	opTimeout time.Duration
	prefix    string
	log       logger.Logger
}

// NewRedisRateLimiter connects to Redis and verifies it with a ping.
func NewRedisRateLimiter(cfg RedisLimiterConfig, log logger.Logger) (*RedisRateLimiter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis URL is required for distributed rate limiting")
	}
	if cfg.RequestsPerSecond <= 0 {
		return nil, errors.New("requests_per_second must be greater than zero")
	}
	if cfg.Burst < 0 {
		return nil, errors.New("burst cannot be negative")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 2 * time.Second
	}
	opts.ReadTimeout = cfg.OperationTimeout
	opts.WriteTimeout = cfg.OperationTimeout

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis rate limiter ping failed: %w", err)
	}

	limiter := newRedisRateLimiter(client, cfg, log)
	log.Info("redis rate limiter connected",
		"limit", limiter.limit,
		"window", limiter.window.String(),
		"prefix", limiter.prefix,
	)
	return limiter, nil
}

func newRedisRateLimiter(client redisClient, cfg RedisLimiterConfig, log logger.Logger) *RedisRateLimiter {
	if cfg.Window <= 0 {
		cfg.Window = time.Second
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 2 * time.Second
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "monjobs:ratelimit"
	}
	perWindow := int64(float64(cfg.RequestsPerSecond) * cfg.Window.Seconds())
	return &RedisRateLimiter{
		client:    client,
		limit:     perWindow + int64(cfg.Burst),
		window:    cfg.Window,
		opTimeout: cfg.OperationTimeout,
		prefix:    cfg.Prefix,
		log:       log,
	}
}

// Allow increments the counter of key for the current window. Redis failures let the request
// through.
func (r *RedisRateLimiter) Allow(key string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), r.opTimeout)
	defer cancel()

	redisKey := r.prefix + ":" + key
	count, err := r.client.Incr(ctx, redisKey).Result()
	if err != nil {
		r.log.Error("redis rate limiter increment failed", "error", err)
		return true
	}
	if count == 1 {
		if err := r.client.Expire(ctx, redisKey, r.window).Err(); err != nil {
			r.log.Warn("redis rate limiter failed to set TTL", "error", err)
		}
	}
	return count <= r.limit
}

// HealthCheck pings Redis.
func (r *RedisRateLimiter) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close shuts down the Redis client.
func (r *RedisRateLimiter) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

// KeyFunc extracts the rate limiting key of a request.
type KeyFunc func(c *gin.Context) string

// ClientIPKey limits per client address as resolved by gin's trusted proxy settings.
func ClientIPKey(c *gin.Context) string {
	return c.ClientIP()
}

// RateLimit rejects requests over the limiter budget with 429 and a Retry-After header.
// A nil limiter disables it.
func RateLimit(limiter RateLimiter, key KeyFunc) gin.HandlerFunc {
	if key == nil {
		key = ClientIPKey
	}
	return func(c *gin.Context) {
		if limiter == nil || limiter.Allow(key(c)) {
			c.Next()
			return
		}
		c.Header("Retry-After", strconv.Itoa(1))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":      "rate_limited",
			"message":    "rate limit exceeded",
			"request_id": GetRequestID(c),
		})
	}
}
