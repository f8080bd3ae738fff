// Package api exposes the job lifecycle over HTTP with gin.
//
// Routes:
//
//	POST /v1/queues/:queue/jobs              enqueue
//	GET  /v1/queues/:queue/jobs/:id          get
//	POST /v1/queues/:queue/peek              peek
//	POST /v1/queues/:queue/take              take next (204 when nothing is available)
//	POST /v1/queues/:queue/jobs/:id/ack      acknowledge
//	POST /v1/queues/:queue/jobs/:id/reports  add report
//	PUT  /v1/queues/:queue/jobs/:id/result   complete
//	GET  /healthz, /metrics, /version
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nimburion/monjobs/pkg/health"
	"github.com/nimburion/monjobs/pkg/jobs"
	"github.com/nimburion/monjobs/pkg/middleware"
	"github.com/nimburion/monjobs/pkg/observability/logger"
	"github.com/nimburion/monjobs/pkg/observability/metrics"
)

// Probe and infrastructure paths.
const (
	HealthPath  = "/healthz"
	MetricsPath = "/metrics"
	VersionPath = "/version"
)

// Options configures NewRouter. Service and Logger are required.
type Options struct {
	Service *jobs.Service
	Logger  logger.Logger
	// Health defaults to a registry checking Service.
	Health *health.Registry
	// Metrics mounts /metrics when set.
	Metrics        *metrics.Registry
	MaxRequestSize int64
	ServiceName    string
	// Tracing adds a server span per request.
	Tracing bool
	// RateLimiter throttles the /v1 routes when set.
	RateLimiter middleware.RateLimiter
	// CORS enables cross-origin access when set.
	CORS *middleware.CORSConfig
	// Compression enables gzip and brotli responses when set.
	Compression *middleware.CompressionConfig
}

// NewRouter builds the gin engine serving the job API.
func NewRouter(opts Options) (*gin.Engine, error) {
	if opts.Service == nil {
		return nil, errors.New("service is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Health == nil {
		opts.Health = health.NewRegistry()
		opts.Health.Register(jobs.NewServiceHealthChecker("", opts.Service, 0))
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.HandleMethodNotAllowed = true

	engine.Use(
		middleware.RequestID(),
		middleware.Logging(opts.Logger, HealthPath, MetricsPath),
		middleware.Metrics(),
	)
	if opts.Tracing {
		engine.Use(middleware.Tracing(""))
	}
	if opts.CORS != nil {
		engine.Use(middleware.CORS(*opts.CORS))
	}
	if opts.Compression != nil {
		engine.Use(middleware.Compression(*opts.Compression))
	}
	engine.Use(
		middleware.Recovery(opts.Logger),
		middleware.RequestSize(opts.MaxRequestSize),
	)

	h := &handlers{
		service:     opts.Service,
		health:      opts.Health,
		log:         opts.Logger,
		serviceName: opts.ServiceName,
	}

	engine.GET(HealthPath, h.healthz)
	engine.GET(VersionPath, h.version)
	if opts.Metrics != nil {
		engine.GET(MetricsPath, gin.WrapH(opts.Metrics.Handler()))
	}

	queue := engine.Group("/v1/queues/:" + ParamQueue)
	if opts.RateLimiter != nil {
		queue.Use(middleware.RateLimit(opts.RateLimiter, middleware.ClientIPKey))
	}
	queue.POST("/jobs", h.enqueue)
	queue.GET("/jobs/:"+ParamJobID, h.get)
	queue.POST("/peek", h.peek)
	queue.POST("/take", h.take)
	queue.POST("/jobs/:"+ParamJobID+"/ack", h.acknowledge)
	queue.POST("/jobs/:"+ParamJobID+"/reports", h.addReport)
	queue.PUT("/jobs/:"+ParamJobID+"/result", h.complete)

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:     CodeNotFound,
			Message:   "route not found",
			RequestID: middleware.GetRequestID(c),
		})
	})
	engine.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, ErrorResponse{
			Error:     "method_not_allowed",
			Message:   "method not allowed",
			RequestID: middleware.GetRequestID(c),
		})
	})

	return engine, nil
}
