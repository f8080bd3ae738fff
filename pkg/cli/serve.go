package cli

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nimburion/monjobs/pkg/api"
	"github.com/nimburion/monjobs/pkg/config"
	"github.com/nimburion/monjobs/pkg/health"
	"github.com/nimburion/monjobs/pkg/jobs"
	"github.com/nimburion/monjobs/pkg/middleware"
	"github.com/nimburion/monjobs/pkg/observability/logger"
	"github.com/nimburion/monjobs/pkg/observability/metrics"
	"github.com/nimburion/monjobs/pkg/observability/tracing"
	"github.com/nimburion/monjobs/pkg/server"
	"github.com/nimburion/monjobs/pkg/version"
	"github.com/spf13/cobra"
)

const defaultHealthcheckTimeout = 5 * time.Second

func newServeCommand(state *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the job API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := state.open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			obs := rt.cfg.Observability
			tp, err := tracing.NewTracerProvider(ctx, tracing.TracerConfig{
				ServiceName:    rt.cfg.Service.Name,
				ServiceVersion: version.Current(rt.cfg.Service.Name).Version,
				Environment:    rt.cfg.Service.Environment,
				Endpoint:       obs.Tracing.Endpoint,
				Insecure:       obs.Tracing.Insecure,
				SampleRate:     obs.Tracing.SampleRate,
				Enabled:        obs.Tracing.Enabled,
			})
			if err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer func() {
				if err := tp.Shutdown(context.Background()); err != nil {
					rt.log.Warn("failed to shutdown tracer provider", "error", err)
				}
			}()

			var registry *metrics.Registry
			if obs.MetricsEnabled {
				registry = metrics.NewRegistry(jobs.Collectors()...)
			}
			checks := health.NewRegistry()
			checks.Register(jobs.NewServiceHealthChecker("", rt.service, defaultHealthcheckTimeout))

			hardening, err := newHTTPHardening(rt.cfg.HTTP, rt.log)
			if err != nil {
				return err
			}
			defer hardening.Close()
			if hardening.redis != nil {
				checks.Register(health.NewAdapterChecker("ratelimit-redis", hardening.redis, defaultHealthcheckTimeout))
			}

			engine, err := api.NewRouter(api.Options{
				Service:        rt.service,
				Logger:         rt.log,
				Health:         checks,
				Metrics:        registry,
				MaxRequestSize: rt.cfg.HTTP.MaxRequestSize,
				ServiceName:    rt.cfg.Service.Name,
				Tracing:        obs.Tracing.Enabled,
				RateLimiter:    hardening.limiter,
				CORS:           hardening.cors,
				Compression:    hardening.compression,
			})
			if err != nil {
				return err
			}

			var serverTLS *tls.Config
			if tlsCfg := rt.cfg.HTTP.TLS; tlsCfg.Enabled() {
				serverTLS, err = server.LoadTLSConfig(tlsCfg.CertFile, tlsCfg.KeyFile, tlsCfg.ClientCAFile)
				if err != nil {
					return err
				}
			}

			srv := server.NewServer(server.Config{
				Port:            rt.cfg.HTTP.Port,
				ReadTimeout:     rt.cfg.HTTP.ReadTimeout,
				WriteTimeout:    rt.cfg.HTTP.WriteTimeout,
				IdleTimeout:     rt.cfg.HTTP.IdleTimeout,
				ShutdownTimeout: rt.cfg.HTTP.ShutdownTimeout,
				TLS:             serverTLS,
			}, engine, rt.log)
			return srv.Start(ctx)
		},
	}
}

// httpHardening holds the optional middleware settings derived from the http config section.
type httpHardening struct {
	limiter     middleware.RateLimiter
	redis       *middleware.RedisRateLimiter
	cors        *middleware.CORSConfig
	compression *middleware.CompressionConfig
}

func newHTTPHardening(cfg config.HTTPConfig, log logger.Logger) (*httpHardening, error) {
	h := &httpHardening{}

	if rl := cfg.RateLimit; rl.Enabled {
		if rl.RedisURL != "" {
			limiter, err := middleware.NewRedisRateLimiter(middleware.RedisLimiterConfig{
				URL:               rl.RedisURL,
				Prefix:            rl.RedisPrefix,
				Window:            rl.Window,
				RequestsPerSecond: rl.RequestsPerSecond,
				Burst:             rl.Burst,
			}, log)
			if err != nil {
				return nil, fmt.Errorf("init rate limiter: %w", err)
			}
			h.redis = limiter
			h.limiter = limiter
		} else {
			h.limiter = middleware.NewTokenBucketLimiter(rl.RequestsPerSecond, rl.Burst)
		}
	}

	if cors := cfg.CORS; cors.Enabled {
		h.cors = &middleware.CORSConfig{
			AllowOrigins:     cors.AllowOrigins,
			AllowHeaders:     cors.AllowHeaders,
			AllowCredentials: cors.AllowCredentials,
			MaxAge:           cors.MaxAge,
		}
	}

	if cfg.Compression.Enabled {
		compression := middleware.DefaultCompressionConfig()
		compression.MinSize = cfg.Compression.MinSize
		h.compression = &compression
	}
	return h, nil
}

func (h *httpHardening) Close() {
	if h.redis != nil {
		_ = h.redis.Close()
	}
}

func newHealthcheckCommand(state *rootState) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Check connectivity to the job store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := state.open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			checks := health.NewRegistry()
			checks.Register(jobs.NewServiceHealthChecker("", rt.service, timeout))
			result := checks.Check(cmd.Context())
			if err := printJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			if !result.IsHealthy() {
				return fmt.Errorf("health check failed: %s", result.Status)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", defaultHealthcheckTimeout, "probe timeout")
	return cmd
}
