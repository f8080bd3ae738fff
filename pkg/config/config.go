package config

import "time"

// Storage backend constants
const (
	BackendMongoDB = "mongodb"
	BackendMemory  = "memory"
)

// Log format constants
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// Config is the root configuration of a monjobs process.
type Config struct {
	Service       ServiceConfig       `mapstructure:"service" yaml:"service"`
	Backend       string              `mapstructure:"backend" yaml:"backend"`
	MongoDB       MongoDBConfig       `mapstructure:"mongodb" yaml:"mongodb"`
	Jobs          JobsConfig          `mapstructure:"jobs" yaml:"jobs"`
	HTTP          HTTPConfig          `mapstructure:"http" yaml:"http"`
	Observability ObservabilityConfig `mapstructure:"observability" yaml:"observability"`
}

// ServiceConfig configures service identity metadata.
type ServiceConfig struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Environment string `mapstructure:"environment" yaml:"environment"`
}

// MongoDBConfig configures the job collection connection.
type MongoDBConfig struct {
	URL              string        `mapstructure:"url" yaml:"url"`
	Database         string        `mapstructure:"database" yaml:"database"`
	Collection       string        `mapstructure:"collection" yaml:"collection"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout" yaml:"operation_timeout"`
	// EnsureIndexes creates the lookup indexes on startup.
	EnsureIndexes bool `mapstructure:"ensure_indexes" yaml:"ensure_indexes"`
}

// JobsConfig configures the service defaults and the worker runner.
type JobsConfig struct {
	DefaultPeekLimit int          `mapstructure:"default_peek_limit" yaml:"default_peek_limit"`
	Runner           RunnerConfig `mapstructure:"runner" yaml:"runner"`
}

// RunnerConfig configures `monjobs work`.
type RunnerConfig struct {
	Queue            string        `mapstructure:"queue" yaml:"queue"`
	Concurrency      int           `mapstructure:"concurrency" yaml:"concurrency"`
	PollInterval     time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	HandlerTimeout   time.Duration `mapstructure:"handler_timeout" yaml:"handler_timeout"`
	StopTimeout      time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout"`
	FailureThreshold int           `mapstructure:"failure_threshold" yaml:"failure_threshold"`
	FailureCooldown  time.Duration `mapstructure:"failure_cooldown" yaml:"failure_cooldown"`
}

// HTTPConfig configures the public API server
type HTTPConfig struct {
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	MaxRequestSize  int64         `mapstructure:"max_request_size" yaml:"max_request_size"`

	RateLimit   RateLimitConfig   `mapstructure:"rate_limit" yaml:"rate_limit"`
	CORS        CORSConfig        `mapstructure:"cors" yaml:"cors"`
	Compression CompressionConfig `mapstructure:"compression" yaml:"compression"`
	TLS         TLSConfig         `mapstructure:"tls" yaml:"tls"`
}

// TLSConfig serves the API over HTTPS when a certificate is set. A client CA enables mutual TLS.
type TLSConfig struct {
	CertFile     string `mapstructure:"cert_file" yaml:"cert_file"`
	KeyFile      string `mapstructure:"key_file" yaml:"key_file"`
	ClientCAFile string `mapstructure:"client_ca_file" yaml:"client_ca_file"`
}

// Enabled reports whether a server certificate is configured.
func (t TLSConfig) Enabled() bool {
	return t.CertFile != "" || t.KeyFile != ""
}

// RateLimitConfig throttles API clients by address. With a Redis URL the budget is shared by
// every replica.
type RateLimitConfig struct {
	Enabled           bool          `mapstructure:"enabled" yaml:"enabled"`
	RequestsPerSecond int           `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int           `mapstructure:"burst" yaml:"burst"`
	RedisURL          string        `mapstructure:"redis_url" yaml:"redis_url"`
	RedisPrefix       string        `mapstructure:"redis_prefix" yaml:"redis_prefix"`
	Window            time.Duration `mapstructure:"window" yaml:"window"`
}

// CORSConfig configures cross-origin access to the API.
type CORSConfig struct {
	Enabled          bool          `mapstructure:"enabled" yaml:"enabled"`
	AllowOrigins     []string      `mapstructure:"allow_origins" yaml:"allow_origins"`
	AllowHeaders     []string      `mapstructure:"allow_headers" yaml:"allow_headers"`
	AllowCredentials bool          `mapstructure:"allow_credentials" yaml:"allow_credentials"`
	MaxAge           time.Duration `mapstructure:"max_age" yaml:"max_age"`
}

// CompressionConfig configures gzip and brotli response encoding.
type CompressionConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	MinSize int  `mapstructure:"min_size" yaml:"min_size"`
}

// ObservabilityConfig configures logging, tracing and metrics.
type ObservabilityConfig struct {
	LogLevel       string             `mapstructure:"log_level" yaml:"log_level"`
	LogFormat      string             `mapstructure:"log_format" yaml:"log_format"` // json, text
	AsyncLogging   AsyncLoggingConfig `mapstructure:"async_logging" yaml:"async_logging"`
	Tracing        TracingConfig      `mapstructure:"tracing" yaml:"tracing"`
	MetricsEnabled bool               `mapstructure:"metrics_enabled" yaml:"metrics_enabled"`
}

// AsyncLoggingConfig configures optional asynchronous logger dispatching.
type AsyncLoggingConfig struct {
	Enabled      bool `mapstructure:"enabled" yaml:"enabled"`
	QueueSize    int  `mapstructure:"queue_size" yaml:"queue_size"`
	WorkerCount  int  `mapstructure:"worker_count" yaml:"worker_count"`
	DropWhenFull bool `mapstructure:"drop_when_full" yaml:"drop_when_full"`
}

// TracingConfig configures the OTLP exporter.
type TracingConfig struct {
	Enabled    bool    `mapstructure:"enabled" yaml:"enabled"`
	Endpoint   string  `mapstructure:"endpoint" yaml:"endpoint"`
	SampleRate float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
	Insecure   bool    `mapstructure:"insecure" yaml:"insecure"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "monjobs",
			Environment: "production",
		},
		Backend: BackendMongoDB,
		MongoDB: MongoDBConfig{
			URL:              "mongodb://localhost:27017",
			Database:         "monjobs",
			Collection:       "jobs",
			ConnectTimeout:   10 * time.Second,
			OperationTimeout: 5 * time.Second,
			EnsureIndexes:    true,
		},
		Jobs: JobsConfig{
			DefaultPeekLimit: 10,
			Runner: RunnerConfig{
				Concurrency:      1,
				PollInterval:     time.Second,
				HandlerTimeout:   0,
				StopTimeout:      10 * time.Second,
				FailureThreshold: 5,
				FailureCooldown:  30 * time.Second,
			},
		},
		HTTP: HTTPConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MaxRequestSize:  1 << 20,
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 100,
				Burst:             200,
				RedisPrefix:       "monjobs:ratelimit",
				Window:            time.Second,
			},
			CORS: CORSConfig{
				AllowOrigins: []string{},
				AllowHeaders: []string{},
				MaxAge:       12 * time.Hour,
			},
			Compression: CompressionConfig{
				Enabled: true,
				MinSize: 1024,
			},
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: LogFormatJSON,
			AsyncLogging: AsyncLoggingConfig{
				QueueSize:   1024,
				WorkerCount: 1,
			},
			Tracing: TracingConfig{
				Endpoint:   "localhost:4317",
				SampleRate: 1.0,
				Insecure:   true,
			},
			MetricsEnabled: true,
		},
	}
}
