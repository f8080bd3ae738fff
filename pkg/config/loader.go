package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// DefaultEnvPrefix prefixes every environment override, e.g. MONJOBS_MONGODB_URL.
const DefaultEnvPrefix = "MONJOBS"

// Loader defines the interface for loading configuration
type Loader interface {
	Load() (*Config, error)
	Validate(*Config) error
}

// ViperLoader implements Loader using Viper for configuration management
type ViperLoader struct {
	configFile string
	envPrefix  string
	flags      *pflag.FlagSet
}

// NewViperLoader creates a new ViperLoader
// configFile: path to configuration file (optional, can be empty)
// envPrefix: prefix for environment variables (defaults to MONJOBS)
func NewViperLoader(configFile, envPrefix string) *ViperLoader {
	return &ViperLoader{
		configFile: strings.TrimSpace(configFile),
		envPrefix:  envPrefix,
	}
}

// WithFlags makes explicitly set flags registered by RegisterFlags override every other source.
func (l *ViperLoader) WithFlags(flags *pflag.FlagSet) *ViperLoader {
	if l == nil {
		return l
	}
	l.flags = flags
	return l
}

// ConfigFile returns the path to the config file, or empty string if none.
func (l *ViperLoader) ConfigFile() string {
	if l == nil {
		return ""
	}
	return l.configFile
}

// Load loads configuration with precedence: flags > ENV > file > defaults
func (l *ViperLoader) Load() (*Config, error) {
	v := viper.New()

	l.setDefaults(v, DefaultConfig())

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", l.configFile, err)
		}
	}

	l.bindEnvVars(v)

	if err := l.applyFlags(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := l.Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate normalizes cfg and checks it.
func (l *ViperLoader) Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	cfg.normalize()
	return cfg.Validate()
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment. Variables that are
// already set win over the file. An empty path is a no-op.
func LoadEnvFile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// bindEnvVars explicitly binds environment variables for nested structs
func (l *ViperLoader) bindEnvVars(v *viper.Viper) {
	for _, key := range settingKeys {
		_ = v.BindEnv(key, l.envName(key))
	}
	// Short aliases kept for deployments that already export them.
	_ = v.BindEnv("mongodb.url", l.envName("mongodb.url"), l.prefixedEnv("MONGO_URL"))
	_ = v.BindEnv("service.environment", l.envName("service.environment"), l.prefixedEnv("ENVIRONMENT"))
}

func (l *ViperLoader) applyFlags(v *viper.Viper) error {
	if l.flags == nil {
		return nil
	}
	for key, name := range flagKeys {
		flag := l.flags.Lookup(name)
		if flag == nil || !flag.Changed {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind flag --%s: %w", name, err)
		}
	}
	return nil
}

// envName maps a settings key such as mongodb.connect_timeout to MONJOBS_MONGODB_CONNECT_TIMEOUT.
func (l *ViperLoader) envName(key string) string {
	return l.prefixedEnv(strings.ToUpper(strings.ReplaceAll(key, ".", "_")))
}

func (l *ViperLoader) prefixedEnv(suffix string) string {
	prefix := strings.TrimSpace(l.envPrefix)
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	return fmt.Sprintf("%s_%s", strings.ToUpper(prefix), suffix)
}

// setDefaults sets default values in Viper from the default config
func (l *ViperLoader) setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("service.name", cfg.Service.Name)
	v.SetDefault("service.environment", cfg.Service.Environment)
	v.SetDefault("backend", cfg.Backend)

	// MongoDB defaults
	v.SetDefault("mongodb.url", cfg.MongoDB.URL)
	v.SetDefault("mongodb.database", cfg.MongoDB.Database)
	v.SetDefault("mongodb.collection", cfg.MongoDB.Collection)
	v.SetDefault("mongodb.connect_timeout", cfg.MongoDB.ConnectTimeout)
	v.SetDefault("mongodb.operation_timeout", cfg.MongoDB.OperationTimeout)
	v.SetDefault("mongodb.ensure_indexes", cfg.MongoDB.EnsureIndexes)

	// Jobs defaults
	v.SetDefault("jobs.default_peek_limit", cfg.Jobs.DefaultPeekLimit)
	v.SetDefault("jobs.runner.queue", cfg.Jobs.Runner.Queue)
	v.SetDefault("jobs.runner.concurrency", cfg.Jobs.Runner.Concurrency)
	v.SetDefault("jobs.runner.poll_interval", cfg.Jobs.Runner.PollInterval)
	v.SetDefault("jobs.runner.handler_timeout", cfg.Jobs.Runner.HandlerTimeout)
	v.SetDefault("jobs.runner.stop_timeout", cfg.Jobs.Runner.StopTimeout)
	v.SetDefault("jobs.runner.failure_threshold", cfg.Jobs.Runner.FailureThreshold)
	v.SetDefault("jobs.runner.failure_cooldown", cfg.Jobs.Runner.FailureCooldown)

	// HTTP defaults
	v.SetDefault("http.port", cfg.HTTP.Port)
	v.SetDefault("http.read_timeout", cfg.HTTP.ReadTimeout)
	v.SetDefault("http.write_timeout", cfg.HTTP.WriteTimeout)
	v.SetDefault("http.idle_timeout", cfg.HTTP.IdleTimeout)
	v.SetDefault("http.shutdown_timeout", cfg.HTTP.ShutdownTimeout)
	v.SetDefault("http.max_request_size", cfg.HTTP.MaxRequestSize)
	v.SetDefault("http.rate_limit.enabled", cfg.HTTP.RateLimit.Enabled)
	v.SetDefault("http.rate_limit.requests_per_second", cfg.HTTP.RateLimit.RequestsPerSecond)
	v.SetDefault("http.rate_limit.burst", cfg.HTTP.RateLimit.Burst)
	v.SetDefault("http.rate_limit.redis_url", cfg.HTTP.RateLimit.RedisURL)
	v.SetDefault("http.rate_limit.redis_prefix", cfg.HTTP.RateLimit.RedisPrefix)
	v.SetDefault("http.rate_limit.window", cfg.HTTP.RateLimit.Window)
	v.SetDefault("http.cors.enabled", cfg.HTTP.CORS.Enabled)
	v.SetDefault("http.cors.allow_origins", cfg.HTTP.CORS.AllowOrigins)
	v.SetDefault("http.cors.allow_headers", cfg.HTTP.CORS.AllowHeaders)
	v.SetDefault("http.cors.allow_credentials", cfg.HTTP.CORS.AllowCredentials)
	v.SetDefault("http.cors.max_age", cfg.HTTP.CORS.MaxAge)
	v.SetDefault("http.compression.enabled", cfg.HTTP.Compression.Enabled)
	v.SetDefault("http.compression.min_size", cfg.HTTP.Compression.MinSize)
	v.SetDefault("http.tls.cert_file", cfg.HTTP.TLS.CertFile)
	v.SetDefault("http.tls.key_file", cfg.HTTP.TLS.KeyFile)
	v.SetDefault("http.tls.client_ca_file", cfg.HTTP.TLS.ClientCAFile)

	// Observability defaults
	v.SetDefault("observability.log_level", cfg.Observability.LogLevel)
	v.SetDefault("observability.log_format", cfg.Observability.LogFormat)
	v.SetDefault("observability.async_logging.enabled", cfg.Observability.AsyncLogging.Enabled)
	v.SetDefault("observability.async_logging.queue_size", cfg.Observability.AsyncLogging.QueueSize)
	v.SetDefault("observability.async_logging.worker_count", cfg.Observability.AsyncLogging.WorkerCount)
	v.SetDefault("observability.async_logging.drop_when_full", cfg.Observability.AsyncLogging.DropWhenFull)
	v.SetDefault("observability.tracing.enabled", cfg.Observability.Tracing.Enabled)
	v.SetDefault("observability.tracing.endpoint", cfg.Observability.Tracing.Endpoint)
	v.SetDefault("observability.tracing.sample_rate", cfg.Observability.Tracing.SampleRate)
	v.SetDefault("observability.tracing.insecure", cfg.Observability.Tracing.Insecure)
	v.SetDefault("observability.metrics_enabled", cfg.Observability.MetricsEnabled)
}

// settingKeys lists every key that can be overridden from the environment.
var settingKeys = []string{
	"service.name",
	"service.environment",
	"backend",
	"mongodb.url",
	"mongodb.database",
	"mongodb.collection",
	"mongodb.connect_timeout",
	"mongodb.operation_timeout",
	"mongodb.ensure_indexes",
	"jobs.default_peek_limit",
	"jobs.runner.queue",
	"jobs.runner.concurrency",
	"jobs.runner.poll_interval",
	"jobs.runner.handler_timeout",
	"jobs.runner.stop_timeout",
	"jobs.runner.failure_threshold",
	"jobs.runner.failure_cooldown",
	"http.port",
	"http.read_timeout",
	"http.write_timeout",
	"http.idle_timeout",
	"http.shutdown_timeout",
	"http.max_request_size",
	"http.rate_limit.enabled",
	"http.rate_limit.requests_per_second",
	"http.rate_limit.burst",
	"http.rate_limit.redis_url",
	"http.rate_limit.redis_prefix",
	"http.rate_limit.window",
	"http.cors.enabled",
	"http.cors.allow_origins",
	"http.cors.allow_headers",
	"http.cors.allow_credentials",
	"http.cors.max_age",
	"http.compression.enabled",
	"http.compression.min_size",
	"http.tls.cert_file",
	"http.tls.key_file",
	"http.tls.client_ca_file",
	"observability.log_level",
	"observability.log_format",
	"observability.async_logging.enabled",
	"observability.async_logging.queue_size",
	"observability.async_logging.worker_count",
	"observability.async_logging.drop_when_full",
	"observability.tracing.enabled",
	"observability.tracing.endpoint",
	"observability.tracing.sample_rate",
	"observability.tracing.insecure",
	"observability.metrics_enabled",
}

// EnvVars returns the environment variable names recognised for prefix.
func EnvVars(prefix string) []string {
	loader := NewViperLoader("", prefix)
	names := make([]string, 0, len(settingKeys))
	for _, key := range settingKeys {
		names = append(names, loader.envName(key))
	}
	return names
}
