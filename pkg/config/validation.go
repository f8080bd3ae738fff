package config

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const redactedPassword = "***"

func (c *Config) normalize() {
	c.Service.Name = strings.TrimSpace(c.Service.Name)
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	c.MongoDB.URL = strings.TrimSpace(c.MongoDB.URL)
	c.MongoDB.Database = strings.TrimSpace(c.MongoDB.Database)
	c.MongoDB.Collection = strings.TrimSpace(c.MongoDB.Collection)
	c.HTTP.RateLimit.RedisURL = strings.TrimSpace(c.HTTP.RateLimit.RedisURL)
	c.Jobs.Runner.Queue = strings.TrimSpace(c.Jobs.Runner.Queue)
	c.Observability.LogLevel = strings.ToLower(strings.TrimSpace(c.Observability.LogLevel))
	c.Observability.LogFormat = strings.ToLower(strings.TrimSpace(c.Observability.LogFormat))
}

// Validate checks if the configuration is valid. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.Service.Name == "" {
		errs = append(errs, errors.New("service.name is required"))
	}

	switch c.Backend {
	case BackendMongoDB:
		if c.MongoDB.URL == "" {
			errs = append(errs, errors.New("mongodb.url is required when backend is mongodb"))
		} else if !strings.HasPrefix(c.MongoDB.URL, "mongodb://") && !strings.HasPrefix(c.MongoDB.URL, "mongodb+srv://") {
			errs = append(errs, errors.New("mongodb.url must use the mongodb:// or mongodb+srv:// scheme"))
		}
		if c.MongoDB.Database == "" {
			errs = append(errs, errors.New("mongodb.database is required when backend is mongodb"))
		}
		if c.MongoDB.Collection == "" {
			errs = append(errs, errors.New("mongodb.collection is required when backend is mongodb"))
		}
		if c.MongoDB.ConnectTimeout <= 0 {
			errs = append(errs, errors.New("mongodb.connect_timeout must be greater than 0"))
		}
		if c.MongoDB.OperationTimeout <= 0 {
			errs = append(errs, errors.New("mongodb.operation_timeout must be greater than 0"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("invalid backend: %q (must be one of: %s, %s)", c.Backend, BackendMongoDB, BackendMemory))
	}

	if c.Jobs.DefaultPeekLimit <= 0 {
		errs = append(errs, errors.New("jobs.default_peek_limit must be greater than 0"))
	}
	runner := c.Jobs.Runner
	if runner.Concurrency <= 0 {
		errs = append(errs, errors.New("jobs.runner.concurrency must be greater than 0"))
	}
	if runner.PollInterval <= 0 {
		errs = append(errs, errors.New("jobs.runner.poll_interval must be greater than 0"))
	}
	if runner.HandlerTimeout < 0 {
		errs = append(errs, errors.New("jobs.runner.handler_timeout cannot be negative"))
	}
	if runner.FailureThreshold <= 0 {
		errs = append(errs, errors.New("jobs.runner.failure_threshold must be greater than 0"))
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port))
	}
	if c.HTTP.MaxRequestSize <= 0 {
		errs = append(errs, errors.New("http.max_request_size must be greater than 0"))
	}
	if rl := c.HTTP.RateLimit; rl.Enabled {
		if rl.RequestsPerSecond <= 0 {
			errs = append(errs, errors.New("http.rate_limit.requests_per_second must be greater than 0 when rate limiting is enabled"))
		}
		if rl.Burst < 0 {
			errs = append(errs, errors.New("http.rate_limit.burst cannot be negative"))
		}
		if rl.RedisURL != "" && !strings.HasPrefix(rl.RedisURL, "redis://") && !strings.HasPrefix(rl.RedisURL, "rediss://") {
			errs = append(errs, errors.New("http.rate_limit.redis_url must use the redis:// or rediss:// scheme"))
		}
	}
	if c.HTTP.CORS.Enabled && len(c.HTTP.CORS.AllowOrigins) == 0 {
		errs = append(errs, errors.New("http.cors.allow_origins is required when CORS is enabled"))
	}
	if c.HTTP.Compression.MinSize < 0 {
		errs = append(errs, errors.New("http.compression.min_size cannot be negative"))
	}
	if tls := c.HTTP.TLS; tls.Enabled() && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("http.tls.cert_file and http.tls.key_file must be set together"))
	}
	if tls := c.HTTP.TLS; tls.ClientCAFile != "" && !tls.Enabled() {
		errs = append(errs, errors.New("http.tls.client_ca_file requires a server certificate"))
	}

	obs := c.Observability
	switch obs.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid observability.log_level: %q", obs.LogLevel))
	}
	if obs.LogFormat != LogFormatJSON && obs.LogFormat != LogFormatText {
		errs = append(errs, fmt.Errorf("invalid observability.log_format: %q (must be json or text)", obs.LogFormat))
	}
	if obs.AsyncLogging.Enabled {
		if obs.AsyncLogging.QueueSize <= 0 {
			errs = append(errs, errors.New("observability.async_logging.queue_size must be greater than 0 when async logging is enabled"))
		}
		if obs.AsyncLogging.WorkerCount <= 0 {
			errs = append(errs, errors.New("observability.async_logging.worker_count must be greater than 0 when async logging is enabled"))
		}
	}
	if obs.Tracing.Enabled {
		if strings.TrimSpace(obs.Tracing.Endpoint) == "" {
			errs = append(errs, errors.New("observability.tracing.endpoint is required when tracing is enabled"))
		}
		if obs.Tracing.SampleRate < 0 || obs.Tracing.SampleRate > 1 {
			errs = append(errs, errors.New("observability.tracing.sample_rate must be between 0 and 1"))
		}
	}

	return errors.Join(errs...)
}

// Redacted returns a copy of the configuration with connection string passwords masked.
func (c *Config) Redacted() *Config {
	clone := *c
	clone.MongoDB.URL = redactURL(c.MongoDB.URL)
	clone.HTTP.RateLimit.RedisURL = redactURL(c.HTTP.RateLimit.RedisURL)
	return &clone
}

// String renders the redacted configuration as YAML.
func (c *Config) String() string {
	out, err := yaml.Marshal(c.Redacted())
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(out)
}

// redactURL masks the password of a connection string. Seed lists such as host1,host2 are not
// valid net/url hosts, so the userinfo is located by hand.
func redactURL(raw string) string {
	schemeEnd := strings.Index(raw, "://")
	if schemeEnd < 0 {
		return raw
	}
	rest := raw[schemeEnd+3:]
	authority := rest
	if slash := strings.IndexAny(rest, "/?"); slash >= 0 {
		authority = rest[:slash]
	}
	at := strings.LastIndex(authority, "@")
	if at < 0 {
		return raw
	}
	user, _, hasPassword := strings.Cut(authority[:at], ":")
	if !hasPassword {
		return raw
	}
	return raw[:schemeEnd+3] + user + ":" + redactedPassword + rest[at:]
}
