package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

const testEnvPrefix = "MJTEST"

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Service.Name != "monjobs" {
		t.Errorf("expected service name monjobs, got %s", cfg.Service.Name)
	}
	if cfg.Backend != BackendMongoDB {
		t.Errorf("expected backend mongodb, got %s", cfg.Backend)
	}
	if cfg.MongoDB.Collection != "jobs" {
		t.Errorf("expected collection jobs, got %s", cfg.MongoDB.Collection)
	}
	if cfg.Jobs.DefaultPeekLimit != 10 {
		t.Errorf("expected default peek limit 10, got %d", cfg.Jobs.DefaultPeekLimit)
	}
	if cfg.HTTP.Port != 8080 {
		t.Errorf("expected HTTP port 8080, got %d", cfg.HTTP.Port)
	}
	if cfg.Observability.LogFormat != LogFormatJSON {
		t.Errorf("expected log format json, got %s", cfg.Observability.LogFormat)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected defaults to be valid, got %v", err)
	}
}

func TestViperLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewViperLoader("", testEnvPrefix).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MongoDB.Database != "monjobs" {
		t.Errorf("expected default database, got %s", cfg.MongoDB.Database)
	}
	if cfg.Jobs.Runner.PollInterval != time.Second {
		t.Errorf("expected poll interval 1s, got %v", cfg.Jobs.Runner.PollInterval)
	}
}

func TestViperLoader_FileOverridesDefaults(t *testing.T) {
	path := writeFile(t, "config.yaml", `
mongodb:
  database: fromfile
  connect_timeout: 3s
jobs:
  default_peek_limit: 25
  runner:
    queue: emails
observability:
  log_level: DEBUG
`)

	cfg, err := NewViperLoader(path, testEnvPrefix).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MongoDB.Database != "fromfile" {
		t.Errorf("expected database from file, got %s", cfg.MongoDB.Database)
	}
	if cfg.MongoDB.ConnectTimeout != 3*time.Second {
		t.Errorf("expected connect timeout 3s, got %v", cfg.MongoDB.ConnectTimeout)
	}
	if cfg.MongoDB.Collection != "jobs" {
		t.Errorf("expected default collection to survive, got %s", cfg.MongoDB.Collection)
	}
	if cfg.Jobs.DefaultPeekLimit != 25 {
		t.Errorf("expected peek limit 25, got %d", cfg.Jobs.DefaultPeekLimit)
	}
	if cfg.Jobs.Runner.Queue != "emails" {
		t.Errorf("expected runner queue emails, got %s", cfg.Jobs.Runner.Queue)
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("expected normalized log level debug, got %s", cfg.Observability.LogLevel)
	}
}

func TestViperLoader_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "config.yaml", "mongodb:\n  database: fromfile\nhttp:\n  port: 9000\n")
	t.Setenv(testEnvPrefix+"_MONGODB_DATABASE", "fromenv")
	t.Setenv(testEnvPrefix+"_JOBS_RUNNER_POLL_INTERVAL", "250ms")
	t.Setenv(testEnvPrefix+"_OBSERVABILITY_TRACING_ENABLED", "true")

	cfg, err := NewViperLoader(path, testEnvPrefix).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MongoDB.Database != "fromenv" {
		t.Errorf("expected database from env, got %s", cfg.MongoDB.Database)
	}
	if cfg.HTTP.Port != 9000 {
		t.Errorf("expected file port to survive, got %d", cfg.HTTP.Port)
	}
	if cfg.Jobs.Runner.PollInterval != 250*time.Millisecond {
		t.Errorf("expected poll interval 250ms, got %v", cfg.Jobs.Runner.PollInterval)
	}
	if !cfg.Observability.Tracing.Enabled {
		t.Error("expected tracing enabled from env")
	}
}

func TestViperLoader_CORSOriginsFromEnv(t *testing.T) {
	t.Setenv(testEnvPrefix+"_HTTP_CORS_ENABLED", "true")
	t.Setenv(testEnvPrefix+"_HTTP_CORS_ALLOW_ORIGINS", "https://a.example.com,https://*.example.org")
	t.Setenv(testEnvPrefix+"_HTTP_RATE_LIMIT_WINDOW", "2s")

	cfg, err := NewViperLoader("", testEnvPrefix).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.HTTP.CORS.AllowOrigins) != 2 || cfg.HTTP.CORS.AllowOrigins[1] != "https://*.example.org" {
		t.Errorf("unexpected origins %v", cfg.HTTP.CORS.AllowOrigins)
	}
	if cfg.HTTP.RateLimit.Window != 2*time.Second {
		t.Errorf("expected rate limit window 2s, got %v", cfg.HTTP.RateLimit.Window)
	}
}

func TestViperLoader_MongoURLAlias(t *testing.T) {
	t.Setenv(testEnvPrefix+"_MONGO_URL", "mongodb://alias:27017")

	cfg, err := NewViperLoader("", testEnvPrefix).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MongoDB.URL != "mongodb://alias:27017" {
		t.Errorf("expected alias URL, got %s", cfg.MongoDB.URL)
	}
}

func TestViperLoader_FlagsOverrideEnv(t *testing.T) {
	t.Setenv(testEnvPrefix+"_HTTP_PORT", "9000")
	t.Setenv(testEnvPrefix+"_MONGODB_DATABASE", "fromenv")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(flags)
	if err := flags.Parse([]string{"--http-port=9191", "--queue=reports"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := NewViperLoader("", testEnvPrefix).WithFlags(flags).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Port != 9191 {
		t.Errorf("expected flag port 9191, got %d", cfg.HTTP.Port)
	}
	if cfg.Jobs.Runner.Queue != "reports" {
		t.Errorf("expected flag queue, got %s", cfg.Jobs.Runner.Queue)
	}
	if cfg.MongoDB.Database != "fromenv" {
		t.Errorf("expected unset flag to leave env value, got %s", cfg.MongoDB.Database)
	}
}

func TestViperLoader_MissingFile(t *testing.T) {
	_, err := NewViperLoader(filepath.Join(t.TempDir(), "missing.yaml"), testEnvPrefix).Load()
	if err == nil {
		t.Fatal("expected missing config file to fail")
	}
}

func TestViperLoader_InvalidConfig(t *testing.T) {
	t.Setenv(testEnvPrefix+"_BACKEND", "cassandra")
	t.Setenv(testEnvPrefix+"_HTTP_PORT", "0")

	_, err := NewViperLoader("", testEnvPrefix).Load()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"config validation failed", "invalid backend", "http.port"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected error to mention %q, got %v", want, err)
		}
	}
}

func TestLoadEnvFile(t *testing.T) {
	key := testEnvPrefix + "_ENVFILE_DATABASE"
	path := writeFile(t, ".env", key+"=fromdotenv\n")
	t.Cleanup(func() { _ = os.Unsetenv(key) })

	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("load env file: %v", err)
	}
	if got := os.Getenv(key); got != "fromdotenv" {
		t.Errorf("expected fromdotenv, got %q", got)
	}
	if err := LoadEnvFile(""); err != nil {
		t.Errorf("expected empty path to be a no-op, got %v", err)
	}
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Error("expected missing env file to fail")
	}
}

func TestLoadEnvFile_ExistingVariablesWin(t *testing.T) {
	key := testEnvPrefix + "_ENVFILE_KEEP"
	t.Setenv(key, "already")
	path := writeFile(t, ".env", key+"=fromfile\n")

	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("load env file: %v", err)
	}
	if got := os.Getenv(key); got != "already" {
		t.Errorf("expected existing value to win, got %q", got)
	}
}

func TestEnvVars(t *testing.T) {
	names := EnvVars("")
	if len(names) != len(settingKeys) {
		t.Fatalf("expected %d names, got %d", len(settingKeys), len(names))
	}
	found := false
	for _, name := range names {
		if name == "MONJOBS_JOBS_RUNNER_CONCURRENCY" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected MONJOBS_JOBS_RUNNER_CONCURRENCY in %v", names)
	}
}
