package config

import "github.com/spf13/pflag"

// flagKeys maps settings keys to the command-line flags that override them.
var flagKeys = map[string]string{
	"backend":                   "backend",
	"mongodb.url":               "mongodb-url",
	"mongodb.database":          "mongodb-database",
	"mongodb.collection":        "mongodb-collection",
	"http.port":                 "http-port",
	"jobs.runner.queue":         "queue",
	"jobs.runner.concurrency":   "concurrency",
	"jobs.runner.poll_interval": "poll-interval",
	"observability.log_level":   "log-level",
	"observability.log_format":  "log-format",
}

// RegisterFlags adds the override flags to flags. Only flags the user sets are applied by
// ViperLoader.WithFlags, so the defaults shown here never mask file or environment values.
func RegisterFlags(flags *pflag.FlagSet) {
	defaults := DefaultConfig()
	flags.String("backend", defaults.Backend, "storage backend: mongodb or memory")
	flags.String("mongodb-url", defaults.MongoDB.URL, "MongoDB connection URL")
	flags.String("mongodb-database", defaults.MongoDB.Database, "MongoDB database name")
	flags.String("mongodb-collection", defaults.MongoDB.Collection, "job collection name")
	flags.Int("http-port", defaults.HTTP.Port, "HTTP API port")
	flags.String("queue", defaults.Jobs.Runner.Queue, "queue processed by the worker")
	flags.Int("concurrency", defaults.Jobs.Runner.Concurrency, "concurrent jobs per worker")
	flags.Duration("poll-interval", defaults.Jobs.Runner.PollInterval, "idle poll interval of the worker")
	flags.String("log-level", defaults.Observability.LogLevel, "log level: debug, info, warn, error")
	flags.String("log-format", defaults.Observability.LogFormat, "log format: json or text")
}
