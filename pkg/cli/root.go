// Package cli builds the monjobs command tree: the HTTP API server, the worker runner and one
// command per job lifecycle operation.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/nimburion/monjobs/pkg/config"
	"github.com/nimburion/monjobs/pkg/jobs"
	"github.com/nimburion/monjobs/pkg/jobs/memstore"
	"github.com/nimburion/monjobs/pkg/jobs/mongostore"
	"github.com/nimburion/monjobs/pkg/observability/logger"
	"github.com/nimburion/monjobs/pkg/store/mongodb"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// BackendFactory opens the job store selected by cfg. Closing the backend releases every
// resource the factory acquired.
type BackendFactory func(ctx context.Context, cfg *config.Config, log logger.Logger) (jobs.Backend, error)

// Options configures NewRootCommand.
type Options struct {
	// Name is the binary name. Defaults to monjobs.
	Name string
	// EnvPrefix defaults to config.DefaultEnvPrefix.
	EnvPrefix string
	// ConfigPath is the default for --config-file.
	ConfigPath string
	// Backend replaces the factory derived from the backend setting.
	Backend BackendFactory
	// LogOutput receives log entries. Defaults to stderr.
	LogOutput io.Writer
}

type rootState struct {
	opts       Options
	configPath string
	envFile    string
}

// NewRootCommand creates the monjobs command tree.
func NewRootCommand(opts Options) *cobra.Command {
	if strings.TrimSpace(opts.Name) == "" {
		opts.Name = "monjobs"
	}
	if strings.TrimSpace(opts.EnvPrefix) == "" {
		opts.EnvPrefix = config.DefaultEnvPrefix
	}
	if opts.Backend == nil {
		opts.Backend = OpenBackend
	}
	state := &rootState{opts: opts}

	rootCmd := &cobra.Command{
		Use:           opts.Name,
		Short:         "Job queue service over MongoDB",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&state.configPath, "config-file", "c", opts.ConfigPath, "config file path")
	rootCmd.PersistentFlags().StringVar(&state.envFile, "env-file", "", "dotenv file loaded into the environment before configuration")
	config.RegisterFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		setPolicy(newVersionCommand(state), PolicyAlways),
		setPolicy(newConfigCommand(state), PolicyAlways),
		setPolicy(newServeCommand(state), PolicyRun),
		setPolicy(newWorkCommand(state), PolicyRun),
		setPolicy(newHealthcheckCommand(state), PolicyOnDemand),
		setPolicy(newEnqueueCommand(state), PolicyManual),
		setPolicy(newGetCommand(state), PolicyManual),
		setPolicy(newPeekCommand(state), PolicyManual),
		setPolicy(newTakeCommand(state), PolicyManual),
		setPolicy(newAckCommand(state), PolicyManual),
		setPolicy(newReportCommand(state), PolicyManual),
		setPolicy(newCompleteCommand(state), PolicyManual),
	)

	rootCmd.CompletionOptions.DisableDefaultCmd = false
	rootCmd.InitDefaultCompletionCmd()
	ensureDefaultPolicy(rootCmd)

	return rootCmd
}

// Execute runs the command and exits with a non-zero code on failure.
func Execute(cmd *cobra.Command) {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// LoadConfigAndLogger loads the env file, then the configuration, and builds the logger it
// describes. The returned close function flushes the logger.
func LoadConfigAndLogger(flags *pflag.FlagSet, configPath, envFile, envPrefix string, output io.Writer) (*config.Config, logger.Logger, func(), error) {
	if err := config.LoadEnvFile(envFile); err != nil {
		return nil, nil, nil, err
	}
	cfg, err := config.NewViperLoader(configPath, envPrefix).WithFlags(flags).Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	base, err := logger.NewZapLogger(logger.Config{
		Level:  logger.LogLevel(cfg.Observability.LogLevel),
		Format: logger.LogFormat(cfg.Observability.LogFormat),
		Output: output,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create logger: %w", err)
	}
	log := logger.WrapAsync(base, logger.AsyncConfig{
		Enabled:      cfg.Observability.AsyncLogging.Enabled,
		QueueSize:    cfg.Observability.AsyncLogging.QueueSize,
		WorkerCount:  cfg.Observability.AsyncLogging.WorkerCount,
		DropWhenFull: cfg.Observability.AsyncLogging.DropWhenFull,
	})
	log = log.With("service", cfg.Service.Name, "environment", cfg.Service.Environment)

	closeLog := func() {
		if async, ok := log.(io.Closer); ok {
			_ = async.Close()
		}
		_ = base.Sync()
	}
	logConfigIfDebug(log, cfg)
	return cfg, log, closeLog, nil
}

func (s *rootState) load(cmd *cobra.Command) (*config.Config, logger.Logger, func(), error) {
	output := s.opts.LogOutput
	if output == nil {
		output = cmd.ErrOrStderr()
	}
	return LoadConfigAndLogger(cmd.Flags(), s.configPath, s.envFile, s.opts.EnvPrefix, output)
}

// runtime is a loaded configuration with an open job service.
type runtime struct {
	cfg      *config.Config
	log      logger.Logger
	service  *jobs.Service
	closeLog func()
}

func (s *rootState) open(cmd *cobra.Command) (*runtime, error) {
	cfg, log, closeLog, err := s.load(cmd)
	if err != nil {
		return nil, err
	}
	backend, err := s.opts.Backend(cmd.Context(), cfg, log)
	if err != nil {
		closeLog()
		return nil, fmt.Errorf("open %s backend: %w", cfg.Backend, err)
	}
	service, err := jobs.NewService(backend, log, jobs.ServiceConfig{DefaultPeekLimit: cfg.Jobs.DefaultPeekLimit})
	if err != nil {
		_ = backend.Close()
		closeLog()
		return nil, err
	}
	return &runtime{cfg: cfg, log: log, service: service, closeLog: closeLog}, nil
}

func (r *runtime) Close() {
	if err := r.service.Close(); err != nil {
		r.log.Warn("failed to close jobs backend", "error", err)
	}
	r.closeLog()
}

// OpenBackend opens the backend named by cfg.Backend.
func OpenBackend(ctx context.Context, cfg *config.Config, log logger.Logger) (jobs.Backend, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		log.Warn("using the in-memory backend; jobs are lost when the process exits")
		return memstore.New(), nil
	case config.BackendMongoDB:
		return openMongoBackend(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("unsupported backend %q", cfg.Backend)
	}
}

// mongoBackend owns the adapter of its store.
type mongoBackend struct {
	*mongostore.Store
	adapter *mongodb.Adapter
}

func (b *mongoBackend) Close() error {
	return b.adapter.Close()
}

func openMongoBackend(ctx context.Context, cfg *config.Config, log logger.Logger) (jobs.Backend, error) {
	adapter, err := mongodb.NewAdapter(mongodb.Config{
		URL:              cfg.MongoDB.URL,
		Database:         cfg.MongoDB.Database,
		AppName:          cfg.Service.Name,
		ConnectTimeout:   cfg.MongoDB.ConnectTimeout,
		OperationTimeout: cfg.MongoDB.OperationTimeout,
	}, log)
	if err != nil {
		return nil, err
	}
	store, err := mongostore.New(adapter, log, mongostore.Config{Collection: cfg.MongoDB.Collection})
	if err != nil {
		_ = adapter.Close()
		return nil, err
	}
	if cfg.MongoDB.EnsureIndexes {
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = adapter.Close()
			return nil, fmt.Errorf("ensure job indexes: %w", err)
		}
	}
	return &mongoBackend{Store: store, adapter: adapter}, nil
}

func logConfigIfDebug(log logger.Logger, cfg *config.Config) {
	if log == nil || cfg == nil || cfg.Observability.LogLevel != string(logger.DebugLevel) {
		return
	}
	log.Debug("effective configuration", "config", cfg.String())
}
