package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nimburion/monjobs/pkg/attributes"
	"github.com/nimburion/monjobs/pkg/observability/logger"
	"github.com/nimburion/monjobs/pkg/resilience"
	"golang.org/x/time/rate"
)

const (
	DefaultRunnerPollInterval = time.Second
	DefaultRunnerStopTimeout  = 10 * time.Second

	DefaultRunnerFailureThreshold = 5
	DefaultRunnerFailureCooldown  = 30 * time.Second
)

// Acknowledgment keys written by Runner claims.
const (
	AckRunnerID       = "RunnerId"
	AckAcknowledgedAt = "AcknowledgedAt"
)

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	// Query selects the jobs the runner claims. QueueID is required.
	Query       JobQuery
	Concurrency int
	// PollInterval paces idle polling across all goroutines of the runner.
	PollInterval   time.Duration
	HandlerTimeout time.Duration
	StopTimeout    time.Duration
	// FailureThreshold consecutive store failures open the breaker for FailureCooldown.
	FailureThreshold int
	FailureCooldown  time.Duration
	// RunnerID is written into every acknowledgment. Generated when empty.
	RunnerID string
}

func (c *RunnerConfig) normalize() {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultRunnerPollInterval
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultRunnerStopTimeout
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultRunnerFailureThreshold
	}
	if c.FailureCooldown <= 0 {
		c.FailureCooldown = DefaultRunnerFailureCooldown
	}
	if c.RunnerID == "" {
		c.RunnerID = uuid.NewString()
	}
}

// Runner claims and processes jobs with a fixed number of goroutines until stopped. Failed
// handlers are completed with a failure result; nothing is retried.
type Runner struct {
	service *Service
	handler Handler
	log     logger.Logger
	config  RunnerConfig
	idle    *rate.Limiter
	breaker *resilience.CircuitBreaker

	lifecycleMu sync.Mutex
	running     bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewRunner creates a runner.
func NewRunner(service *Service, handler Handler, log logger.Logger, cfg RunnerConfig) (*Runner, error) {
	if service == nil {
		return nil, errors.New("service is required")
	}
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.Query.QueueID.IsZero() {
		return nil, jobsError(ErrValidation, "runner queue id is required")
	}
	if _, err := cfg.Query.Filter(); err != nil {
		return nil, err
	}
	cfg.normalize()

	runnerLog := log.With("runner_id", cfg.RunnerID, "queue", string(cfg.Query.QueueID))
	breaker := resilience.NewCircuitBreaker(cfg.FailureThreshold, cfg.FailureCooldown)
	breaker.OnStateChange(func(from, to resilience.State) {
		if to == resilience.StateOpen {
			runnerLog.Warn("jobs store failing, pausing claims", "cooldown", cfg.FailureCooldown.String())
			return
		}
		runnerLog.Info("jobs store circuit changed", "from", from.String(), "to", to.String())
	})

	return &Runner{
		service: service,
		handler: handler,
		log:     runnerLog,
		config:  cfg,
		idle:    rate.NewLimiter(rate.Every(cfg.PollInterval), cfg.Concurrency),
		breaker: breaker,
	}, nil
}

// ID returns the id written into acknowledgments.
func (r *Runner) ID() string {
	return r.config.RunnerID
}

// Start launches the processing loops and blocks until ctx is cancelled, then stops gracefully.
func (r *Runner) Start(ctx context.Context) error {
	if r == nil {
		return errors.New("runner is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	r.lifecycleMu.Lock()
	if r.running {
		r.lifecycleMu.Unlock()
		return jobsError(ErrConflict, "runner already running")
	}
	runCtx, cancel := context.WithCancel(logger.ContextWithRunnerID(ctx, r.config.RunnerID))
	r.cancel = cancel
	r.running = true
	r.lifecycleMu.Unlock()

	r.log.Info("jobs runner started", "concurrency", r.config.Concurrency)
	for idx := 0; idx < r.config.Concurrency; idx++ {
		r.wg.Add(1)
		go r.loop(runCtx)
	}

	<-runCtx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), r.config.StopTimeout)
	defer stopCancel()
	return r.Stop(stopCtx)
}

// Stop cancels the loops and waits for in-flight jobs to be completed.
func (r *Runner) Stop(ctx context.Context) error {
	if r == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	r.lifecycleMu.Lock()
	if !r.running {
		r.lifecycleMu.Unlock()
		return nil
	}
	cancel := r.cancel
	r.cancel = nil
	r.running = false
	r.lifecycleMu.Unlock()

	if cancel != nil {
		cancel()
	}

	waitCh := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(waitCh)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-waitCh:
		r.log.Info("jobs runner stopped")
		return nil
	}
}

func (r *Runner) loop(ctx context.Context) {
	defer r.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		var job *Job
		err := r.breaker.Execute(func() error {
			var processErr error
			job, processErr = ProcessNext(ctx, r.service, r.takeOptions(), r.handler, WithHandlerTimeout(r.config.HandlerTimeout))
			if errors.Is(processErr, context.Canceled) {
				return nil
			}
			return processErr
		})
		switch {
		case errors.Is(err, resilience.ErrCircuitBreakerOpen):
			if !r.pause(ctx, r.config.PollInterval) {
				return
			}
		case err != nil:
			r.log.Warn("jobs runner iteration failed", "error", err)
			if !r.pause(ctx, r.config.PollInterval) {
				return
			}
		case job == nil:
			if r.idle.Wait(ctx) != nil {
				return
			}
		default:
			r.log.Debug("job processed", "job_id", job.ID, "result", job.Result)
		}
	}
}

func (r *Runner) takeOptions() TakeNextOptions {
	return TakeNextOptions{
		JobQuery: r.config.Query,
		Acknowledgment: attributes.MustOf(
			AckRunnerID, r.config.RunnerID,
			AckAcknowledgedAt, time.Now().UTC().Format(time.RFC3339Nano),
		),
	}
}

func (r *Runner) pause(ctx context.Context, wait time.Duration) bool {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
