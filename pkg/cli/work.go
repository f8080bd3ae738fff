package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nimburion/monjobs/pkg/attributes"
	"github.com/nimburion/monjobs/pkg/config"
	"github.com/nimburion/monjobs/pkg/jobs"
	"github.com/nimburion/monjobs/pkg/observability/logger"
	"github.com/spf13/cobra"
)

// Report and result keys written by the built-in handler.
const (
	ReportStageKey = "Stage"
	ReportReceived = "Received"
	ResultHandled  = "HandledAt"
)

// LogHandler is the built-in handler of `monjobs work`. It logs the claimed job, reports that
// it was received and completes it successfully.
func LogHandler(log logger.Logger) jobs.Handler {
	return func(ctx context.Context, claim *jobs.Claim) (attributes.Bag, error) {
		log.WithContext(ctx).Info("job received",
			"queue", claim.Job.QueueID,
			"job_id", claim.Job.ID,
			"attributes", claim.Job.Attributes.String(),
		)
		if err := claim.Report(ctx, attributes.MustOf(ReportStageKey, ReportReceived)); err != nil {
			return attributes.Bag{}, err
		}
		return attributes.MustOf(
			jobs.ResultKey, jobs.ResultSuccess,
			ResultHandled, time.Now().UTC().Format(time.RFC3339Nano),
		), nil
	}
}

func newWorkCommand(state *rootState) *cobra.Command {
	var (
		selectors   queryFlags
		once        bool
		peekThenAck bool
	)
	cmd := &cobra.Command{
		Use:   "work",
		Short: "Claim and process jobs from jobs.runner.queue until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := state.open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			query, err := selectors.jobQuery(rt.cfg.Jobs.Runner.Queue)
			if err != nil {
				return err
			}
			if query.QueueID.IsZero() {
				return errors.New("jobs.runner.queue is required (set --queue or MONJOBS_JOBS_RUNNER_QUEUE)")
			}
			handler := LogHandler(rt.log)

			if once {
				job, err := processOnce(cmd.Context(), rt, query, handler, peekThenAck)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), job)
			}

			runner, err := jobs.NewRunner(rt.service, handler, rt.log, runnerConfig(rt.cfg.Jobs.Runner, query))
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runner.Start(ctx)
		},
	}
	selectors.register(cmd.Flags())
	cmd.Flags().BoolVar(&once, "once", false, "process at most one job, print it and exit")
	cmd.Flags().BoolVar(&peekThenAck, "peek-then-ack", false, "with --once, claim through peek and acknowledge instead of take")
	return cmd
}

func processOnce(ctx context.Context, rt *runtime, query jobs.JobQuery, handler jobs.Handler, peekThenAck bool) (*jobs.Job, error) {
	timeout := jobs.WithHandlerTimeout(rt.cfg.Jobs.Runner.HandlerTimeout)
	runnerID := uuid.NewString()
	ack := attributes.MustOf(
		jobs.AckRunnerID, runnerID,
		jobs.AckAcknowledgedAt, time.Now().UTC().Format(time.RFC3339Nano),
	)
	ctx = logger.ContextWithRunnerID(ctx, runnerID)
	if peekThenAck {
		return jobs.ProcessNextPeekThenAck(ctx, rt.service, jobs.PeekNextQuery{JobQuery: query}, ack, handler, timeout)
	}
	return jobs.ProcessNext(ctx, rt.service, jobs.TakeNextOptions{JobQuery: query, Acknowledgment: ack}, handler, timeout)
}

func runnerConfig(cfg config.RunnerConfig, query jobs.JobQuery) jobs.RunnerConfig {
	return jobs.RunnerConfig{
		Query:            query,
		Concurrency:      cfg.Concurrency,
		PollInterval:     cfg.PollInterval,
		HandlerTimeout:   cfg.HandlerTimeout,
		StopTimeout:      cfg.StopTimeout,
		FailureThreshold: cfg.FailureThreshold,
		FailureCooldown:  cfg.FailureCooldown,
	}
}
