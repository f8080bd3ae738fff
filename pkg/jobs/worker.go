package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nimburion/monjobs/pkg/attributes"
	"github.com/nimburion/monjobs/pkg/observability/tracing"
	"github.com/nimburion/monjobs/pkg/resilience"
	"go.opentelemetry.io/otel/attribute"
)

// Result payload keys and values written by the worker helpers.
const (
	ResultKey     = "Result"
	ErrorKey      = "Error"
	ResultSuccess = "Success"
	ResultFailure = "Failure"
)

// Handler processes one claimed job and returns the result to record. An empty result records
// {"Result": "Success"}. A returned error records {"Result": "Failure", "Error": <message>}.
type Handler func(ctx context.Context, claim *Claim) (attributes.Bag, error)

// Claim is a job owned by the calling worker. It is released once the handler returns or
// times out.
type Claim struct {
	Job     *Job
	service *Service

	mu       sync.RWMutex
	released bool
}

// Report appends a progress report to the claimed job. It fails with ErrAlreadyCompleted once
// the claim has been released, so a late report never lands after the result.
func (c *Claim) Report(ctx context.Context, report attributes.Bag) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.released {
		return jobsError(ErrAlreadyCompleted, fmt.Sprintf("claim on job %s was released", c.Job.ID))
	}
	return c.service.AddReport(ctx, c.Job.QueueID, c.Job.ID, report)
}

// release waits for in-flight reports and rejects later ones.
func (c *Claim) release() {
	c.mu.Lock()
	c.released = true
	c.mu.Unlock()
}

// ProcessOption tunes a single processing call.
type ProcessOption func(*processOptions)

type processOptions struct {
	handlerTimeout time.Duration
}

// WithHandlerTimeout bounds handler execution. A handler that overruns is recorded as failed.
// The overrunning handler keeps running until it observes its context, but its claim is
// released first, so further Claim.Report calls fail instead of appending after the result.
func WithHandlerTimeout(timeout time.Duration) ProcessOption {
	return func(opts *processOptions) {
		opts.handlerTimeout = timeout
	}
}

// ProcessNext claims the next matching job with TakeNext, runs handler and completes the job.
// It returns the final job state, or nil, nil when no job was available.
func ProcessNext(ctx context.Context, service *Service, opts TakeNextOptions, handler Handler, options ...ProcessOption) (*Job, error) {
	if handler == nil {
		return nil, jobsError(ErrValidation, "handler is required")
	}
	job, err := service.TakeNext(ctx, opts)
	if err != nil || job == nil {
		return nil, err
	}
	return process(ctx, service, job, handler, options)
}

// ProcessNextPeekThenAck lists candidates with Peek and acknowledges them in order until one
// claim succeeds, then runs handler and completes the job. Candidates claimed by other workers
// in between are skipped. It returns nil, nil when every candidate was lost or none matched.
func ProcessNextPeekThenAck(ctx context.Context, service *Service, query PeekNextQuery, ack attributes.Bag, handler Handler, options ...ProcessOption) (*Job, error) {
	if handler == nil {
		return nil, jobsError(ErrValidation, "handler is required")
	}
	query.HasBeenAcknowledged = Bool(false)
	candidates, err := service.Peek(ctx, query)
	if err != nil {
		return nil, err
	}
	for _, candidate := range candidates {
		claim, err := service.Acknowledge(ctx, candidate.QueueID, candidate.ID, ack)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		if !claim.Success {
			continue
		}
		owned := candidate.Clone()
		acknowledgment := ack.Clone()
		owned.Acknowledgment = &acknowledgment
		return process(ctx, service, owned, handler, options)
	}
	return nil, nil
}

func process(ctx context.Context, service *Service, job *Job, handler Handler, options []ProcessOption) (*Job, error) {
	var opts processOptions
	for _, option := range options {
		option(&opts)
	}

	incrementJobInFlight(job.QueueID)
	defer decrementJobInFlight(job.QueueID)

	traceCtx, span := tracing.StartJobSpan(ctx, tracing.SpanOperationJobProcess,
		tracing.WithJobQueue(string(job.QueueID)), tracing.WithJobID(string(job.ID)))
	span.SetAttributes(attribute.Int("jobs.attributes", job.Attributes.Len()))
	defer span.End()

	claim := &Claim{Job: job, service: service}
	result, handlerErr := executeHandler(traceCtx, claim, handler, opts.handlerTimeout)
	claim.release()
	status := "succeeded"
	if handlerErr != nil {
		tracing.RecordError(span, handlerErr)
		status = "failed"
		result = failureResult(handlerErr)
	} else if result.Len() == 0 {
		result = attributes.MustOf(ResultKey, ResultSuccess)
	}

	// The claim is already ours, so the result is written even if the caller's context ended.
	completeCtx := context.WithoutCancel(traceCtx)
	if err := service.Complete(completeCtx, job.QueueID, job.ID, result); err != nil {
		tracing.RecordError(span, err)
		recordJobProcessed(job.QueueID, "error")
		return nil, fmt.Errorf("complete job %s: %w", job.ID, err)
	}
	recordJobProcessed(job.QueueID, status)

	final, err := service.Get(completeCtx, job.QueueID, job.ID)
	if err != nil {
		return nil, err
	}
	if handlerErr == nil {
		tracing.RecordSuccess(span)
	}
	return final, nil
}

func executeHandler(ctx context.Context, claim *Claim, handler Handler, timeout time.Duration) (result attributes.Bag, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result = attributes.Bag{}
			err = fmt.Errorf("panic while handling job: %v", rec)
		}
	}()

	if timeout <= 0 {
		return handler(ctx, claim)
	}
	var out attributes.Bag
	err = resilience.WithTimeout(ctx, timeout, func(runCtx context.Context) (runErr error) {
		defer func() {
			if rec := recover(); rec != nil {
				runErr = fmt.Errorf("panic while handling job: %v", rec)
			}
		}()
		bag, handlerErr := handler(runCtx, claim)
		if handlerErr == nil {
			out = bag
		}
		return handlerErr
	})
	if err != nil {
		return attributes.Bag{}, err
	}
	return out, nil
}

func failureResult(err error) attributes.Bag {
	return attributes.MustOf(ResultKey, ResultFailure, ErrorKey, err.Error())
}
