package jobs

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/nimburion/monjobs/pkg/attributes"
	"github.com/nimburion/monjobs/pkg/observability/logger"
	"github.com/nimburion/monjobs/pkg/observability/tracing"
	"go.opentelemetry.io/otel/attribute"
)

// ServiceConfig tunes Service defaults.
type ServiceConfig struct {
	// DefaultPeekLimit bounds Peek calls that do not set a limit.
	DefaultPeekLimit int
}

func (c *ServiceConfig) normalize() {
	if c.DefaultPeekLimit <= 0 {
		c.DefaultPeekLimit = DefaultPeekLimit
	}
}

// Service exposes the lifecycle operations over one Backend with logging, tracing and metrics.
// It holds no job state; every method is safe for concurrent use.
type Service struct {
	backend Backend
	log     logger.Logger
	config  ServiceConfig
	closed  atomic.Bool
}

// NewService creates a service around backend.
func NewService(backend Backend, log logger.Logger, cfg ServiceConfig) (*Service, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	cfg.normalize()
	return &Service{backend: backend, log: log, config: cfg}, nil
}

// Enqueue stores a new job.
func (s *Service) Enqueue(ctx context.Context, job *Job) (*Job, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var queue QueueID
	if job != nil {
		queue = job.QueueID
	}
	ctx, span := tracing.StartJobSpan(ctx, tracing.SpanOperationJobEnqueue, tracing.WithJobQueue(string(queue)))
	defer span.End()

	stored, err := Enqueue(ctx, s.backend, job)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("jobs.job_id", string(stored.ID)))
	recordJobEnqueued(stored.QueueID)
	s.log.WithContext(ctx).Debug("job enqueued", "queue", stored.QueueID, "job_id", stored.ID)
	tracing.RecordSuccess(span)
	return stored, nil
}

// Get reads one job.
func (s *Service) Get(ctx context.Context, queue QueueID, id JobID) (*Job, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	ctx, span := tracing.StartJobSpan(ctx, tracing.SpanOperationJobGet,
		tracing.WithJobQueue(string(queue)), tracing.WithJobID(string(id)))
	defer span.End()

	job, err := Get(ctx, s.backend, queue, id)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	tracing.RecordSuccess(span)
	return job, nil
}

// Peek lists matching jobs without claiming them.
func (s *Service) Peek(ctx context.Context, query PeekNextQuery) ([]*Job, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if query.Limit <= 0 {
		query.Limit = s.config.DefaultPeekLimit
	}
	ctx, span := tracing.StartJobSpan(ctx, tracing.SpanOperationJobPeek, tracing.WithJobQueue(string(query.QueueID)))
	defer span.End()

	found, err := Peek(ctx, s.backend, query)
	if err != nil {
		recordInvalidQuery(query.QueueID, err)
		tracing.RecordError(span, err)
		s.log.WithContext(ctx).Warn("jobs peek failed", "queue", query.QueueID, "error", err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("jobs.peek_count", len(found)))
	tracing.RecordSuccess(span)
	return found, nil
}

// TakeNext atomically claims the next matching job. It returns nil, nil when none is available.
func (s *Service) TakeNext(ctx context.Context, opts TakeNextOptions) (*Job, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	ctx, span := tracing.StartJobSpan(ctx, tracing.SpanOperationJobTake, tracing.WithJobQueue(string(opts.QueueID)))
	defer span.End()

	job, err := TakeNext(ctx, s.backend, opts)
	if err != nil {
		recordInvalidQuery(opts.QueueID, err)
		recordTake(opts.QueueID, errorOutcome(err))
		tracing.RecordError(span, err)
		s.log.WithContext(ctx).Warn("jobs take failed", "queue", opts.QueueID, "error", err)
		return nil, err
	}
	if job == nil {
		recordTake(opts.QueueID, outcomeEmpty)
		tracing.RecordSuccess(span)
		return nil, nil
	}
	span.SetAttributes(attribute.String("jobs.job_id", string(job.ID)))
	recordTake(opts.QueueID, outcomeClaimed)
	s.log.WithContext(ctx).Debug("job claimed", "queue", job.QueueID, "job_id", job.ID)
	tracing.RecordSuccess(span)
	return job, nil
}

// Acknowledge claims a job seen through Peek. Losing the race is reported through Success.
func (s *Service) Acknowledge(ctx context.Context, queue QueueID, id JobID, ack attributes.Bag) (AcknowledgmentResult, error) {
	if err := s.ready(); err != nil {
		return AcknowledgmentResult{}, err
	}
	ctx, span := tracing.StartJobSpan(ctx, tracing.SpanOperationJobAcknowledge,
		tracing.WithJobQueue(string(queue)), tracing.WithJobID(string(id)))
	defer span.End()

	result, err := Acknowledge(ctx, s.backend, queue, id, ack)
	if err != nil {
		recordAcknowledgment(queue, errorOutcome(err))
		tracing.RecordError(span, err)
		return AcknowledgmentResult{}, err
	}
	span.SetAttributes(attribute.Bool("jobs.ack_success", result.Success))
	if result.Success {
		recordAcknowledgment(queue, outcomeSuccess)
		s.log.WithContext(ctx).Debug("job acknowledged", "queue", queue, "job_id", id)
	} else {
		recordAcknowledgment(queue, outcomeClaimLost)
		s.log.WithContext(ctx).Debug("job already claimed", "queue", queue, "job_id", id)
	}
	tracing.RecordSuccess(span)
	return result, nil
}

// AddReport appends a progress report.
func (s *Service) AddReport(ctx context.Context, queue QueueID, id JobID, report attributes.Bag) error {
	if err := s.ready(); err != nil {
		return err
	}
	ctx, span := tracing.StartJobSpan(ctx, tracing.SpanOperationJobReport,
		tracing.WithJobQueue(string(queue)), tracing.WithJobID(string(id)))
	defer span.End()

	if err := AddReport(ctx, s.backend, queue, id, report); err != nil {
		tracing.RecordError(span, err)
		return err
	}
	recordReport(queue)
	tracing.RecordSuccess(span)
	return nil
}

// Complete records the job result once.
func (s *Service) Complete(ctx context.Context, queue QueueID, id JobID, result attributes.Bag) error {
	if err := s.ready(); err != nil {
		return err
	}
	ctx, span := tracing.StartJobSpan(ctx, tracing.SpanOperationJobComplete,
		tracing.WithJobQueue(string(queue)), tracing.WithJobID(string(id)))
	defer span.End()

	if err := Complete(ctx, s.backend, queue, id, result); err != nil {
		recordCompletion(queue, errorOutcome(err))
		tracing.RecordError(span, err)
		return err
	}
	recordCompletion(queue, outcomeSuccess)
	s.log.WithContext(ctx).Debug("job completed", "queue", queue, "job_id", id)
	tracing.RecordSuccess(span)
	return nil
}

// HealthCheck probes the backend.
func (s *Service) HealthCheck(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.backend.HealthCheck(ctx)
}

// Close closes the backend. Later calls return nil; other methods fail with ErrClosed.
func (s *Service) Close() error {
	if s == nil || !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.backend.Close()
}

func (s *Service) ready() error {
	if s == nil || s.backend == nil {
		return ErrNotInitialized
	}
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}
