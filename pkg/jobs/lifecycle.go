package jobs

import (
	"context"
	"fmt"

	"github.com/nimburion/monjobs/pkg/attributes"
	"github.com/nimburion/monjobs/pkg/jobs/filter"
)

// AcknowledgmentResult reports the outcome of an explicit claim. Success is false when another
// worker claimed the job first; that is an expected outcome, not an error.
type AcknowledgmentResult struct {
	Success bool
}

// Enqueue stores job as a new, unclaimed job and returns the stored copy. A missing id is
// generated. Claim, reports and result supplied by the caller are discarded.
func Enqueue(ctx context.Context, b Backend, job *Job) (*Job, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}
	stored := job.Clone()
	if stored.ID.IsZero() {
		stored.ID = NewJobID()
	}
	stored.Acknowledgment = nil
	stored.Reports = []attributes.Bag{}
	stored.Result = nil

	if err := b.Insert(ctx, stored); err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return stored.Clone(), nil
}

// Get reads one job.
func Get(ctx context.Context, b Backend, queue QueueID, id JobID) (*Job, error) {
	scope, err := jobScope(queue, id)
	if err != nil {
		return nil, err
	}
	found, err := b.Find(ctx, scope, 1)
	if err != nil {
		return nil, fmt.Errorf("find job: %w", err)
	}
	if len(found) == 0 {
		return nil, jobsError(ErrNotFound, fmt.Sprintf("job %s in queue %s", id, queue))
	}
	return found[0], nil
}

// Peek lists up to query.Limit matching jobs without modifying them.
func Peek(ctx context.Context, b Backend, query PeekNextQuery) ([]*Job, error) {
	where, err := query.Filter()
	if err != nil {
		return nil, err
	}
	limit := query.Limit
	if limit <= 0 {
		limit = DefaultPeekLimit
	}
	found, err := b.Find(ctx, where, limit)
	if err != nil {
		return nil, fmt.Errorf("peek jobs: %w", err)
	}
	return found, nil
}

// TakeNext claims one matching unclaimed job in a single atomic step and returns it with the
// acknowledgment already set. It returns nil, nil when no job is available.
func TakeNext(ctx context.Context, b Backend, opts TakeNextOptions) (*Job, error) {
	where, err := opts.Filter()
	if err != nil {
		return nil, err
	}
	if err := opts.Acknowledgment.Validate(); err != nil {
		return nil, jobsError(ErrValidation, err.Error())
	}
	claimed, err := b.FindOneAndSet(
		ctx,
		filter.And(where, filter.IsNull(FieldAcknowledgment)),
		FieldAcknowledgment,
		opts.Acknowledgment,
	)
	if err != nil {
		return nil, fmt.Errorf("take next job: %w", err)
	}
	return claimed, nil
}

// Acknowledge claims a job previously seen through Peek. The write only happens while the job
// is unclaimed, so the first acknowledgment always survives.
func Acknowledge(ctx context.Context, b Backend, queue QueueID, id JobID, ack attributes.Bag) (AcknowledgmentResult, error) {
	scope, err := jobScope(queue, id)
	if err != nil {
		return AcknowledgmentResult{}, err
	}
	if err := ack.Validate(); err != nil {
		return AcknowledgmentResult{}, jobsError(ErrValidation, err.Error())
	}
	matched, err := b.UpdateOneSet(ctx, filter.And(scope, filter.IsNull(FieldAcknowledgment)), FieldAcknowledgment, ack)
	if err != nil {
		return AcknowledgmentResult{}, fmt.Errorf("acknowledge job: %w", err)
	}
	if matched > 0 {
		return AcknowledgmentResult{Success: true}, nil
	}
	if err := requireExists(ctx, b, scope, queue, id); err != nil {
		return AcknowledgmentResult{}, err
	}
	return AcknowledgmentResult{Success: false}, nil
}

// AddReport appends report to the job's progress log.
func AddReport(ctx context.Context, b Backend, queue QueueID, id JobID, report attributes.Bag) error {
	scope, err := jobScope(queue, id)
	if err != nil {
		return err
	}
	if err := report.Validate(); err != nil {
		return jobsError(ErrValidation, err.Error())
	}
	matched, err := b.Push(ctx, scope, FieldReports, report)
	if err != nil {
		return fmt.Errorf("add report: %w", err)
	}
	if matched == 0 {
		return jobsError(ErrNotFound, fmt.Sprintf("job %s in queue %s", id, queue))
	}
	return nil
}

// Complete records the job's result. A result is written once; later calls fail with
// ErrAlreadyCompleted and leave the first result in place.
func Complete(ctx context.Context, b Backend, queue QueueID, id JobID, result attributes.Bag) error {
	scope, err := jobScope(queue, id)
	if err != nil {
		return err
	}
	if err := result.Validate(); err != nil {
		return jobsError(ErrValidation, err.Error())
	}
	matched, err := b.UpdateOneSet(ctx, filter.And(scope, filter.IsNull(FieldResult)), FieldResult, result)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if matched > 0 {
		return nil
	}
	if err := requireExists(ctx, b, scope, queue, id); err != nil {
		return err
	}
	return jobsError(ErrAlreadyCompleted, fmt.Sprintf("job %s in queue %s", id, queue))
}

func requireExists(ctx context.Context, b Backend, scope filter.Expr, queue QueueID, id JobID) error {
	count, err := b.Count(ctx, scope)
	if err != nil {
		return fmt.Errorf("count job: %w", err)
	}
	if count == 0 {
		return jobsError(ErrNotFound, fmt.Sprintf("job %s in queue %s", id, queue))
	}
	return nil
}
