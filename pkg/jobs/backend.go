package jobs

import (
	"context"

	"github.com/nimburion/monjobs/pkg/attributes"
	"github.com/nimburion/monjobs/pkg/jobs/filter"
)

// Backend is the store capability set the lifecycle operations are written against. Every
// mutating method must be a single atomic operation on one document.
type Backend interface {
	// Insert stores a new job. An id collision fails with ErrConflict.
	Insert(ctx context.Context, job *Job) error
	// Find returns up to limit matching jobs in store order.
	Find(ctx context.Context, where filter.Expr, limit int) ([]*Job, error)
	// FindOneAndSet sets field on one matching job and returns the updated job, or nil when
	// nothing matched.
	FindOneAndSet(ctx context.Context, where filter.Expr, field string, value attributes.Bag) (*Job, error)
	// UpdateOneSet sets field on one matching job and reports how many jobs matched.
	UpdateOneSet(ctx context.Context, where filter.Expr, field string, value attributes.Bag) (int64, error)
	// Push appends value to the array field of one matching job.
	Push(ctx context.Context, where filter.Expr, field string, value attributes.Bag) (int64, error)
	// Count returns the number of matching jobs.
	Count(ctx context.Context, where filter.Expr) (int64, error)
	HealthCheck(ctx context.Context) error
	Close() error
}
