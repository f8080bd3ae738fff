// Package memstore implements jobs.Backend in process memory. One mutex makes every operation
// atomic, which gives the same single-document guarantees as the MongoDB backend inside one
// process. Filters are evaluated with filter.Match against the BSON image of each job, so query
// semantics follow the stored document shape.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nimburion/monjobs/pkg/attributes"
	"github.com/nimburion/monjobs/pkg/jobs"
	"github.com/nimburion/monjobs/pkg/jobs/filter"
	"go.mongodb.org/mongo-driver/bson"
)

// Store is an in-memory jobs.Backend.
type Store struct {
	mu     sync.Mutex
	order  []*jobs.Job
	byID   map[jobs.JobID]*jobs.Job
	closed bool
}

// New creates an empty store.
func New() *Store {
	return &Store{byID: map[jobs.JobID]*jobs.Job{}}
}

var _ jobs.Backend = (*Store)(nil)

// Insert stores a copy of job.
func (s *Store) Insert(_ context.Context, job *jobs.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return jobs.ErrClosed
	}
	if _, exists := s.byID[job.ID]; exists {
		return fmt.Errorf("%w: job %s already exists", jobs.ErrConflict, job.ID)
	}
	stored := job.Clone()
	if stored.Reports == nil {
		stored.Reports = []attributes.Bag{}
	}
	s.order = append(s.order, stored)
	s.byID[stored.ID] = stored
	return nil
}

// Find returns copies of up to limit matching jobs in insertion order.
func (s *Store) Find(ctx context.Context, where filter.Expr, limit int) ([]*jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, jobs.ErrClosed
	}
	out := []*jobs.Job{}
	for _, job := range s.order {
		if limit > 0 && len(out) >= limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ok, err := matches(where, job)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, job.Clone())
		}
	}
	return out, nil
}

// FindOneAndSet sets field on the first matching job and returns a copy of it.
func (s *Store) FindOneAndSet(_ context.Context, where filter.Expr, field string, value attributes.Bag) (*jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.firstMatch(where)
	if err != nil || job == nil {
		return nil, err
	}
	if err := setField(job, field, value); err != nil {
		return nil, err
	}
	return job.Clone(), nil
}

// UpdateOneSet sets field on the first matching job.
func (s *Store) UpdateOneSet(_ context.Context, where filter.Expr, field string, value attributes.Bag) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.firstMatch(where)
	if err != nil || job == nil {
		return 0, err
	}
	if err := setField(job, field, value); err != nil {
		return 0, err
	}
	return 1, nil
}

// Push appends value to the reports of the first matching job.
func (s *Store) Push(_ context.Context, where filter.Expr, field string, value attributes.Bag) (int64, error) {
	if field != jobs.FieldReports {
		return 0, fmt.Errorf("memstore cannot push to field %q", field)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.firstMatch(where)
	if err != nil || job == nil {
		return 0, err
	}
	job.Reports = append(job.Reports, value.Clone())
	return 1, nil
}

// Count returns the number of matching jobs.
func (s *Store) Count(_ context.Context, where filter.Expr) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, jobs.ErrClosed
	}
	var count int64
	for _, job := range s.order {
		ok, err := matches(where, job)
		if err != nil {
			return 0, err
		}
		if ok {
			count++
		}
	}
	return count, nil
}

// Len returns the number of stored jobs.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// HealthCheck fails once the store is closed.
func (s *Store) HealthCheck(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return jobs.ErrClosed
	}
	return nil
}

// Close releases the stored jobs.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.order = nil
	s.byID = map[jobs.JobID]*jobs.Job{}
	return nil
}

// firstMatch must be called with s.mu held.
func (s *Store) firstMatch(where filter.Expr) (*jobs.Job, error) {
	if s.closed {
		return nil, jobs.ErrClosed
	}
	for _, job := range s.order {
		ok, err := matches(where, job)
		if err != nil {
			return nil, err
		}
		if ok {
			return job, nil
		}
	}
	return nil, nil
}

func matches(where filter.Expr, job *jobs.Job) (bool, error) {
	raw, err := bson.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return false, fmt.Errorf("decode job %s: %w", job.ID, err)
	}
	ok, err := filter.Match(where, doc)
	if errors.Is(err, filter.ErrUnsupportedOperator) {
		return false, fmt.Errorf("%w: %w", jobs.ErrInvalidQuery, err)
	}
	return ok, err
}

func setField(job *jobs.Job, field string, value attributes.Bag) error {
	stored := value.Clone()
	switch field {
	case jobs.FieldAcknowledgment:
		job.Acknowledgment = &stored
	case jobs.FieldResult:
		job.Result = &stored
	default:
		return fmt.Errorf("memstore cannot set field %q", field)
	}
	return nil
}
