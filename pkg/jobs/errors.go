package jobs

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation classifies input/payload validation failures.
	ErrValidation = errors.New("jobs validation error")
	// ErrInvalidQuery classifies malformed ad-hoc predicates. Use errors.As with *InvalidQueryError
	// to recover the offending text.
	ErrInvalidQuery = errors.New("jobs invalid query")
	// ErrNotFound classifies queue/job id combinations that match no stored job.
	ErrNotFound = errors.New("jobs not found")
	// ErrAlreadyCompleted classifies Complete calls on a job that already holds a result.
	ErrAlreadyCompleted = errors.New("jobs already completed")
	// ErrConflict classifies inserts that collide with an existing job id.
	ErrConflict = errors.New("jobs conflict")
	// ErrNotInitialized classifies calls on a nil service or a service without backend.
	ErrNotInitialized = errors.New("jobs not initialized")
	// ErrClosed classifies operations on an already closed service or backend.
	ErrClosed = errors.New("jobs closed")
)

func jobsError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}

// InvalidQueryError carries the raw predicate text that failed to parse.
type InvalidQueryError struct {
	Query string
	Err   error
}

func (e *InvalidQueryError) Error() string {
	return fmt.Sprintf("%s: %q: %v", ErrInvalidQuery, e.Query, e.Err)
}

// Is matches ErrInvalidQuery.
func (e *InvalidQueryError) Is(target error) bool {
	return target == ErrInvalidQuery
}

func (e *InvalidQueryError) Unwrap() error {
	return e.Err
}
