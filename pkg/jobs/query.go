package jobs

import (
	"fmt"
	"strings"

	"github.com/nimburion/monjobs/pkg/attributes"
	"github.com/nimburion/monjobs/pkg/jobs/filter"
)

// DefaultPeekLimit bounds Peek when the query does not set a limit.
const DefaultPeekLimit = 10

// JobQuery selects jobs within one queue. Every set field narrows the selection.
type JobQuery struct {
	QueueID QueueID
	// JobIDs restricts the selection to an allow-list when non-empty.
	JobIDs []JobID
	// HasAttributes holds one constraint per key. A list value matches any of its items.
	HasAttributes       attributes.Bag
	HasBeenAcknowledged *bool
	HasResult           *bool
	// AdhocQuery is a MongoDB Extended JSON query document ANDed with the rest.
	AdhocQuery string
	// AdhocFilter is ANDed verbatim.
	AdhocFilter filter.Expr
}

// PeekNextQuery is a JobQuery with a result bound.
type PeekNextQuery struct {
	JobQuery
	Limit int
}

// TakeNextOptions is a JobQuery plus the acknowledgment written by the claim.
type TakeNextOptions struct {
	JobQuery
	Acknowledgment attributes.Bag
}

// Filter composes the query into a single predicate. It never mutates q.
func (q JobQuery) Filter() (filter.Expr, error) {
	if q.QueueID.IsZero() {
		return nil, jobsError(ErrValidation, "queue id is required")
	}

	clauses := []filter.Expr{filter.Eq(FieldQueueID, string(q.QueueID))}

	if len(q.JobIDs) > 0 {
		ids := make([]any, 0, len(q.JobIDs))
		for _, id := range q.JobIDs {
			ids = append(ids, string(id))
		}
		clauses = append(clauses, filter.In(FieldID, ids...))
	}

	var attrErr error
	q.HasAttributes.Range(func(key string, value attributes.Value) bool {
		if err := attributes.ValidateKey(key); err != nil {
			attrErr = jobsError(ErrInvalidQuery, err.Error())
			return false
		}
		if err := attributes.ValidateValue(value); err != nil {
			attrErr = jobsError(ErrInvalidQuery, fmt.Sprintf("attribute %q: %v", key, err))
			return false
		}
		clauses = append(clauses, attributeClause(FieldAttributes+"."+key, value))
		return true
	})
	if attrErr != nil {
		return nil, attrErr
	}

	if q.HasBeenAcknowledged != nil {
		clauses = append(clauses, presence(FieldAcknowledgment, *q.HasBeenAcknowledged))
	}
	if q.HasResult != nil {
		clauses = append(clauses, presence(FieldResult, *q.HasResult))
	}

	if raw := strings.TrimSpace(q.AdhocQuery); raw != "" {
		parsed, err := filter.ParseRaw(raw)
		if err != nil {
			return nil, &InvalidQueryError{Query: q.AdhocQuery, Err: err}
		}
		clauses = append(clauses, parsed)
	}
	if q.AdhocFilter != nil {
		clauses = append(clauses, q.AdhocFilter)
	}

	return filter.And(clauses...), nil
}

// attributeClause matches a list constraint against any of its items. An empty list matches
// nothing.
func attributeClause(field string, value attributes.Value) filter.Expr {
	if !value.IsList() {
		return filter.Eq(field, value.Native())
	}
	items := value.Items()
	if len(items) == 0 {
		return filter.False()
	}
	alternatives := make([]filter.Expr, 0, len(items))
	for _, item := range items {
		alternatives = append(alternatives, filter.Eq(field, item.Native()))
	}
	return filter.Or(alternatives...)
}

func presence(field string, present bool) filter.Expr {
	if present {
		return filter.NotNull(field)
	}
	return filter.IsNull(field)
}

// jobScope addresses exactly one job.
func jobScope(queue QueueID, id JobID) (filter.Expr, error) {
	if queue.IsZero() {
		return nil, jobsError(ErrValidation, "queue id is required")
	}
	if id.IsZero() {
		return nil, jobsError(ErrValidation, "job id is required")
	}
	return filter.And(filter.Eq(FieldQueueID, string(queue)), filter.Eq(FieldID, string(id))), nil
}

// Bool returns a pointer to b, for the tri-state query fields.
func Bool(b bool) *bool {
	return &b
}
