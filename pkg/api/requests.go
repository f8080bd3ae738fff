package api

import (
	"github.com/nimburion/monjobs/pkg/attributes"
	"github.com/nimburion/monjobs/pkg/jobs"
)

// EnqueueRequest is the body of POST /v1/queues/:queue/jobs.
type EnqueueRequest struct {
	// ID is optional; one is generated when empty.
	ID         string         `json:"id,omitempty"`
	Attributes attributes.Bag `json:"attributes"`
}

// QueryRequest mirrors jobs.JobQuery. The queue comes from the path.
type QueryRequest struct {
	JobIDs              []string       `json:"jobIds,omitempty"`
	HasAttributes       attributes.Bag `json:"hasAttributes"`
	HasBeenAcknowledged *bool          `json:"hasBeenAcknowledged,omitempty"`
	HasResult           *bool          `json:"hasResult,omitempty"`
	AdhocQuery          string         `json:"adhocQuery,omitempty"`
}

// PeekRequest is the body of POST /v1/queues/:queue/peek.
type PeekRequest struct {
	QueryRequest
	Limit int `json:"limit,omitempty"`
}

// TakeRequest is the body of POST /v1/queues/:queue/take.
type TakeRequest struct {
	QueryRequest
	Acknowledgment attributes.Bag `json:"acknowledgment"`
}

// AcknowledgeRequest is the body of POST /v1/queues/:queue/jobs/:id/ack.
type AcknowledgeRequest struct {
	Acknowledgment attributes.Bag `json:"acknowledgment"`
}

// ReportRequest is the body of POST /v1/queues/:queue/jobs/:id/reports.
type ReportRequest struct {
	Report attributes.Bag `json:"report"`
}

// CompleteRequest is the body of PUT /v1/queues/:queue/jobs/:id/result.
type CompleteRequest struct {
	Result attributes.Bag `json:"result"`
}

// AcknowledgeResponse reports whether the caller won the claim.
type AcknowledgeResponse struct {
	Success bool `json:"success"`
}

// PeekResponse wraps the peeked jobs.
type PeekResponse struct {
	Jobs []*jobs.Job `json:"jobs"`
}

func (r QueryRequest) toJobQuery(queue jobs.QueueID) jobs.JobQuery {
	query := jobs.JobQuery{
		QueueID:             queue,
		HasAttributes:       r.HasAttributes,
		HasBeenAcknowledged: r.HasBeenAcknowledged,
		HasResult:           r.HasResult,
		AdhocQuery:          r.AdhocQuery,
	}
	for _, id := range r.JobIDs {
		query.JobIDs = append(query.JobIDs, jobs.JobID(id))
	}
	return query
}
