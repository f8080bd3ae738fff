package jobs

import (
	"strings"

	"github.com/google/uuid"
	"github.com/nimburion/monjobs/pkg/attributes"
)

// Document field names shared by the filter builder and the stores.
const (
	FieldID             = "_id"
	FieldQueueID        = "queueId"
	FieldAttributes     = "attributes"
	FieldAcknowledgment = "acknowledgment"
	FieldReports        = "reports"
	FieldResult         = "result"
)

// QueueID names a logical partition of jobs.
type QueueID string

// JobID identifies a job. Ids are unique across queues.
type JobID string

// NewJobID returns a random job id.
func NewJobID() JobID {
	return JobID(uuid.NewString())
}

// String returns the raw id.
func (q QueueID) String() string { return string(q) }

// IsZero reports whether the id is blank.
func (q QueueID) IsZero() bool { return strings.TrimSpace(string(q)) == "" }

// String returns the raw id.
func (id JobID) String() string { return string(id) }

// IsZero reports whether the id is blank.
func (id JobID) IsZero() bool { return strings.TrimSpace(string(id)) == "" }

// State is the lifecycle position derived from a job's fields.
type State string

const (
	StateCreated   State = "created"
	StateClaimed   State = "claimed"
	StateCompleted State = "completed"
)

// Job is the persisted unit of work.
//
// Acknowledgment and Result are nil until written. Reports is append-only and is stored as an
// empty array, never null, so the store can push onto it.
type Job struct {
	ID             JobID            `bson:"_id" json:"id"`
	QueueID        QueueID          `bson:"queueId" json:"queueId"`
	Attributes     attributes.Bag   `bson:"attributes" json:"attributes"`
	Acknowledgment *attributes.Bag  `bson:"acknowledgment" json:"acknowledgment"`
	Reports        []attributes.Bag `bson:"reports" json:"reports"`
	Result         *attributes.Bag  `bson:"result" json:"result"`
}

// State derives the lifecycle state. A result without an acknowledgment still reports completed.
func (j *Job) State() State {
	switch {
	case j.Result != nil:
		return StateCompleted
	case j.Acknowledgment != nil:
		return StateClaimed
	default:
		return StateCreated
	}
}

// Validate checks the fields required to store a job.
func (j *Job) Validate() error {
	if j == nil {
		return jobsError(ErrValidation, "job is nil")
	}
	if j.QueueID.IsZero() {
		return jobsError(ErrValidation, "job queue id is required")
	}
	if err := j.Attributes.Validate(); err != nil {
		return jobsError(ErrValidation, err.Error())
	}
	return nil
}

// Clone returns a deep copy.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	out := &Job{
		ID:         j.ID,
		QueueID:    j.QueueID,
		Attributes: j.Attributes.Clone(),
		Reports:    make([]attributes.Bag, 0, len(j.Reports)),
	}
	if j.Acknowledgment != nil {
		ack := j.Acknowledgment.Clone()
		out.Acknowledgment = &ack
	}
	for _, report := range j.Reports {
		out.Reports = append(out.Reports, report.Clone())
	}
	if j.Result != nil {
		result := j.Result.Clone()
		out.Result = &result
	}
	return out
}
