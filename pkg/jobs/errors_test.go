package jobs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/nimburion/monjobs/pkg/attributes"
)

func TestJobValidate_ReturnsTypedValidationError(t *testing.T) {
	job := &Job{}
	err := job.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestJobValidate_RejectsInvalidAttributeKeys(t *testing.T) {
	job := &Job{QueueID: "q", Attributes: attributes.MustOf("a.b", 1)}
	if err := job.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestInvalidQueryError_MatchesSentinelAndCause(t *testing.T) {
	cause := errors.New("unexpected end of input")
	err := fmt.Errorf("peek: %w", &InvalidQueryError{Query: "{", Err: cause})

	if !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
	var invalid *InvalidQueryError
	if !errors.As(err, &invalid) || invalid.Query != "{" {
		t.Fatalf("expected *InvalidQueryError with query text, got %v", err)
	}
}

func TestJobState(t *testing.T) {
	ack := attributes.MustOf("RunnerId", "w")
	result := attributes.MustOf("Result", "Success")

	tests := []struct {
		name string
		job  Job
		want State
	}{
		{name: "created", job: Job{}, want: StateCreated},
		{name: "claimed", job: Job{Acknowledgment: &ack}, want: StateClaimed},
		{name: "completed", job: Job{Acknowledgment: &ack, Result: &result}, want: StateCompleted},
		{name: "result without claim", job: Job{Result: &result}, want: StateCompleted},
	}
	for _, tt := range tests {
		if got := tt.job.State(); got != tt.want {
			t.Errorf("%s: State() = %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestJobClone_IsDeep(t *testing.T) {
	ack := attributes.MustOf("RunnerId", "w")
	job := &Job{ID: "a", QueueID: "q", Acknowledgment: &ack, Reports: []attributes.Bag{attributes.MustOf("Message", "x")}}
	clone := job.Clone()

	clone.Acknowledgment.Set("RunnerId", attributes.String("other"))
	clone.Reports[0].Set("Message", attributes.String("y"))

	if value, _ := job.Acknowledgment.Get("RunnerId"); !value.Equal(attributes.String("w")) {
		t.Fatalf("acknowledgment shared with clone: %v", job.Acknowledgment)
	}
	if value, _ := job.Reports[0].Get("Message"); !value.Equal(attributes.String("x")) {
		t.Fatalf("report shared with clone: %v", job.Reports[0])
	}
}
