package tracing_test

import (
	"context"
	"fmt"

	"github.com/nimburion/monjobs/pkg/observability/tracing"
)

// ExampleStartJobSpan traces a claim and the store update it performs.
func ExampleStartJobSpan() {
	ctx, span := tracing.StartJobSpan(context.Background(), tracing.SpanOperationJobTake,
		tracing.WithJobQueue("emails"),
	)
	defer span.End()

	_, dbSpan := tracing.StartDatabaseSpan(ctx, tracing.SpanOperationDBUpdate,
		tracing.WithDBSystem("mongodb"),
		tracing.WithDBTable("jobs"),
	)
	tracing.RecordSuccess(dbSpan)
	dbSpan.End()

	tracing.RecordSuccess(span)
	fmt.Println("claim traced")
	// Output: claim traced
}

// ExampleRecordError marks a failed handler run.
func ExampleRecordError() {
	_, span := tracing.StartJobSpan(context.Background(), tracing.SpanOperationJobProcess,
		tracing.WithJobQueue("emails"),
		tracing.WithJobID("0b4c6f0e"),
	)
	defer span.End()

	tracing.RecordError(span, fmt.Errorf("smtp unavailable"))
	fmt.Println("failure recorded")
	// Output: failure recorded
}
