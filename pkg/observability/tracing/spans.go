// Package tracing provides OpenTelemetry distributed tracing support for the job queue.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SpanOperation represents a traced operation type.
type SpanOperation string

// Span operation constants for different operation types
const (
	// SpanOperationDBQuery represents a database query operation
	SpanOperationDBQuery SpanOperation = "db.query"
	// SpanOperationDBInsert represents a database insert operation
	SpanOperationDBInsert SpanOperation = "db.insert"
	// SpanOperationDBUpdate represents a database update operation
	SpanOperationDBUpdate SpanOperation = "db.update"
	// SpanOperationDBIndex represents index maintenance
	SpanOperationDBIndex SpanOperation = "db.index"

	SpanOperationJobEnqueue     SpanOperation = "jobs.enqueue"
	SpanOperationJobGet         SpanOperation = "jobs.get"
	SpanOperationJobPeek        SpanOperation = "jobs.peek"
	SpanOperationJobTake        SpanOperation = "jobs.take"
	SpanOperationJobAcknowledge SpanOperation = "jobs.acknowledge"
	SpanOperationJobReport      SpanOperation = "jobs.report"
	SpanOperationJobComplete    SpanOperation = "jobs.complete"
	// SpanOperationJobProcess wraps a worker handler run, from claim to result.
	SpanOperationJobProcess SpanOperation = "jobs.process"
)

// StartDatabaseSpan creates a new span for a database operation.
// It includes database-specific attributes like operation type, collection name, and statement.
func StartDatabaseSpan(ctx context.Context, operation SpanOperation, opts ...DatabaseSpanOption) (context.Context, trace.Span) {
	tracer := otel.Tracer("database")

	spanOpts := &databaseSpanOptions{
		attributes: []attribute.KeyValue{
			attribute.String("db.operation", string(operation)),
		},
	}

	for _, opt := range opts {
		opt(spanOpts)
	}

	spanName := fmt.Sprintf("DB %s", operation)
	if spanOpts.table != "" {
		spanName = fmt.Sprintf("DB %s %s", operation, spanOpts.table)
	}

	ctx, span := tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(spanOpts.attributes...)

	return ctx, span
}

// DatabaseSpanOption configures a database span.
type DatabaseSpanOption func(*databaseSpanOptions)

type databaseSpanOptions struct {
	table      string
	attributes []attribute.KeyValue
}

// WithDBTable sets the collection name for the span.
func WithDBTable(table string) DatabaseSpanOption {
	return func(opts *databaseSpanOptions) {
		opts.table = table
		opts.attributes = append(opts.attributes, attribute.String("db.table", table))
	}
}

// WithDBSystem sets the database system (e.g. "mongodb").
func WithDBSystem(system string) DatabaseSpanOption {
	return func(opts *databaseSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("db.system", system))
	}
}

// WithDBStatement sets the rendered query document.
func WithDBStatement(statement string) DatabaseSpanOption {
	return func(opts *databaseSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("db.statement", statement))
	}
}

// WithDBName sets the database name.
func WithDBName(name string) DatabaseSpanOption {
	return func(opts *databaseSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("db.name", name))
	}
}

// StartJobSpan creates a new span for a job lifecycle operation.
// Processing spans are consumer spans; every other operation is internal.
func StartJobSpan(ctx context.Context, operation SpanOperation, opts ...JobSpanOption) (context.Context, trace.Span) {
	tracer := otel.Tracer("jobs")

	spanOpts := &jobSpanOptions{
		attributes: []attribute.KeyValue{
			attribute.String("jobs.operation", string(operation)),
		},
	}
	for _, opt := range opts {
		opt(spanOpts)
	}

	spanName := fmt.Sprintf("JOB %s", operation)
	if spanOpts.queue != "" {
		spanName = fmt.Sprintf("JOB %s %s", operation, spanOpts.queue)
	}

	spanKind := trace.SpanKindInternal
	if operation == SpanOperationJobProcess {
		spanKind = trace.SpanKindConsumer
	}

	ctx, span := tracer.Start(ctx, spanName, trace.WithSpanKind(spanKind))
	span.SetAttributes(spanOpts.attributes...)

	return ctx, span
}

// JobSpanOption configures a job span.
type JobSpanOption func(*jobSpanOptions)

type jobSpanOptions struct {
	queue      string
	attributes []attribute.KeyValue
}

// WithJobQueue sets the queue id. Empty values are ignored.
func WithJobQueue(queue string) JobSpanOption {
	return func(opts *jobSpanOptions) {
		if queue == "" {
			return
		}
		opts.queue = queue
		opts.attributes = append(opts.attributes, attribute.String("jobs.queue_id", queue))
	}
}

// WithJobID sets the job id. Empty values are ignored.
func WithJobID(id string) JobSpanOption {
	return func(opts *jobSpanOptions) {
		if id == "" {
			return
		}
		opts.attributes = append(opts.attributes, attribute.String("jobs.job_id", id))
	}
}

// RecordError records an error in the current span and sets the span status to error.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// RecordSuccess sets the span status to OK.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
