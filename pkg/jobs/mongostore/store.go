// Package mongostore implements jobs.Backend over a MongoDB collection. Claims use
// FindOneAndUpdate returning the post-image, conditional writes use UpdateOne and reports are
// appended with $push, so every state change is one atomic single-document operation.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nimburion/monjobs/pkg/attributes"
	"github.com/nimburion/monjobs/pkg/jobs"
	"github.com/nimburion/monjobs/pkg/jobs/filter"
	"github.com/nimburion/monjobs/pkg/observability/logger"
	"github.com/nimburion/monjobs/pkg/observability/tracing"
	"github.com/nimburion/monjobs/pkg/store/mongodb"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultCollection is used when Config.Collection is empty.
const DefaultCollection = "jobs"

const dbSystem = "mongodb"

// Config configures the store.
type Config struct {
	Collection string
}

func (c *Config) normalize() {
	c.Collection = strings.TrimSpace(c.Collection)
	if c.Collection == "" {
		c.Collection = DefaultCollection
	}
}

// Store is a jobs.Backend over one MongoDB collection. The adapter is owned by the caller.
type Store struct {
	adapter    *mongodb.Adapter
	collection string
	log        logger.Logger
}

var _ jobs.Backend = (*Store)(nil)

// New creates a store on adapter.
func New(adapter *mongodb.Adapter, log logger.Logger, cfg Config) (*Store, error) {
	if adapter == nil {
		return nil, errors.New("mongodb adapter is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	cfg.normalize()
	return &Store{
		adapter:    adapter,
		collection: cfg.Collection,
		log:        log.With("collection", cfg.Collection),
	}, nil
}

// Collection returns the collection name.
func (s *Store) Collection() string {
	return s.collection
}

// EnsureIndexes creates the indexes used by the filter builder. Attribute indexes are left to
// operators since attribute keys are open-ended.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, tracing.SpanOperationDBIndex)
	defer span.End()

	names, err := s.adapter.CreateIndexes(ctx, s.collection, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: jobs.FieldQueueID, Value: 1}, {Key: jobs.FieldAcknowledgment, Value: 1}},
			Options: options.Index().SetName("queue_ack"),
		},
		{
			Keys:    bson.D{{Key: jobs.FieldQueueID, Value: 1}, {Key: jobs.FieldResult, Value: 1}},
			Options: options.Index().SetName("queue_result"),
		},
	})
	if err != nil {
		tracing.RecordError(span, err)
		return fmt.Errorf("create job indexes: %w", err)
	}
	s.log.Info("job indexes ensured", "indexes", names)
	tracing.RecordSuccess(span)
	return nil
}

// Insert stores a new job document. The caller's job is not modified.
func (s *Store) Insert(ctx context.Context, job *jobs.Job) error {
	ctx, span := s.startSpan(ctx, tracing.SpanOperationDBInsert)
	defer span.End()

	if _, err := s.adapter.InsertOne(ctx, s.collection, insertDocument(job)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			err = fmt.Errorf("%w: job %s already exists", jobs.ErrConflict, job.ID)
		}
		tracing.RecordError(span, err)
		return err
	}
	tracing.RecordSuccess(span)
	return nil
}

// insertDocument copies job so an absent report list is stored as an empty array.
func insertDocument(job *jobs.Job) *jobs.Job {
	stored := job.Clone()
	if stored.Reports == nil {
		stored.Reports = []attributes.Bag{}
	}
	return stored
}

// Find returns up to limit matching jobs in natural order.
func (s *Store) Find(ctx context.Context, where filter.Expr, limit int) ([]*jobs.Job, error) {
	query, err := filter.ToBSON(where)
	if err != nil {
		return nil, err
	}
	ctx, span := s.startSpan(ctx, tracing.SpanOperationDBQuery, tracing.WithDBStatement(statement(query)))
	defer span.End()

	found := []*jobs.Job{}
	if err := s.adapter.FindAll(ctx, s.collection, query, int64(limit), &found); err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("db.rows", len(found)))
	tracing.RecordSuccess(span)
	return found, nil
}

// FindOneAndSet sets field on one matching job and returns the post-image.
func (s *Store) FindOneAndSet(ctx context.Context, where filter.Expr, field string, value attributes.Bag) (*jobs.Job, error) {
	query, err := filter.ToBSON(where)
	if err != nil {
		return nil, err
	}
	ctx, span := s.startSpan(ctx, tracing.SpanOperationDBUpdate, tracing.WithDBStatement(statement(query)))
	defer span.End()

	var job jobs.Job
	update := bson.D{{Key: "$set", Value: bson.D{{Key: field, Value: value}}}}
	if err := s.adapter.FindOneAndUpdate(ctx, s.collection, query, update, &job); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			tracing.RecordSuccess(span)
			return nil, nil
		}
		tracing.RecordError(span, err)
		return nil, err
	}
	tracing.RecordSuccess(span)
	return &job, nil
}

// UpdateOneSet sets field on one matching job.
func (s *Store) UpdateOneSet(ctx context.Context, where filter.Expr, field string, value attributes.Bag) (int64, error) {
	return s.updateOne(ctx, where, bson.D{{Key: "$set", Value: bson.D{{Key: field, Value: value}}}})
}

// Push appends value to the array field of one matching job.
func (s *Store) Push(ctx context.Context, where filter.Expr, field string, value attributes.Bag) (int64, error) {
	return s.updateOne(ctx, where, bson.D{{Key: "$push", Value: bson.D{{Key: field, Value: value}}}})
}

func (s *Store) updateOne(ctx context.Context, where filter.Expr, update bson.D) (int64, error) {
	query, err := filter.ToBSON(where)
	if err != nil {
		return 0, err
	}
	ctx, span := s.startSpan(ctx, tracing.SpanOperationDBUpdate, tracing.WithDBStatement(statement(query)))
	defer span.End()

	result, err := s.adapter.UpdateOne(ctx, s.collection, query, update)
	if err != nil {
		tracing.RecordError(span, err)
		return 0, err
	}
	span.SetAttributes(attribute.Int64("db.matched", result.MatchedCount))
	tracing.RecordSuccess(span)
	return result.MatchedCount, nil
}

// Count returns the number of matching jobs.
func (s *Store) Count(ctx context.Context, where filter.Expr) (int64, error) {
	query, err := filter.ToBSON(where)
	if err != nil {
		return 0, err
	}
	ctx, span := s.startSpan(ctx, tracing.SpanOperationDBQuery, tracing.WithDBStatement(statement(query)))
	defer span.End()

	count, err := s.adapter.CountDocuments(ctx, s.collection, query)
	if err != nil {
		tracing.RecordError(span, err)
		return 0, err
	}
	tracing.RecordSuccess(span)
	return count, nil
}

// HealthCheck pings the database.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.adapter.HealthCheck(ctx)
}

// Close is a no-op; the adapter is closed by its owner.
func (s *Store) Close() error {
	return nil
}

func (s *Store) startSpan(ctx context.Context, operation tracing.SpanOperation, opts ...tracing.DatabaseSpanOption) (context.Context, trace.Span) {
	opts = append(opts,
		tracing.WithDBSystem(dbSystem),
		tracing.WithDBName(s.adapter.DatabaseName()),
		tracing.WithDBTable(s.collection),
	)
	return tracing.StartDatabaseSpan(ctx, operation, opts...)
}

func statement(query bson.D) string {
	raw, err := bson.MarshalExtJSON(query, false, false)
	if err != nil {
		return ""
	}
	return string(raw)
}
