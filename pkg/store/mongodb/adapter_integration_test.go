package mongodb

import (
	"context"
	"testing"
	"time"

	"github.com/nimburion/monjobs/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestAdapter_Integration(t *testing.T) {
	ctx := context.Background()
	adapter, err := NewAdapter(Config{
		URL:              testutil.MongoURL(t),
		Database:         "monjobs_adapter_test",
		OperationTimeout: 10 * time.Second,
	}, &mockLogger{})
	require.NoError(t, err)
	defer adapter.Close()

	const collection = "adapter_docs"
	require.NoError(t, adapter.HealthCheck(ctx))
	_ = adapter.Collection(collection).Drop(ctx)

	names, err := adapter.CreateIndexes(ctx, collection, []mongo.IndexModel{
		{Keys: bson.D{{Key: "queueId", Value: 1}}},
	})
	require.NoError(t, err)
	assert.Len(t, names, 1)

	_, err = adapter.InsertOne(ctx, collection, bson.D{{Key: "_id", Value: "a"}, {Key: "queueId", Value: "q"}})
	require.NoError(t, err)
	_, err = adapter.InsertOne(ctx, collection, bson.D{{Key: "_id", Value: "b"}, {Key: "queueId", Value: "q"}})
	require.NoError(t, err)

	var docs []bson.M
	require.NoError(t, adapter.FindAll(ctx, collection, bson.D{{Key: "queueId", Value: "q"}}, 1, &docs))
	assert.Len(t, docs, 1)

	var updated bson.M
	err = adapter.FindOneAndUpdate(ctx, collection,
		bson.D{{Key: "_id", Value: "a"}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "claimed", Value: true}}}},
		&updated)
	require.NoError(t, err)
	assert.Equal(t, true, updated["claimed"])

	err = adapter.FindOneAndUpdate(ctx, collection,
		bson.D{{Key: "_id", Value: "missing"}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "claimed", Value: true}}}},
		&updated)
	assert.ErrorIs(t, err, mongo.ErrNoDocuments)

	res, err := adapter.UpdateOne(ctx, collection,
		bson.D{{Key: "_id", Value: "b"}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "claimed", Value: true}}}})
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.MatchedCount)

	count, err := adapter.CountDocuments(ctx, collection, bson.D{{Key: "claimed", Value: true}})
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	require.NoError(t, adapter.Close())
	assert.ErrorIs(t, adapter.Ping(ctx), ErrClosed)
}
