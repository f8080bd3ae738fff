package mongostore

import (
	"context"
	"testing"
	"time"

	"github.com/nimburion/monjobs/pkg/jobs"
	"github.com/nimburion/monjobs/pkg/jobs/jobstest"
	"github.com/nimburion/monjobs/pkg/observability/logger"
	"github.com/nimburion/monjobs/pkg/store/mongodb"
	"github.com/nimburion/monjobs/pkg/testutil"
	"github.com/stretchr/testify/require"
)

// TestStore_Integration runs the backend conformance suite against a real MongoDB.
func TestStore_Integration(t *testing.T) {
	ctx := context.Background()
	connStr := testutil.MongoURL(t)

	log, err := logger.NewZapLogger(logger.Config{Level: logger.InfoLevel, Format: logger.JSONFormat})
	require.NoError(t, err)

	adapter, err := mongodb.NewAdapter(mongodb.Config{
		URL:              connStr,
		Database:         "monjobs_test",
		OperationTimeout: 10 * time.Second,
	}, log)
	require.NoError(t, err)
	defer adapter.Close()

	store, err := New(adapter, log, Config{Collection: "jobs"})
	require.NoError(t, err)
	require.NoError(t, store.EnsureIndexes(ctx))
	require.NoError(t, store.HealthCheck(ctx))

	jobstest.RunBackendSuite(t, func(*testing.T) jobs.Backend {
		return store
	})
}
