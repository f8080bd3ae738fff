package testutil

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	mongocontainer "github.com/testcontainers/testcontainers-go/modules/mongodb"
)

const (
	// MongoURLEnv points the integration tests at an existing server instead of a container.
	MongoURLEnv = "MONJOBS_TEST_MONGODB_URL"

	defaultMongoImage = "mongo:7"
)

// MongoURL returns a connection string for an integration MongoDB. A container is started and
// terminated with the test unless MONJOBS_TEST_MONGODB_URL is set.
func MongoURL(t *testing.T) string {
	t.Helper()
	RequireIntegration(t)

	if url := strings.TrimSpace(os.Getenv(MongoURLEnv)); url != "" {
		return url
	}

	ctx := context.Background()
	container, err := mongocontainer.Run(ctx, defaultMongoImage)
	if err != nil {
		t.Fatalf("failed to start MongoDB container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate MongoDB container: %v", err)
		}
	})

	url, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to read MongoDB connection string: %v", err)
	}
	return url
}
