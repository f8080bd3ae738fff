package testutil

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	rediscontainer "github.com/testcontainers/testcontainers-go/modules/redis"
)

const (
	// RedisURLEnv points the integration tests at an existing Redis instead of a container.
	RedisURLEnv = "MONJOBS_TEST_REDIS_URL"

	defaultRedisImage = "redis:7-alpine"
)

// RedisURL returns a redis:// URL for an integration Redis, started like MongoURL.
func RedisURL(t *testing.T) string {
	t.Helper()
	RequireIntegration(t)

	if url := strings.TrimSpace(os.Getenv(RedisURLEnv)); url != "" {
		return url
	}

	ctx := context.Background()
	container, err := rediscontainer.Run(ctx, defaultRedisImage)
	if err != nil {
		t.Fatalf("failed to start Redis container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate Redis container: %v", err)
		}
	})

	url, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to read Redis connection string: %v", err)
	}
	return url
}
