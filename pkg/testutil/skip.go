package testutil

import (
	"os"
	"testing"
)

// IntegrationEnv enables the integration tests when set to a non-empty value.
const IntegrationEnv = "INTEGRATION_TESTS"

// SkipIfShort skips the test if running in short mode
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
}

// RequireIntegration skips the test unless INTEGRATION_TESTS is set. Integration tests need
// Docker or an external MongoDB, see MongoURL.
func RequireIntegration(t *testing.T) {
	t.Helper()
	SkipIfShort(t)
	if os.Getenv(IntegrationEnv) == "" {
		t.Skipf("skipping integration test (set %s=1 to run)", IntegrationEnv)
	}
}
