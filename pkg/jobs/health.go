package jobs

import (
	"strings"
	"time"

	"github.com/nimburion/monjobs/pkg/health"
)

const (
	defaultBackendHealthCheckName = "jobs-backend"
	defaultServiceHealthCheckName = "jobs-service"
)

// NewBackendHealthChecker creates a standard health checker for a jobs backend.
func NewBackendHealthChecker(name string, backend Backend, timeout time.Duration) health.Checker {
	checkName := normalizeHealthCheckName(name, defaultBackendHealthCheckName)
	return health.NewAdapterChecker(checkName, backend, timeout)
}

// NewServiceHealthChecker creates a health checker that also fails once the service is closed.
func NewServiceHealthChecker(name string, service *Service, timeout time.Duration) health.Checker {
	checkName := normalizeHealthCheckName(name, defaultServiceHealthCheckName)
	return health.NewAdapterChecker(checkName, service, timeout)
}

func normalizeHealthCheckName(name, fallback string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}
