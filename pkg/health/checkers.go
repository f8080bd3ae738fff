package health

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const defaultCheckTimeout = 5 * time.Second

// Checkable is implemented by stores and clients that can probe their backing service.
type Checkable interface {
	HealthCheck(ctx context.Context) error
}

// AdapterChecker turns a Checkable into a Checker with a per-probe timeout.
type AdapterChecker struct {
	name    string
	adapter Checkable
	timeout time.Duration
}

// NewAdapterChecker wraps adapter. A non-positive timeout falls back to five seconds.
func NewAdapterChecker(name string, adapter Checkable, timeout time.Duration) *AdapterChecker {
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	return &AdapterChecker{
		name:    name,
		adapter: adapter,
		timeout: timeout,
	}
}

// Check probes the adapter. A probe that outlives the timeout is reported as unhealthy with a
// message naming the budget.
func (c *AdapterChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.adapter.HealthCheck(checkCtx)
	result := CheckResult{
		Name:      c.name,
		Status:    StatusHealthy,
		Message:   "OK",
		Timestamp: time.Now(),
		Duration:  time.Since(start),
	}
	if err == nil {
		return result
	}

	result.Status = StatusUnhealthy
	result.Message = ""
	result.Error = err.Error()
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(checkCtx.Err(), context.DeadlineExceeded) {
		result.Error = fmt.Sprintf("timed out after %s: %v", c.timeout, err)
	}
	return result
}

// Name returns the name the checker was registered with.
func (c *AdapterChecker) Name() string {
	return c.name
}
