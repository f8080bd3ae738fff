package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nimburion/monjobs/pkg/attributes"
	"github.com/nimburion/monjobs/pkg/health"
	"github.com/nimburion/monjobs/pkg/jobs/filter"
)

type healthTestBackend struct {
	healthErr error
}

func (b *healthTestBackend) Insert(context.Context, *Job) error { return nil }
func (b *healthTestBackend) Find(context.Context, filter.Expr, int) ([]*Job, error) {
	return nil, nil
}
func (b *healthTestBackend) FindOneAndSet(context.Context, filter.Expr, string, attributes.Bag) (*Job, error) {
	return nil, nil
}
func (b *healthTestBackend) UpdateOneSet(context.Context, filter.Expr, string, attributes.Bag) (int64, error) {
	return 0, nil
}
func (b *healthTestBackend) Push(context.Context, filter.Expr, string, attributes.Bag) (int64, error) {
	return 0, nil
}
func (b *healthTestBackend) Count(context.Context, filter.Expr) (int64, error) { return 0, nil }
func (b *healthTestBackend) HealthCheck(context.Context) error                 { return b.healthErr }
func (b *healthTestBackend) Close() error                                      { return nil }

func TestNewBackendHealthChecker(t *testing.T) {
	checker := NewBackendHealthChecker("", &healthTestBackend{}, time.Second)
	if checker.Name() != "jobs-backend" {
		t.Fatalf("unexpected checker name: %s", checker.Name())
	}
	result := checker.Check(context.Background())
	if result.Status != health.StatusHealthy {
		t.Fatalf("expected healthy result, got %s", result.Status)
	}
}

func TestNewServiceHealthChecker_UnhealthyAfterClose(t *testing.T) {
	service, err := NewService(&healthTestBackend{}, nopLogger{}, ServiceConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checker := NewServiceHealthChecker("service-check", service, time.Second)
	if checker.Name() != "service-check" {
		t.Fatalf("unexpected checker name: %s", checker.Name())
	}
	if result := checker.Check(context.Background()); result.Status != health.StatusHealthy {
		t.Fatalf("expected healthy result, got %s", result.Status)
	}

	if err := service.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if result := checker.Check(context.Background()); result.Status != health.StatusUnhealthy {
		t.Fatalf("expected unhealthy result after close, got %s", result.Status)
	}
}

func TestNewBackendHealthChecker_PropagatesFailure(t *testing.T) {
	checker := NewBackendHealthChecker("db", &healthTestBackend{healthErr: errors.New("down")}, time.Second)
	if result := checker.Check(context.Background()); result.Status != health.StatusUnhealthy {
		t.Fatalf("expected unhealthy result, got %s", result.Status)
	}
}
