package jobs_test

import (
	"context"
	"testing"

	"github.com/nimburion/monjobs/pkg/attributes"
	"github.com/nimburion/monjobs/pkg/jobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewService_Validation(t *testing.T) {
	_, err := jobs.NewService(nil, &workerTestLogger{}, jobs.ServiceConfig{})
	assert.Error(t, err)
}

func TestService_EnqueueAssignsIDAndResetsState(t *testing.T) {
	service, _ := newTestService(t)
	ack := attributes.MustOf("RunnerId", "sneaky")

	job, err := service.Enqueue(context.Background(), &jobs.Job{
		QueueID:        "q",
		Attributes:     attributes.MustOf("DataCenter", "CAL01"),
		Acknowledgment: &ack,
		Reports:        []attributes.Bag{attributes.MustOf("Message", "early")},
	})
	require.NoError(t, err)
	assert.False(t, job.ID.IsZero())
	assert.Nil(t, job.Acknowledgment)
	assert.NotNil(t, job.Reports)
	assert.Empty(t, job.Reports)
	assert.Equal(t, jobs.StateCreated, job.State())
}

func TestService_EnqueueValidation(t *testing.T) {
	service, _ := newTestService(t)
	_, err := service.Enqueue(context.Background(), &jobs.Job{})
	assert.ErrorIs(t, err, jobs.ErrValidation)
	_, err = service.Enqueue(context.Background(), nil)
	assert.ErrorIs(t, err, jobs.ErrValidation)
}

func TestService_PeekUsesConfiguredDefaultLimit(t *testing.T) {
	store := newStoreWithJobs(t, "q", 5)
	service, err := jobs.NewService(store, &workerTestLogger{}, jobs.ServiceConfig{DefaultPeekLimit: 2})
	require.NoError(t, err)

	found, err := service.Peek(context.Background(), jobs.PeekNextQuery{JobQuery: jobs.JobQuery{QueueID: "q"}})
	require.NoError(t, err)
	assert.Len(t, found, 2)
}

func TestService_AcknowledgeReportsClaimLost(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()
	job := enqueueJob(t, service, "q", attributes.Bag{})

	first, err := service.Acknowledge(ctx, "q", job.ID, attributes.MustOf("RunnerId", "a"))
	require.NoError(t, err)
	second, err := service.Acknowledge(ctx, "q", job.ID, attributes.MustOf("RunnerId", "b"))
	require.NoError(t, err)

	assert.True(t, first.Success)
	assert.False(t, second.Success)
}

func TestService_InvalidQueryIsSurfaced(t *testing.T) {
	service, _ := newTestService(t)
	_, err := service.TakeNext(context.Background(), jobs.TakeNextOptions{
		JobQuery: jobs.JobQuery{QueueID: "q", AdhocQuery: "{not json"},
	})
	assert.ErrorIs(t, err, jobs.ErrInvalidQuery)
}

func TestService_ZeroAttributeValueIsRejected(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()
	enqueueJob(t, service, "q", attributes.MustOf("DataCenter", "CAL01"))
	enqueueJob(t, service, "q", attributes.MustOf("DataCenter", "NYC02"))

	broken := attributes.MustOf("DataCenter", "CAL01")
	broken.Set("Broken", attributes.Value{})
	_, err := service.Enqueue(ctx, &jobs.Job{QueueID: "q", Attributes: broken})
	assert.ErrorIs(t, err, jobs.ErrValidation)
	assert.Equal(t, 2, store.Len())

	var constraint attributes.Bag
	constraint.Set("DataCenter", attributes.Value{})
	_, err = service.Peek(ctx, jobs.PeekNextQuery{JobQuery: jobs.JobQuery{QueueID: "q", HasAttributes: constraint}})
	assert.ErrorIs(t, err, jobs.ErrInvalidQuery)
}

func TestService_ClosedRejectsCalls(t *testing.T) {
	service, _ := newTestService(t)
	require.NoError(t, service.Close())
	require.NoError(t, service.Close())

	_, err := service.Peek(context.Background(), jobs.PeekNextQuery{JobQuery: jobs.JobQuery{QueueID: "q"}})
	assert.ErrorIs(t, err, jobs.ErrClosed)
	assert.ErrorIs(t, service.HealthCheck(context.Background()), jobs.ErrClosed)
}

func TestService_NilIsNotInitialized(t *testing.T) {
	var service *jobs.Service
	_, err := service.Get(context.Background(), "q", "id")
	assert.ErrorIs(t, err, jobs.ErrNotInitialized)
}

func newStoreWithJobs(t *testing.T, queue jobs.QueueID, count int) jobs.Backend {
	t.Helper()
	service, store := newTestService(t)
	for idx := 0; idx < count; idx++ {
		enqueueJob(t, service, queue, attributes.MustOf("Index", idx))
	}
	return store
}
