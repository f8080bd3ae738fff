// Package jobstest holds a conformance suite every jobs.Backend implementation must pass.
package jobstest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/nimburion/monjobs/pkg/attributes"
	"github.com/nimburion/monjobs/pkg/jobs"
	"github.com/nimburion/monjobs/pkg/jobs/filter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a backend for one subtest. Queues are unique per subtest, so a shared store
// may be returned.
type Factory func(t *testing.T) jobs.Backend

// RunBackendSuite runs the lifecycle conformance tests against backends created by newBackend.
func RunBackendSuite(t *testing.T, newBackend Factory) {
	t.Helper()
	cases := []struct {
		name string
		run  func(t *testing.T, b jobs.Backend, queue jobs.QueueID)
	}{
		{"ScenarioPeekThenAck", testScenarioPeekThenAck},
		{"ScenarioTakeNext", testScenarioTakeNext},
		{"ConjunctiveFilter", testConjunctiveFilter},
		{"ListAttributeMatchesAnyItem", testListAttributeMatchesAnyItem},
		{"EmptyListMatchesNothing", testEmptyListMatchesNothing},
		{"WriteOnceAcknowledgment", testWriteOnceAcknowledgment},
		{"ReportOrderPreserved", testReportOrderPreserved},
		{"WriteOnceComplete", testWriteOnceComplete},
		{"NotFoundIsNotClaimLost", testNotFoundIsNotClaimLost},
		{"AtMostOneClaimant", testAtMostOneClaimant},
		{"InvalidRawQueryLeavesStoreUntouched", testInvalidRawQuery},
		{"ZeroAttributeValueIsRejected", testZeroAttributeValue},
		{"AdhocPredicates", testAdhocPredicates},
		{"JobIDAllowList", testJobIDAllowList},
		{"ResultPresence", testResultPresence},
		{"PeekLimit", testPeekLimit},
		{"DuplicateInsertConflicts", testDuplicateInsert},
		{"InsertLeavesCallerJob", testInsertLeavesCallerJob},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := newBackend(t)
			tc.run(t, b, jobs.QueueID("queue-"+uuid.NewString()))
		})
	}
}

var reportMessages = []string{"FooBar", "WizBang", "PowPop"}

func enqueue(t *testing.T, b jobs.Backend, queue jobs.QueueID, attrs attributes.Bag) *jobs.Job {
	t.Helper()
	job, err := jobs.Enqueue(context.Background(), b, &jobs.Job{QueueID: queue, Attributes: attrs})
	require.NoError(t, err)
	return job
}

func addReportsAndComplete(t *testing.T, b jobs.Backend, queue jobs.QueueID, id jobs.JobID) {
	t.Helper()
	ctx := context.Background()
	for _, message := range reportMessages {
		require.NoError(t, jobs.AddReport(ctx, b, queue, id, attributes.MustOf("Message", message)))
	}
	require.NoError(t, jobs.Complete(ctx, b, queue, id, attributes.MustOf("Result", "Success")))
}

func assertFinalState(t *testing.T, job *jobs.Job, wantAck attributes.Bag) {
	t.Helper()
	require.NotNil(t, job.Acknowledgment)
	assert.True(t, job.Acknowledgment.Equal(wantAck), "acknowledgment = %v", job.Acknowledgment)
	require.Len(t, job.Reports, len(reportMessages))
	for idx, message := range reportMessages {
		got, ok := job.Reports[idx].Get("Message")
		require.True(t, ok)
		text, _ := got.AsString()
		assert.Equal(t, message, text)
	}
	require.NotNil(t, job.Result)
	assert.True(t, job.Result.Equal(attributes.MustOf("Result", "Success")))
	assert.Equal(t, jobs.StateCompleted, job.State())
}

func testScenarioPeekThenAck(t *testing.T, b jobs.Backend, queue jobs.QueueID) {
	ctx := context.Background()
	created := enqueue(t, b, queue, attributes.MustOf("DataCenter", "CAL01"))
	assert.Equal(t, jobs.StateCreated, created.State())

	peeked, err := jobs.Peek(ctx, b, jobs.PeekNextQuery{
		JobQuery: jobs.JobQuery{QueueID: queue, HasAttributes: attributes.MustOf("DataCenter", "CAL01")},
		Limit:    5,
	})
	require.NoError(t, err)
	require.Len(t, peeked, 1)
	assert.Equal(t, created.ID, peeked[0].ID)
	assert.Nil(t, peeked[0].Acknowledgment)

	ack := attributes.MustOf("RunnerId", "worker-a")
	result, err := jobs.Acknowledge(ctx, b, queue, created.ID, ack)
	require.NoError(t, err)
	assert.True(t, result.Success)

	addReportsAndComplete(t, b, queue, created.ID)

	final, err := jobs.Get(ctx, b, queue, created.ID)
	require.NoError(t, err)
	assertFinalState(t, final, ack)
}

func testScenarioTakeNext(t *testing.T, b jobs.Backend, queue jobs.QueueID) {
	ctx := context.Background()
	created := enqueue(t, b, queue, attributes.MustOf("DataCenter", "CAL01"))

	ack := attributes.MustOf("RunnerId", "worker-b")
	taken, err := jobs.TakeNext(ctx, b, jobs.TakeNextOptions{
		JobQuery:       jobs.JobQuery{QueueID: queue, HasAttributes: attributes.MustOf("DataCenter", "CAL01")},
		Acknowledgment: ack,
	})
	require.NoError(t, err)
	require.NotNil(t, taken)
	assert.Equal(t, created.ID, taken.ID)
	require.NotNil(t, taken.Acknowledgment)
	assert.True(t, taken.Acknowledgment.Equal(ack))

	again, err := jobs.TakeNext(ctx, b, jobs.TakeNextOptions{JobQuery: jobs.JobQuery{QueueID: queue}, Acknowledgment: ack})
	require.NoError(t, err)
	assert.Nil(t, again, "a claimed job must not be taken twice")

	addReportsAndComplete(t, b, queue, created.ID)

	final, err := jobs.Get(ctx, b, queue, created.ID)
	require.NoError(t, err)
	assertFinalState(t, final, ack)
}

func testConjunctiveFilter(t *testing.T, b jobs.Backend, queue jobs.QueueID) {
	ctx := context.Background()
	other := jobs.QueueID(string(queue) + "-other")
	claim := attributes.MustOf("RunnerId", "someone")

	// Conditions: queue == queue, DataCenter == CAL01, unacknowledged.
	type fixture struct {
		queue   jobs.QueueID
		dc      string
		claimed bool
		label   string
	}
	fixtures := []fixture{
		{other, "NYC02", true, "none"},
		{queue, "NYC02", true, "queue only"},
		{other, "CAL01", true, "attribute only"},
		{other, "NYC02", false, "unclaimed only"},
		{queue, "CAL01", true, "queue and attribute"},
		{queue, "NYC02", false, "queue and unclaimed"},
		{other, "CAL01", false, "attribute and unclaimed"},
		{queue, "CAL01", false, "all"},
	}
	want := map[jobs.JobID]string{}
	for _, f := range fixtures {
		job := enqueue(t, b, f.queue, attributes.MustOf("DataCenter", f.dc, "Label", f.label))
		if f.claimed {
			res, err := jobs.Acknowledge(ctx, b, f.queue, job.ID, claim)
			require.NoError(t, err)
			require.True(t, res.Success)
		}
		if f.label == "all" {
			want[job.ID] = f.label
		}
	}

	found, err := jobs.Peek(ctx, b, jobs.PeekNextQuery{
		JobQuery: jobs.JobQuery{
			QueueID:             queue,
			HasAttributes:       attributes.MustOf("DataCenter", "CAL01"),
			HasBeenAcknowledged: jobs.Bool(false),
		},
		Limit: 100,
	})
	require.NoError(t, err)
	require.Len(t, found, 1)
	_, ok := want[found[0].ID]
	assert.True(t, ok, "unexpected match %v", found[0].Attributes)
}

func testListAttributeMatchesAnyItem(t *testing.T, b jobs.Backend, queue jobs.QueueID) {
	ctx := context.Background()
	enqueue(t, b, queue, attributes.MustOf("k", "a"))
	enqueue(t, b, queue, attributes.MustOf("k", "b"))
	enqueue(t, b, queue, attributes.MustOf("k", "c"))
	enqueue(t, b, queue, attributes.MustOf("k", []string{"c", "b"}))

	found, err := jobs.Peek(ctx, b, jobs.PeekNextQuery{
		JobQuery: jobs.JobQuery{QueueID: queue, HasAttributes: attributes.MustOf("k", []string{"a", "b"})},
		Limit:    10,
	})
	require.NoError(t, err)
	require.Len(t, found, 3)
	for _, job := range found {
		value, _ := job.Attributes.Get("k")
		assert.NotEqual(t, attributes.String("c"), value)
	}
}

func testEmptyListMatchesNothing(t *testing.T, b jobs.Backend, queue jobs.QueueID) {
	ctx := context.Background()
	enqueue(t, b, queue, attributes.MustOf("k", "a"))

	found, err := jobs.Peek(ctx, b, jobs.PeekNextQuery{
		JobQuery: jobs.JobQuery{QueueID: queue, HasAttributes: attributes.MustOf("k", []string{})},
		Limit:    10,
	})
	require.NoError(t, err)
	assert.Empty(t, found)

	taken, err := jobs.TakeNext(ctx, b, jobs.TakeNextOptions{
		JobQuery:       jobs.JobQuery{QueueID: queue, HasAttributes: attributes.MustOf("k", []string{})},
		Acknowledgment: attributes.MustOf("RunnerId", "w"),
	})
	require.NoError(t, err)
	assert.Nil(t, taken)
}

func testWriteOnceAcknowledgment(t *testing.T, b jobs.Backend, queue jobs.QueueID) {
	ctx := context.Background()
	job := enqueue(t, b, queue, attributes.Bag{})
	first := attributes.MustOf("RunnerId", "first")
	second := attributes.MustOf("RunnerId", "second")

	res, err := jobs.Acknowledge(ctx, b, queue, job.ID, first)
	require.NoError(t, err)
	assert.True(t, res.Success)

	res, err = jobs.Acknowledge(ctx, b, queue, job.ID, second)
	require.NoError(t, err)
	assert.False(t, res.Success)

	stored, err := jobs.Get(ctx, b, queue, job.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Acknowledgment)
	assert.True(t, stored.Acknowledgment.Equal(first))
}

func testReportOrderPreserved(t *testing.T, b jobs.Backend, queue jobs.QueueID) {
	ctx := context.Background()
	job := enqueue(t, b, queue, attributes.Bag{})
	for _, message := range reportMessages {
		require.NoError(t, jobs.AddReport(ctx, b, queue, job.ID, attributes.MustOf("Message", message)))
	}
	stored, err := jobs.Get(ctx, b, queue, job.ID)
	require.NoError(t, err)
	require.Len(t, stored.Reports, 3)
	for idx, message := range reportMessages {
		value, _ := stored.Reports[idx].Get("Message")
		assert.Equal(t, attributes.String(message), value)
	}
}

func testWriteOnceComplete(t *testing.T, b jobs.Backend, queue jobs.QueueID) {
	ctx := context.Background()
	job := enqueue(t, b, queue, attributes.Bag{})

	require.NoError(t, jobs.Complete(ctx, b, queue, job.ID, attributes.MustOf("Result", "Success")))
	err := jobs.Complete(ctx, b, queue, job.ID, attributes.MustOf("Result", "Failure"))
	assert.ErrorIs(t, err, jobs.ErrAlreadyCompleted)

	stored, err := jobs.Get(ctx, b, queue, job.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Result)
	assert.True(t, stored.Result.Equal(attributes.MustOf("Result", "Success")))
}

func testNotFoundIsNotClaimLost(t *testing.T, b jobs.Backend, queue jobs.QueueID) {
	ctx := context.Background()
	job := enqueue(t, b, queue, attributes.Bag{})
	missing := jobs.NewJobID()

	_, err := jobs.Acknowledge(ctx, b, queue, missing, attributes.MustOf("RunnerId", "w"))
	assert.ErrorIs(t, err, jobs.ErrNotFound)

	// Right id, wrong queue.
	_, err = jobs.Acknowledge(ctx, b, jobs.QueueID(string(queue)+"-elsewhere"), job.ID, attributes.MustOf("RunnerId", "w"))
	assert.ErrorIs(t, err, jobs.ErrNotFound)

	assert.ErrorIs(t, jobs.AddReport(ctx, b, queue, missing, attributes.MustOf("Message", "x")), jobs.ErrNotFound)
	assert.ErrorIs(t, jobs.Complete(ctx, b, queue, missing, attributes.MustOf("Result", "x")), jobs.ErrNotFound)
	_, err = jobs.Get(ctx, b, queue, missing)
	assert.ErrorIs(t, err, jobs.ErrNotFound)
}

func testAtMostOneClaimant(t *testing.T, b jobs.Backend, queue jobs.QueueID) {
	ctx := context.Background()
	job := enqueue(t, b, queue, attributes.MustOf("DataCenter", "CAL01"))

	const workers = 16
	var (
		wins  atomic.Int32
		wg    sync.WaitGroup
		errMu sync.Mutex
		errs  []error
	)
	record := func(err error) {
		errMu.Lock()
		defer errMu.Unlock()
		errs = append(errs, err)
	}
	for idx := 0; idx < workers; idx++ {
		ack := attributes.MustOf("RunnerId", fmt.Sprintf("worker-%d", idx))
		wg.Add(2)
		go func() {
			defer wg.Done()
			taken, err := jobs.TakeNext(ctx, b, jobs.TakeNextOptions{JobQuery: jobs.JobQuery{QueueID: queue}, Acknowledgment: ack})
			if err != nil {
				record(err)
				return
			}
			if taken != nil {
				wins.Add(1)
			}
		}()
		go func() {
			defer wg.Done()
			res, err := jobs.Acknowledge(ctx, b, queue, job.ID, ack)
			if err != nil {
				record(err)
				return
			}
			if res.Success {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	assert.Equal(t, int32(1), wins.Load())
}

func testInvalidRawQuery(t *testing.T, b jobs.Backend, queue jobs.QueueID) {
	ctx := context.Background()
	cal := enqueue(t, b, queue, attributes.MustOf("DataCenter", "CAL01"))
	nyc := enqueue(t, b, queue, attributes.MustOf("DataCenter", "NYC02"))

	for _, raw := range []string{
		`{"attributes.Priority": {"$gte": }`,
		`null`,
		`[]`,
		`"CAL01"`,
		`1`,
		`{"attributes.DataCenter":"CAL01"} {"attributes.DataCenter":"NYC02"}`,
		`{"attributes.DataCenter":"NOPE"}}}garbage`,
		`{} trailing`,
	} {
		bad := jobs.JobQuery{QueueID: queue, AdhocQuery: raw}

		found, err := jobs.Peek(ctx, b, jobs.PeekNextQuery{JobQuery: bad})
		require.ErrorIs(t, err, jobs.ErrInvalidQuery, "query %q", raw)
		assert.Nil(t, found, "query %q", raw)
		var invalid *jobs.InvalidQueryError
		require.ErrorAs(t, err, &invalid, "query %q", raw)
		assert.Equal(t, raw, invalid.Query)

		taken, err := jobs.TakeNext(ctx, b, jobs.TakeNextOptions{JobQuery: bad, Acknowledgment: attributes.MustOf("RunnerId", "w")})
		require.ErrorIs(t, err, jobs.ErrInvalidQuery, "query %q", raw)
		assert.Nil(t, taken, "query %q", raw)
	}

	for _, id := range []jobs.JobID{cal.ID, nyc.ID} {
		stored, err := jobs.Get(ctx, b, queue, id)
		require.NoError(t, err)
		assert.Nil(t, stored.Acknowledgment)
	}
	all, err := jobs.Peek(ctx, b, jobs.PeekNextQuery{JobQuery: jobs.JobQuery{QueueID: queue}})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func testZeroAttributeValue(t *testing.T, b jobs.Backend, queue jobs.QueueID) {
	ctx := context.Background()
	enqueue(t, b, queue, attributes.MustOf("DataCenter", "CAL01"))
	enqueue(t, b, queue, attributes.MustOf("DataCenter", "NYC02"))

	broken := attributes.MustOf("DataCenter", "CAL01")
	broken.Set("Broken", attributes.Value{})
	_, err := jobs.Enqueue(ctx, b, &jobs.Job{QueueID: queue, Attributes: broken})
	require.ErrorIs(t, err, jobs.ErrValidation)

	var constraint attributes.Bag
	constraint.Set("DataCenter", attributes.Value{})
	found, err := jobs.Peek(ctx, b, jobs.PeekNextQuery{JobQuery: jobs.JobQuery{QueueID: queue, HasAttributes: constraint}})
	require.ErrorIs(t, err, jobs.ErrInvalidQuery)
	assert.Nil(t, found)

	all, err := jobs.Peek(ctx, b, jobs.PeekNextQuery{JobQuery: jobs.JobQuery{QueueID: queue}})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func testAdhocPredicates(t *testing.T, b jobs.Backend, queue jobs.QueueID) {
	ctx := context.Background()
	enqueue(t, b, queue, attributes.MustOf("Priority", 1))
	high := enqueue(t, b, queue, attributes.MustOf("Priority", 5))

	found, err := jobs.Peek(ctx, b, jobs.PeekNextQuery{
		JobQuery: jobs.JobQuery{QueueID: queue, AdhocQuery: `{"attributes.Priority": {"$gte": 3}}`},
	})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, high.ID, found[0].ID)

	found, err = jobs.Peek(ctx, b, jobs.PeekNextQuery{
		JobQuery: jobs.JobQuery{QueueID: queue, AdhocFilter: filter.Eq("attributes.Priority", int64(1))},
	})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.NotEqual(t, high.ID, found[0].ID)
}

func testJobIDAllowList(t *testing.T, b jobs.Backend, queue jobs.QueueID) {
	ctx := context.Background()
	first := enqueue(t, b, queue, attributes.Bag{})
	enqueue(t, b, queue, attributes.Bag{})
	third := enqueue(t, b, queue, attributes.Bag{})

	found, err := jobs.Peek(ctx, b, jobs.PeekNextQuery{
		JobQuery: jobs.JobQuery{QueueID: queue, JobIDs: []jobs.JobID{first.ID, third.ID}},
	})
	require.NoError(t, err)
	require.Len(t, found, 2)
	ids := []jobs.JobID{found[0].ID, found[1].ID}
	assert.ElementsMatch(t, []jobs.JobID{first.ID, third.ID}, ids)
}

func testResultPresence(t *testing.T, b jobs.Backend, queue jobs.QueueID) {
	ctx := context.Background()
	done := enqueue(t, b, queue, attributes.Bag{})
	pending := enqueue(t, b, queue, attributes.Bag{})
	require.NoError(t, jobs.Complete(ctx, b, queue, done.ID, attributes.MustOf("Result", "Success")))

	finished, err := jobs.Peek(ctx, b, jobs.PeekNextQuery{JobQuery: jobs.JobQuery{QueueID: queue, HasResult: jobs.Bool(true)}})
	require.NoError(t, err)
	require.Len(t, finished, 1)
	assert.Equal(t, done.ID, finished[0].ID)

	open, err := jobs.Peek(ctx, b, jobs.PeekNextQuery{JobQuery: jobs.JobQuery{QueueID: queue, HasResult: jobs.Bool(false)}})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, pending.ID, open[0].ID)
}

func testPeekLimit(t *testing.T, b jobs.Backend, queue jobs.QueueID) {
	ctx := context.Background()
	for idx := 0; idx < jobs.DefaultPeekLimit+2; idx++ {
		enqueue(t, b, queue, attributes.MustOf("Index", idx))
	}
	limited, err := jobs.Peek(ctx, b, jobs.PeekNextQuery{JobQuery: jobs.JobQuery{QueueID: queue}, Limit: 3})
	require.NoError(t, err)
	assert.Len(t, limited, 3)

	defaulted, err := jobs.Peek(ctx, b, jobs.PeekNextQuery{JobQuery: jobs.JobQuery{QueueID: queue}})
	require.NoError(t, err)
	assert.Len(t, defaulted, jobs.DefaultPeekLimit)
}

func testDuplicateInsert(t *testing.T, b jobs.Backend, queue jobs.QueueID) {
	ctx := context.Background()
	id := jobs.NewJobID()
	_, err := jobs.Enqueue(ctx, b, &jobs.Job{ID: id, QueueID: queue})
	require.NoError(t, err)
	_, err = jobs.Enqueue(ctx, b, &jobs.Job{ID: id, QueueID: queue})
	assert.ErrorIs(t, err, jobs.ErrConflict)
}

func testInsertLeavesCallerJob(t *testing.T, b jobs.Backend, queue jobs.QueueID) {
	ctx := context.Background()
	job := &jobs.Job{ID: jobs.NewJobID(), QueueID: queue, Attributes: attributes.MustOf("DataCenter", "CAL01")}
	require.NoError(t, b.Insert(ctx, job))
	assert.Nil(t, job.Reports)

	stored, err := jobs.Get(ctx, b, queue, job.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Reports)
	assert.True(t, stored.Attributes.Equal(job.Attributes))
}
