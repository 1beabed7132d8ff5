package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cerbero/coordinator/internal/domain"
	"github.com/cerbero/coordinator/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockProcessor struct {
	intents []domain.TradeIntent
	err     error
}

func (m *mockProcessor) Process(ctx context.Context, intent domain.TradeIntent) (*IntentResult, error) {
	m.intents = append(m.intents, intent)
	return &IntentResult{Intent: intent, CorrelationID: intent.CorrelationID}, m.err
}

// blockingProcessor holds every run until release is closed
type blockingProcessor struct {
	mu      sync.Mutex
	runs    int
	started chan struct{}
	release chan struct{}
}

func newBlockingProcessor() *blockingProcessor {
	return &blockingProcessor{started: make(chan struct{}, 8), release: make(chan struct{})}
}

func (b *blockingProcessor) Process(ctx context.Context, intent domain.TradeIntent) (*IntentResult, error) {
	b.mu.Lock()
	b.runs++
	b.mu.Unlock()
	b.started <- struct{}{}
	<-b.release
	return &IntentResult{Intent: intent, CorrelationID: intent.CorrelationID}, nil
}

func (b *blockingProcessor) Runs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.runs
}

func testUnit(id string) domain.DispatchUnit {
	return domain.DispatchUnit{
		CreatedAt: time.Now(),
		ID:        id,
		CycleID:   "cycle-1",
		TenantID:  "tenant-1",
		SignalID:  "signal-1",
		Direction: domain.DirectionLong,
		Candidate: domain.Candidate{Symbol: "XAUUSD", P: 0.8, E: 0.9},
	}
}

func TestDispatchWorker_RunsPipelineWithUnitID(t *testing.T) {
	repo, db := newLedger(t)
	jobs := queue.NewJobRepository(db.Conn(), disabledLogger())
	ctx := context.Background()
	require.NoError(t, jobs.CreateBatch(ctx, []domain.DispatchUnit{testUnit("unit-1")}))

	processor := &mockProcessor{}
	worker := NewDispatchWorker(processor, repo, jobs, 0.008, disabledLogger())

	require.NoError(t, worker.Handle(ctx, testUnit("unit-1")))
	require.Len(t, processor.intents, 1)
	intent := processor.intents[0]
	assert.Equal(t, "unit-1", intent.CorrelationID)
	assert.Equal(t, "tenant-1", intent.TenantID)
	assert.Equal(t, "XAUUSD", intent.Symbol)
	assert.Equal(t, 0.008, intent.RiskFraction)
	assert.Equal(t, domain.DirectionLong, intent.Direction)

	job, err := jobs.Get(ctx, "unit-1")
	require.NoError(t, err)
	assert.Equal(t, queue.StatusDone, job.Status)
	assert.Equal(t, 1, job.Attempts)
}

func TestDispatchWorker_SkipsAlreadyDispatchedUnit(t *testing.T) {
	repo, _ := newLedger(t)
	ctx := context.Background()
	_, err := repo.Append(ctx, domain.DispatchRecord{
		CreatedAt:     time.Now(),
		CorrelationID: "unit-1",
		TenantID:      "tenant-1",
		Symbol:        "XAUUSD",
		Direction:     domain.DirectionLong,
		Handle:        "0xabc",
	})
	require.NoError(t, err)

	processor := &mockProcessor{}
	worker := NewDispatchWorker(processor, repo, nil, 0.008, disabledLogger())

	require.NoError(t, worker.Handle(ctx, testUnit("unit-1")))
	assert.Empty(t, processor.intents)
}

func TestDispatchWorker_RedeliveryIsIdempotentEndToEnd(t *testing.T) {
	repo, _ := newLedger(t)
	pipeline := NewIntentPipeline(
		staticEquity{equity: 10000},
		&mockResolver{prices: map[string]float64{"XAUUSD": 2350}},
		newSizer(), degradedDispatcher(), repo, nil, disabledLogger(),
	)
	worker := NewDispatchWorker(pipeline, repo, nil, 0.01, disabledLogger())
	ctx := context.Background()

	require.NoError(t, worker.Handle(ctx, testUnit("unit-1")))
	require.NoError(t, worker.Handle(ctx, testUnit("unit-1")))

	records, err := repo.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "unit-1", records[0].CorrelationID)
}

func TestDispatchWorker_FailureClassification(t *testing.T) {
	testCases := []struct {
		name        string
		err         error
		expectError bool
	}{
		{"feed unavailable is redelivered", domain.Fail(domain.ErrFeedUnavailable, nil, "timeout"), true},
		{"dispatch failure is redelivered", domain.Fail(domain.ErrDispatchFailed, nil, "rpc"), true},
		{"unknown error is redelivered", errors.New("boom"), true},
		{"unknown symbol is permanent", domain.Fail(domain.ErrUnknownSymbol, nil, "x"), false},
		{"invalid sizing is permanent", domain.Fail(domain.ErrInvalidSizing, nil, "x"), false},
		{"missing configuration is permanent", domain.Fail(domain.ErrConfigurationMissing, nil, "x"), false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			repo, db := newLedger(t)
			jobs := queue.NewJobRepository(db.Conn(), disabledLogger())
			ctx := context.Background()
			require.NoError(t, jobs.CreateBatch(ctx, []domain.DispatchUnit{testUnit("unit-1")}))

			worker := NewDispatchWorker(&mockProcessor{err: tc.err}, repo, jobs, 0.01, disabledLogger())
			err := worker.Handle(ctx, testUnit("unit-1"))
			if tc.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tc.expectError, Retryable(tc.err))

			job, err := jobs.Get(ctx, "unit-1")
			require.NoError(t, err)
			assert.Equal(t, queue.StatusFailed, job.Status)
			assert.NotEmpty(t, job.LastError)
		})
	}
}

func TestDispatchWorker_RejectsUnitWithoutID(t *testing.T) {
	repo, _ := newLedger(t)
	worker := NewDispatchWorker(&mockProcessor{}, repo, nil, 0.01, disabledLogger())

	err := worker.Handle(context.Background(), domain.DispatchUnit{})
	assert.ErrorIs(t, err, domain.ErrInvalidIntent)
}

func TestDispatchWorker_ConcurrentRedeliveryRunsOnce(t *testing.T) {
	testCases := []struct {
		name         string
		sharedWorker bool
	}{
		{"same worker", true},
		{"separate workers sharing the job table", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			repo, db := newLedger(t)
			jobs := queue.NewJobRepository(db.Conn(), disabledLogger())
			ctx := context.Background()

			processor := newBlockingProcessor()
			first := NewDispatchWorker(processor, repo, jobs, 0.01, disabledLogger())
			second := first
			if !tc.sharedWorker {
				second = NewDispatchWorker(processor, repo, jobs, 0.01, disabledLogger())
			}

			done := make(chan error, 1)
			go func() { done <- first.Handle(ctx, testUnit("unit-1")) }()

			select {
			case <-processor.started:
			case <-time.After(5 * time.Second):
				t.Fatal("first delivery never reached the pipeline")
			}

			err := second.Handle(ctx, testUnit("unit-1"))
			assert.ErrorIs(t, err, ErrUnitInFlight)
			assert.True(t, Retryable(err))

			close(processor.release)
			require.NoError(t, <-done)
			assert.Equal(t, 1, processor.Runs())

			// A late redelivery after completion is acknowledged without running
			require.NoError(t, second.Handle(ctx, testUnit("unit-1")))
			assert.Equal(t, 1, processor.Runs())

			job, err := jobs.Get(ctx, "unit-1")
			require.NoError(t, err)
			assert.Equal(t, queue.StatusDone, job.Status)
			assert.Equal(t, 1, job.Attempts)
		})
	}
}

func TestDispatchWorker_RetriesFailedUnit(t *testing.T) {
	repo, db := newLedger(t)
	jobs := queue.NewJobRepository(db.Conn(), disabledLogger())
	ctx := context.Background()

	processor := &mockProcessor{err: domain.Fail(domain.ErrFeedUnavailable, nil, "timeout")}
	worker := NewDispatchWorker(processor, repo, jobs, 0.01, disabledLogger())

	require.Error(t, worker.Handle(ctx, testUnit("unit-1")))
	processor.err = nil
	require.NoError(t, worker.Handle(ctx, testUnit("unit-1")))
	assert.Len(t, processor.intents, 2)

	job, err := jobs.Get(ctx, "unit-1")
	require.NoError(t, err)
	assert.Equal(t, queue.StatusDone, job.Status)
	assert.Equal(t, 2, job.Attempts)
}
