package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cerbero/coordinator/internal/database"
	"github.com/cerbero/coordinator/internal/domain"
	testingpkg "github.com/cerbero/coordinator/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJobRepository(t *testing.T) *JobRepository {
	db := testingpkg.NewTestDB(t, database.NameLedger)
	return NewJobRepository(db.Conn(), zerolog.New(nil).Level(zerolog.Disabled))
}

func TestJobRepository_Lifecycle(t *testing.T) {
	repo := newTestJobRepository(t)
	ctx := context.Background()

	units := []domain.DispatchUnit{testUnit("job-1"), testUnit("job-2")}
	require.NoError(t, repo.CreateBatch(ctx, units))
	// Re-creating the same batch is a no-op
	require.NoError(t, repo.CreateBatch(ctx, units))

	job, err := repo.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, job.Status)
	assert.Equal(t, 0, job.Attempts)
	assert.Equal(t, "BTCUSD", job.Symbol)
	assert.Nil(t, job.CompletedAt)

	require.NoError(t, repo.Claim(ctx, testUnit("job-1")))
	require.NoError(t, repo.MarkFailed(ctx, "job-1", "settlement timeout"))
	job, err = repo.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, "settlement timeout", job.LastError)
	assert.Equal(t, 1, job.Attempts)
	assert.NotNil(t, job.CompletedAt)

	require.NoError(t, repo.Claim(ctx, testUnit("job-1")))
	require.NoError(t, repo.MarkDone(ctx, "job-1"))
	job, err = repo.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusDone, job.Status)
	assert.Empty(t, job.LastError)
	assert.Equal(t, 2, job.Attempts)
	assert.ErrorIs(t, repo.Claim(ctx, testUnit("job-1")), ErrJobCompleted)

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[StatusDone])
	assert.Equal(t, 1, counts[StatusPending])
	assert.Equal(t, 0, counts[StatusFailed])
}

func TestJobRepository_UnknownJob(t *testing.T) {
	repo := newTestJobRepository(t)
	ctx := context.Background()

	_, err := repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	assert.NoError(t, repo.MarkDone(ctx, "missing"))
	assert.NoError(t, repo.CreateBatch(ctx, nil))
}

func TestJobRepository_ClaimInsertsAdHocUnit(t *testing.T) {
	repo := newTestJobRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Claim(ctx, testUnit("adhoc-1")))

	job, err := repo.Get(ctx, "adhoc-1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, "BTCUSD", job.Symbol)
}

func TestJobRepository_ClaimIsExclusive(t *testing.T) {
	repo := newTestJobRepository(t)
	ctx := context.Background()
	require.NoError(t, repo.CreateBatch(ctx, []domain.DispatchUnit{testUnit("job-1")}))

	const workers = 8
	results := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- repo.Claim(ctx, testUnit("job-1"))
		}()
	}
	wg.Wait()
	close(results)

	claimed := 0
	for err := range results {
		if err == nil {
			claimed++
			continue
		}
		assert.ErrorIs(t, err, ErrJobClaimed)
	}
	assert.Equal(t, 1, claimed)

	job, err := repo.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 1, job.Attempts)
}

func TestJobRepository_ClaimTakesOverExpiredLease(t *testing.T) {
	repo := newTestJobRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Claim(ctx, testUnit("job-1")))
	assert.ErrorIs(t, repo.Claim(ctx, testUnit("job-1")), ErrJobClaimed)

	_, err := repo.db.ExecContext(ctx, `UPDATE jobs SET claimed_at = ? WHERE id = ?`,
		time.Now().Add(-ClaimLease-time.Minute).Unix(), "job-1")
	require.NoError(t, err)

	require.NoError(t, repo.Claim(ctx, testUnit("job-1")))
	job, err := repo.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 2, job.Attempts)
}
