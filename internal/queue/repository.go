package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cerbero/coordinator/internal/database"
	"github.com/cerbero/coordinator/internal/domain"
	"github.com/rs/zerolog"
)

// Job statuses
const (
	StatusPending = "pending"
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// ErrJobNotFound is returned when no job matches an id
var ErrJobNotFound = errors.New("job not found")

// Job is the tracked state of one dispatch unit
type Job struct {
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ID          string     `json:"id"`
	CycleID     string     `json:"cycle_id"`
	TenantID    string     `json:"tenant_id"`
	SignalID    string     `json:"signal_id"`
	Symbol      string     `json:"symbol"`
	Status      string     `json:"status"`
	LastError   string     `json:"last_error,omitempty"`
	Attempts    int        `json:"attempts"`
}

// JobRepository tracks dispatch units in the ledger database
type JobRepository struct {
	db  *sql.DB // ledger.db
	log zerolog.Logger
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *sql.DB, log zerolog.Logger) *JobRepository {
	return &JobRepository{
		db:  db,
		log: log.With().Str("repo", "jobs").Logger(),
	}
}

// CreateBatch records every unit of a cycle as pending, atomically
func (r *JobRepository) CreateBatch(ctx context.Context, units []domain.DispatchUnit) error {
	if len(units) == 0 {
		return nil
	}
	return database.WithTransaction(ctx, r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO jobs (id, cycle_id, tenant_id, signal_id, symbol, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare job insert: %w", err)
		}
		defer stmt.Close()

		for _, u := range units {
			createdAt := u.CreatedAt
			if createdAt.IsZero() {
				createdAt = time.Now()
			}
			if _, err := stmt.ExecContext(ctx, u.ID, u.CycleID, u.TenantID, u.SignalID,
				u.Candidate.Symbol, StatusPending, createdAt.Unix()); err != nil {
				return fmt.Errorf("failed to insert job %s: %w", u.ID, err)
			}
		}
		return nil
	})
}

// Claim outcomes other than success
var (
	ErrJobClaimed   = errors.New("job already claimed by another worker")
	ErrJobCompleted = errors.New("job already completed")
)

// ClaimLease is how long a running claim holds before another worker may take it over.
// It covers workers that died mid-run.
const ClaimLease = 5 * time.Minute

// Claim atomically moves a unit to running and counts the attempt.
// Units without a cycle row (ad-hoc deliveries) are inserted first.
// Returns ErrJobClaimed while another worker holds a live claim and
// ErrJobCompleted once the unit is done.
func (r *JobRepository) Claim(ctx context.Context, unit domain.DispatchUnit) error {
	now := time.Now()
	return database.WithTransaction(ctx, r.db, func(tx *sql.Tx) error {
		createdAt := unit.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO jobs (id, cycle_id, tenant_id, signal_id, symbol, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`, unit.ID, unit.CycleID, unit.TenantID, unit.SignalID, unit.Candidate.Symbol,
			StatusPending, createdAt.Unix()); err != nil {
			return fmt.Errorf("failed to insert job %s: %w", unit.ID, err)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE jobs SET status = ?, attempts = attempts + 1, claimed_at = ?, completed_at = NULL
			WHERE id = ? AND (status IN (?, ?) OR (status = ? AND claimed_at < ?))
		`, StatusRunning, now.Unix(), unit.ID,
			StatusPending, StatusFailed, StatusRunning, now.Add(-ClaimLease).Unix())
		if err != nil {
			return fmt.Errorf("failed to claim job %s: %w", unit.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}
		if n == 1 {
			return nil
		}

		var status string
		if err := tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, unit.ID).Scan(&status); err != nil {
			return fmt.Errorf("failed to read job %s: %w", unit.ID, err)
		}
		if status == StatusDone {
			return fmt.Errorf("%w: %s", ErrJobCompleted, unit.ID)
		}
		return fmt.Errorf("%w: %s", ErrJobClaimed, unit.ID)
	})
}

// MarkDone flags a job as completed
func (r *JobRepository) MarkDone(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, last_error = NULL, completed_at = ? WHERE id = ?
	`, StatusDone, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to mark job %s done: %w", id, err)
	}
	return nil
}

// MarkFailed flags a job as failed with the reason of its last attempt
func (r *JobRepository) MarkFailed(ctx context.Context, id string, reason string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, last_error = ?, completed_at = ? WHERE id = ?
	`, StatusFailed, reason, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to mark job %s failed: %w", id, err)
	}
	return nil
}

// Get returns a job by id
func (r *JobRepository) Get(ctx context.Context, id string) (Job, error) {
	var (
		job         Job
		lastError   sql.NullString
		createdAt   int64
		completedAt sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, cycle_id, tenant_id, signal_id, symbol, status, attempts, last_error, created_at, completed_at
		FROM jobs WHERE id = ?
	`, id).Scan(&job.ID, &job.CycleID, &job.TenantID, &job.SignalID, &job.Symbol,
		&job.Status, &job.Attempts, &lastError, &createdAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return Job{}, fmt.Errorf("failed to get job %s: %w", id, err)
	}

	job.LastError = lastError.String
	job.CreatedAt = time.Unix(createdAt, 0).UTC()
	if completedAt.Valid {
		t := time.Unix(completedAt.Int64, 0).UTC()
		job.CompletedAt = &t
	}
	return job, nil
}

// CountByStatus returns the number of jobs in each status
func (r *JobRepository) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{
		StatusPending: 0,
		StatusRunning: 0,
		StatusDone:    0,
		StatusFailed:  0,
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan job count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
