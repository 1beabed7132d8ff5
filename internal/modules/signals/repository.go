// Package signals keeps the append-only record of scored candidates.
package signals

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cerbero/coordinator/internal/database"
	"github.com/cerbero/coordinator/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Signal is a persisted candidate
type Signal struct {
	CreatedAt time.Time        `json:"created_at"`
	ID        string           `json:"id"`
	CycleID   string           `json:"cycle_id,omitempty"`
	Candidate domain.Candidate `json:"candidate"`
	Score     float64          `json:"score"`
}

// Repository handles signal database operations. Rows are never updated or deleted.
type Repository struct {
	db  *sql.DB // ledger.db
	now func() time.Time
	log zerolog.Logger
}

// NewRepository creates a new signal repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		now: time.Now,
		log: log.With().Str("repo", "signals").Logger(),
	}
}

// Record stores candidates in one transaction and returns their ids in input order.
// cycleID may be empty for signals recorded outside a scan cycle.
func (r *Repository) Record(ctx context.Context, cycleID string, candidates []domain.Candidate) ([]string, error) {
	ids := make([]string, len(candidates))
	if len(candidates) == 0 {
		return ids, nil
	}

	createdAt := r.now().Unix()
	err := database.WithTransaction(ctx, r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO signals (id, cycle_id, symbol, score, p, e, r, v, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare signal insert: %w", err)
		}
		defer stmt.Close()

		for i, c := range candidates {
			id := uuid.NewString()
			if _, err := stmt.ExecContext(ctx, id, nullable(cycleID), c.Symbol, c.Combined(), c.P, c.E, c.R, c.V, createdAt); err != nil {
				return fmt.Errorf("failed to insert signal for %s: %w", c.Symbol, err)
			}
			ids[i] = id
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.log.Debug().Str("cycle_id", cycleID).Int("count", len(ids)).Msg("Signals recorded")
	return ids, nil
}

// ListRecent returns the most recent signals, newest first
func (r *Repository) ListRecent(ctx context.Context, limit int) ([]Signal, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, COALESCE(cycle_id, ''), symbol, score, p, e, r, v, created_at
		FROM signals
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}
	defer rows.Close()

	signals := []Signal{}
	for rows.Next() {
		var (
			s         Signal
			createdAt int64
		)
		if err := rows.Scan(&s.ID, &s.CycleID, &s.Candidate.Symbol, &s.Score,
			&s.Candidate.P, &s.Candidate.E, &s.Candidate.R, &s.Candidate.V, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		s.CreatedAt = time.Unix(createdAt, 0).UTC()
		signals = append(signals, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating signals: %w", err)
	}

	return signals, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
