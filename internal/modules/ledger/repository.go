// Package ledger persists dispatch records and pipeline failures.
// Both tables are append-only.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cerbero/coordinator/internal/domain"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned when no dispatch matches a correlation id
var ErrNotFound = errors.New("dispatch not found")

// Repository handles dispatch ledger database operations
type Repository struct {
	db  *sql.DB // ledger.db
	log zerolog.Logger
}

const dispatchColumns = `correlation_id, tenant_id, symbol, direction, equity, risk_amount,
	max_leverage, notional, quantity, price, handle, created_at`

// NewRepository creates a new ledger repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "ledger").Logger(),
	}
}

// Append stores a dispatch record. Appending a correlation id twice keeps the first record.
// Returns false when the record already existed.
func (r *Repository) Append(ctx context.Context, rec domain.DispatchRecord) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO dispatches (`+dispatchColumns+`, placeholder)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(correlation_id) DO NOTHING
	`,
		rec.CorrelationID, rec.TenantID, rec.Symbol, string(rec.Direction),
		rec.Sizing.Equity, rec.Sizing.RiskAmount, rec.Sizing.MaxLeverage,
		rec.Sizing.Notional, rec.Sizing.Quantity, rec.Sizing.Price,
		rec.Handle, rec.CreatedAt.UnixMilli(), boolToInt(rec.Placeholder()),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert dispatch %s: %w", rec.CorrelationID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		r.log.Debug().Str("correlation_id", rec.CorrelationID).Msg("Dispatch already recorded, skipping duplicate")
		return false, nil
	}
	return true, nil
}

// Exists reports whether a dispatch with the correlation id was recorded
func (r *Repository) Exists(ctx context.Context, correlationID string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dispatches WHERE correlation_id = ?`, correlationID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check dispatch %s: %w", correlationID, err)
	}
	return n > 0, nil
}

// Get returns the dispatch with the correlation id
func (r *Repository) Get(ctx context.Context, correlationID string) (domain.DispatchRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+dispatchColumns+` FROM dispatches WHERE correlation_id = ?`, correlationID)
	rec, err := scanDispatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DispatchRecord{}, fmt.Errorf("%w: %s", ErrNotFound, correlationID)
	}
	if err != nil {
		return domain.DispatchRecord{}, fmt.Errorf("failed to get dispatch %s: %w", correlationID, err)
	}
	return rec, nil
}

// ListRecent returns the most recent dispatches, newest first
func (r *Repository) ListRecent(ctx context.Context, limit int) ([]domain.DispatchRecord, error) {
	return r.query(ctx, `SELECT `+dispatchColumns+` FROM dispatches ORDER BY id DESC LIMIT ?`, limit)
}

// ListByTenant returns a tenant's dispatches, newest first
func (r *Repository) ListByTenant(ctx context.Context, tenantID string, limit int) ([]domain.DispatchRecord, error) {
	return r.query(ctx, `SELECT `+dispatchColumns+` FROM dispatches WHERE tenant_id = ? ORDER BY id DESC LIMIT ?`, tenantID, limit)
}

// ListAfter returns dispatches whose row id is greater than afterID, in insertion order,
// along with the row id of the last one returned (afterID when none).
// Row ids are unique, so paging never skips records sharing a timestamp.
func (r *Repository) ListAfter(ctx context.Context, afterID int64, limit int) ([]domain.DispatchRecord, int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, `+dispatchColumns+` FROM dispatches WHERE id > ? ORDER BY id ASC LIMIT ?`,
		afterID, limit)
	if err != nil {
		return nil, afterID, fmt.Errorf("failed to query dispatches: %w", err)
	}
	defer rows.Close()

	lastID := afterID
	records := []domain.DispatchRecord{}
	for rows.Next() {
		var id int64
		rec, err := scanDispatch(rows, &id)
		if err != nil {
			return nil, afterID, fmt.Errorf("failed to scan dispatch: %w", err)
		}
		records = append(records, rec)
		lastID = id
	}
	if err := rows.Err(); err != nil {
		return nil, afterID, fmt.Errorf("error iterating dispatches: %w", err)
	}
	return records, lastID, nil
}

func (r *Repository) query(ctx context.Context, query string, args ...interface{}) ([]domain.DispatchRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query dispatches: %w", err)
	}
	defer rows.Close()

	records := []domain.DispatchRecord{}
	for rows.Next() {
		rec, err := scanDispatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dispatch: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dispatches: %w", err)
	}
	return records, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanDispatch reads dispatchColumns, preceded by any leading destinations the query selected
func scanDispatch(row rowScanner, leading ...interface{}) (domain.DispatchRecord, error) {
	var (
		rec       domain.DispatchRecord
		direction string
		createdAt int64
	)
	err := row.Scan(append(leading,
		&rec.CorrelationID, &rec.TenantID, &rec.Symbol, &direction,
		&rec.Sizing.Equity, &rec.Sizing.RiskAmount, &rec.Sizing.MaxLeverage,
		&rec.Sizing.Notional, &rec.Sizing.Quantity, &rec.Sizing.Price,
		&rec.Handle, &createdAt,
	)...)
	if err != nil {
		return domain.DispatchRecord{}, err
	}
	rec.Direction = domain.Direction(direction)
	rec.CreatedAt = time.UnixMilli(createdAt).UTC()
	return rec, nil
}

// AppendFailure records an intent that ended in FAILED
func (r *Repository) AppendFailure(ctx context.Context, f domain.PipelineFailure) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pipeline_failures (correlation_id, tenant_id, symbol, stage, kind, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, f.CorrelationID, f.TenantID, f.Symbol, f.Stage, f.Kind, f.Reason, f.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert pipeline failure: %w", err)
	}
	return nil
}

// ListFailures returns the most recent pipeline failures, newest first
func (r *Repository) ListFailures(ctx context.Context, limit int) ([]domain.PipelineFailure, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT correlation_id, tenant_id, symbol, stage, kind, reason, created_at
		FROM pipeline_failures
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pipeline failures: %w", err)
	}
	defer rows.Close()

	failures := []domain.PipelineFailure{}
	for rows.Next() {
		var (
			f         domain.PipelineFailure
			createdAt int64
		)
		if err := rows.Scan(&f.CorrelationID, &f.TenantID, &f.Symbol, &f.Stage, &f.Kind, &f.Reason, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan pipeline failure: %w", err)
		}
		f.CreatedAt = time.UnixMilli(createdAt).UTC()
		failures = append(failures, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pipeline failures: %w", err)
	}
	return failures, nil
}

// Watermark returns the archive cursor for name (zero value when never archived)
func (r *Repository) Watermark(ctx context.Context, name string) (domain.ArchiveCursor, error) {
	var lastID, ms int64
	err := r.db.QueryRowContext(ctx, `SELECT last_id, last_archived_at FROM archive_watermarks WHERE name = ?`, name).Scan(&lastID, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ArchiveCursor{}, nil
	}
	if err != nil {
		return domain.ArchiveCursor{}, fmt.Errorf("failed to read watermark %s: %w", name, err)
	}
	return domain.ArchiveCursor{LastID: lastID, Through: time.UnixMilli(ms).UTC()}, nil
}

// SetWatermark stores the archive cursor for name
func (r *Repository) SetWatermark(ctx context.Context, name string, cursor domain.ArchiveCursor) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO archive_watermarks (name, last_id, last_archived_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			last_id = excluded.last_id,
			last_archived_at = excluded.last_archived_at,
			updated_at = excluded.updated_at
	`, name, cursor.LastID, cursor.Through.UnixMilli(), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to write watermark %s: %w", name, err)
	}
	return nil
}
