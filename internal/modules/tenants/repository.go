// Package tenants stores the accounts the coordinator trades for.
package tenants

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cerbero/coordinator/internal/database"
	"github.com/cerbero/coordinator/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultDepositCapEUR is the deposit cap given to bootstrapped contracts
const DefaultDepositCapEUR = 100000

// Repository handles tenant and contract database operations
type Repository struct {
	db            *sql.DB // tenants.db
	defaultEquity float64
	now           func() time.Time
	log           zerolog.Logger
}

var _ domain.EquityProvider = (*Repository)(nil)

const tenantColumns = `id, email, equity, status, created_at`

// NewRepository creates a new tenant repository.
// defaultEquity is reported for tenants without a stored equity figure.
func NewRepository(db *sql.DB, defaultEquity float64, log zerolog.Logger) *Repository {
	return &Repository{
		db:            db,
		defaultEquity: defaultEquity,
		now:           time.Now,
		log:           log.With().Str("repo", "tenants").Logger(),
	}
}

// EnsureTenant upserts the tenant keyed by email and, when wallet is set, its contract.
// Both writes share one transaction so concurrent bootstraps never duplicate rows.
func (r *Repository) EnsureTenant(ctx context.Context, email, wallet string) (domain.Tenant, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return domain.Tenant{}, fmt.Errorf("tenant email is required")
	}

	var tenant domain.Tenant
	err := database.WithTransaction(ctx, r.db, func(tx *sql.Tx) error {
		now := r.now().Unix()
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tenants (id, email, status, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(email) DO NOTHING
		`, uuid.NewString(), email, domain.TenantStatusActive, now)
		if err != nil {
			return fmt.Errorf("failed to upsert tenant: %w", err)
		}

		row := tx.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE email = ?`, email)
		tenant, err = r.scanTenant(row)
		if err != nil {
			return fmt.Errorf("failed to load tenant: %w", err)
		}

		if wallet == "" {
			return nil
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO contracts (id, tenant_id, arbitrum_address, status, deposit_cap_eur, created_at)
			VALUES (?, ?, ?, 'active', ?, ?)
			ON CONFLICT(tenant_id, arbitrum_address) DO NOTHING
		`, uuid.NewString(), tenant.ID, wallet, DefaultDepositCapEUR, now)
		if err != nil {
			return fmt.Errorf("failed to upsert contract: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Tenant{}, err
	}

	return tenant, nil
}

// SeedIfEmpty inserts n demo tenants when the table has no rows.
// Returns the number of tenants created.
func (r *Repository) SeedIfEmpty(ctx context.Context, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}

	created := 0
	err := database.WithTransaction(ctx, r.db, func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM tenants`).Scan(&count); err != nil {
			return fmt.Errorf("failed to count tenants: %w", err)
		}
		if count > 0 {
			return nil
		}

		base := r.now()
		for i := 0; i < n; i++ {
			// Distinct timestamps keep the fan-out order deterministic
			createdAt := base.Add(time.Duration(i) * time.Second).Unix()
			_, err := tx.ExecContext(ctx, `
				INSERT INTO tenants (id, email, status, created_at) VALUES (?, ?, ?, ?)
			`, uuid.NewString(), fmt.Sprintf("demo%d@cerbero.ai", i+1), domain.TenantStatusActive, createdAt)
			if err != nil {
				return fmt.Errorf("failed to insert demo tenant: %w", err)
			}
			created++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if created > 0 {
		r.log.Info().Int("count", created).Msg("Seeded demo tenants")
	}
	return created, nil
}

// ListActive returns up to limit active tenants, oldest first
func (r *Repository) ListActive(ctx context.Context, limit int) ([]domain.Tenant, error) {
	if limit <= 0 {
		return []domain.Tenant{}, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+tenantColumns+` FROM tenants
		WHERE status = ?
		ORDER BY created_at ASC, email ASC
		LIMIT ?
	`, domain.TenantStatusActive, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query active tenants: %w", err)
	}
	defer rows.Close()

	tenants := make([]domain.Tenant, 0, limit)
	for rows.Next() {
		t, err := r.scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tenants: %w", err)
	}

	return tenants, nil
}

// Equity returns the stored equity of a tenant looked up by id or email.
// Unknown tenants and tenants without a figure get the default equity.
func (r *Repository) Equity(ctx context.Context, tenantID string) (float64, error) {
	var equity sql.NullFloat64
	err := r.db.QueryRowContext(ctx, `
		SELECT equity FROM tenants WHERE id = ? OR email = ? LIMIT 1
	`, tenantID, tenantID).Scan(&equity)
	if errors.Is(err, sql.ErrNoRows) {
		return r.defaultEquity, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query equity for %s: %w", tenantID, err)
	}
	if !equity.Valid {
		return r.defaultEquity, nil
	}
	return equity.Float64, nil
}

// SetEquity stores an equity figure for a tenant
func (r *Repository) SetEquity(ctx context.Context, tenantID string, equity float64) error {
	if equity < 0 {
		return fmt.Errorf("equity must be non-negative, got %v", equity)
	}
	res, err := r.db.ExecContext(ctx, `UPDATE tenants SET equity = ? WHERE id = ? OR email = ?`, equity, tenantID, tenantID)
	if err != nil {
		return fmt.Errorf("failed to update equity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("tenant %s not found", tenantID)
	}
	return nil
}

// SetStatus activates or deactivates a tenant
func (r *Repository) SetStatus(ctx context.Context, tenantID, status string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE tenants SET status = ? WHERE id = ?`, status, tenantID)
	if err != nil {
		return fmt.Errorf("failed to update tenant status: %w", err)
	}
	return nil
}

// CountContracts returns the number of contracts held by a tenant
func (r *Repository) CountContracts(ctx context.Context, tenantID string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM contracts WHERE tenant_id = ?`, tenantID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count contracts: %w", err)
	}
	return n, nil
}

// Count returns the number of tenants
func (r *Repository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tenants`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count tenants: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *Repository) scanTenant(row rowScanner) (domain.Tenant, error) {
	var (
		t         domain.Tenant
		equity    sql.NullFloat64
		createdAt int64
	)
	if err := row.Scan(&t.ID, &t.Email, &equity, &t.Status, &createdAt); err != nil {
		return domain.Tenant{}, err
	}
	t.Equity = r.defaultEquity
	if equity.Valid {
		t.Equity = equity.Float64
	}
	t.CreatedAt = time.Unix(createdAt, 0).UTC()
	return t, nil
}
