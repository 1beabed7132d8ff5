package di

import (
	"context"
	"fmt"

	"github.com/cerbero/coordinator/internal/config"
	"github.com/cerbero/coordinator/internal/modules/ledger"
	"github.com/cerbero/coordinator/internal/modules/signals"
	"github.com/cerbero/coordinator/internal/modules/tenants"
	"github.com/cerbero/coordinator/internal/queue"
	"github.com/rs/zerolog"
)

// InitializeRepositories creates the repositories and seeds demo tenants on an empty store
func InitializeRepositories(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) error {
	container.TenantRepo = tenants.NewRepository(container.TenantsDB.Conn(), cfg.Tenants.DefaultEquity, log)
	container.SignalRepo = signals.NewRepository(container.LedgerDB.Conn(), log)
	container.LedgerRepo = ledger.NewRepository(container.LedgerDB.Conn(), log)
	container.JobRepo = queue.NewJobRepository(container.LedgerDB.Conn(), log)

	if cfg.Tenants.SeedDemo > 0 {
		seeded, err := container.TenantRepo.SeedIfEmpty(ctx, cfg.Tenants.SeedDemo)
		if err != nil {
			return fmt.Errorf("failed to seed demo tenants: %w", err)
		}
		if seeded > 0 {
			log.Info().Int("tenants", seeded).Msg("Seeded demo tenants")
		}
	}

	return nil
}
