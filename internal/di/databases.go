package di

import (
	"fmt"
	"path/filepath"

	"github.com/cerbero/coordinator/internal/config"
	"github.com/cerbero/coordinator/internal/database"
	"github.com/rs/zerolog"
)

// InitializeDatabases opens and migrates tenants.db and ledger.db
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	tenantsDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "tenants.db"),
		Profile: database.ProfileStandard,
		Name:    database.NameTenants,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tenants database: %w", err)
	}
	container.TenantsDB = tenantsDB

	// Maximum safety for the append-only dispatch ledger
	ledgerDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "ledger.db"),
		Profile: database.ProfileLedger,
		Name:    database.NameLedger,
	})
	if err != nil {
		tenantsDB.Close()
		return nil, fmt.Errorf("failed to initialize ledger database: %w", err)
	}
	container.LedgerDB = ledgerDB

	for _, db := range container.Databases() {
		if err := db.Migrate(); err != nil {
			container.Close()
			return nil, fmt.Errorf("failed to migrate %s database: %w", db.Name(), err)
		}
	}

	log.Info().
		Str("data_dir", cfg.DataDir).
		Int("databases", len(container.Databases())).
		Msg("Databases initialized")

	return container, nil
}
