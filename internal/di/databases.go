package di

import (
	"fmt"
	"path/filepath"

	"github.com/aristath/stockledger/internal/config"
	"github.com/aristath/stockledger/internal/database"
	"github.com/rs/zerolog"
)

// InitializeDatabases opens the three databases and applies their schemas
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	specs := []struct {
		name    string
		profile database.DatabaseProfile
		target  **database.DB
	}{
		// universe.db - instrument catalog and remaining inventory
		{database.NameUniverse, database.ProfileStandard, &container.UniverseDB},
		// portfolio.db - wallets, wallet entries and positions
		{database.NamePortfolio, database.ProfileStandard, &container.PortfolioDB},
		// ledger.db - append-only trade log
		{database.NameLedger, database.ProfileLedger, &container.LedgerDB},
	}

	for _, spec := range specs {
		db, err := database.New(database.Config{
			Path:    filepath.Join(cfg.DataDir, spec.name+".db"),
			Profile: spec.profile,
			Name:    spec.name,
		})
		if err != nil {
			_ = container.Close()
			return nil, fmt.Errorf("failed to initialize %s database: %w", spec.name, err)
		}
		*spec.target = db
	}

	for _, db := range container.Databases() {
		if err := db.Migrate(); err != nil {
			_ = container.Close()
			return nil, fmt.Errorf("failed to apply schema to %s: %w", db.Name(), err)
		}
	}

	log.Info().
		Str("data_dir", cfg.DataDir).
		Int("databases", len(container.Databases())).
		Msg("Databases initialized")

	return container, nil
}
