// Package testing provides testing utilities and helpers for the ledger packages.
package testing

import (
	"fmt"
	"os"
	"testing"

	"github.com/aristath/stockledger/internal/database"
)

// NewTestDB creates a temporary-file SQLite database for testing with automatic schema migration.
// Returns the database instance and a cleanup function that closes the connection.
// The cleanup function is idempotent and can be called multiple times safely.
//
// Supported schema names:
//   - "universe" - applies universe_schema.sql
//   - "portfolio" - applies portfolio_schema.sql
//   - "ledger" - applies ledger_schema.sql
//   - Unknown names - creates empty database (no schema applied)
func NewTestDB(t *testing.T, name string) (*database.DB, func()) {
	t.Helper()

	// Temporary files rather than :memory: so every pooled connection sees the
	// same database.
	tmpFile, err := os.CreateTemp("", fmt.Sprintf("test_%s_*.db", name))
	if err != nil {
		t.Fatalf("Failed to create temporary database file: %v", err)
	}
	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()

	profile := database.ProfileStandard
	if name == database.NameLedger {
		profile = database.ProfileLedger
	}

	db, err := database.New(database.Config{
		Path:    tmpPath,
		Profile: profile,
		Name:    name,
	})
	if err != nil {
		_ = os.Remove(tmpPath)
		t.Fatalf("Failed to create test database %s: %v", name, err)
	}

	if err := db.Migrate(); err != nil {
		_ = db.Close()
		_ = os.Remove(tmpPath)
		t.Fatalf("Failed to migrate test database %s: %v", name, err)
	}

	var closed bool
	return db, func() {
		if closed {
			return
		}
		closed = true
		if err := db.Close(); err != nil {
			t.Logf("Warning: Failed to close test database %s: %v", name, err)
		}
		for _, suffix := range []string{"", "-wal", "-shm"} {
			_ = os.Remove(tmpPath + suffix)
		}
	}
}

// Stores groups the three ledger databases.
type Stores struct {
	Universe  *database.DB
	Portfolio *database.DB
	Ledger    *database.DB
}

// NewTestStores creates all three migrated databases and registers their
// cleanup with t.Cleanup.
func NewTestStores(t *testing.T) *Stores {
	t.Helper()

	universe, cleanupUniverse := NewTestDB(t, database.NameUniverse)
	t.Cleanup(cleanupUniverse)
	portfolio, cleanupPortfolio := NewTestDB(t, database.NamePortfolio)
	t.Cleanup(cleanupPortfolio)
	ledger, cleanupLedger := NewTestDB(t, database.NameLedger)
	t.Cleanup(cleanupLedger)

	return &Stores{
		Universe:  universe,
		Portfolio: portfolio,
		Ledger:    ledger,
	}
}
