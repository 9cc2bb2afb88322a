package instruments

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/aristath/stockledger/internal/domain"
	"github.com/shopspring/decimal"
)

// SeedEntry is one catalog entry in a seed file.
type SeedEntry struct {
	ID          string          `json:"id"`
	CompanyName string          `json:"company_name"`
	Sector      string          `json:"sector"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Remaining   int64           `json:"remaining"`
	Status      string          `json:"status"`
}

// LoadSeedFile reads a JSON array of SeedEntry from path and upserts every
// entry. Returns the number of entries applied.
func (r *Repository) LoadSeedFile(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open catalog seed %s: %w", path, err)
	}
	defer f.Close()

	return r.LoadSeed(ctx, f)
}

// LoadSeed upserts the catalog entries read from src. Entries are validated
// before anything is written, so a malformed file leaves the catalog untouched.
func (r *Repository) LoadSeed(ctx context.Context, src io.Reader) (int, error) {
	var entries []SeedEntry
	if err := json.NewDecoder(src).Decode(&entries); err != nil {
		return 0, fmt.Errorf("%w: failed to decode catalog seed: %v", domain.ErrInvalidInput, err)
	}

	batch := make([]Instrument, 0, len(entries))
	for i, e := range entries {
		status := domain.InstrumentStatus(e.Status)
		if status == "" {
			status = domain.StatusApproved
		}
		if e.ID == "" {
			return 0, fmt.Errorf("catalog seed entry %d: %w", i, domain.ErrMissingID)
		}
		if !e.UnitPrice.IsPositive() {
			return 0, fmt.Errorf("catalog seed entry %s: %w", e.ID, domain.ErrInvalidPrice)
		}
		if !status.Valid() {
			return 0, fmt.Errorf("catalog seed entry %s: %w: unknown status %q", e.ID, domain.ErrInvalidInput, e.Status)
		}
		batch = append(batch, Instrument{
			ID:          e.ID,
			CompanyName: e.CompanyName,
			Sector:      e.Sector,
			UnitPrice:   e.UnitPrice,
			Remaining:   e.Remaining,
			Status:      status,
		})
	}

	for _, inst := range batch {
		if err := r.Upsert(ctx, inst); err != nil {
			return 0, fmt.Errorf("failed to seed instrument %s: %w", inst.ID, err)
		}
	}

	r.log.Info().Int("count", len(batch)).Msg("Catalog seed applied")
	return len(batch), nil
}
