// Package instruments provides the instrument inventory: the catalog rows the
// ledger reads prices from and the remaining share counts it reserves against.
package instruments

import (
	"time"

	"github.com/aristath/stockledger/internal/domain"
	"github.com/shopspring/decimal"
)

// Instrument is a tradable catalog entry.
type Instrument struct {
	ID          string                  `json:"id"`
	CompanyName string                  `json:"company_name"`
	Sector      string                  `json:"sector"`
	UnitPrice   decimal.Decimal         `json:"unit_price"`
	Remaining   int64                   `json:"remaining"`
	Status      domain.InstrumentStatus `json:"status"`
	CreatedAt   time.Time               `json:"created_at"`
	UpdatedAt   time.Time               `json:"updated_at"`
}

// Tradable reports whether the instrument may be reserved under a policy that
// only admits approved instruments.
func (i *Instrument) Tradable() bool {
	return i.Status == domain.StatusApproved
}
