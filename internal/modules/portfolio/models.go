// Package portfolio provides the position book: per-user holdings with a
// weighted-average cost basis, and the valued portfolio snapshot built on it.
package portfolio

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is a user's holding of one instrument. Rows with zero quantity do
// not exist.
type Position struct {
	UserID       string          `json:"user_id"`
	InstrumentID string          `json:"instrument_id"`
	Quantity     int64           `json:"quantity"`
	CostBasis    decimal.Decimal `json:"cost_basis"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// CostValue is quantity times cost basis.
func (p Position) CostValue() decimal.Decimal {
	return p.CostBasis.Mul(decimal.NewFromInt(p.Quantity))
}

// ValuedPosition is a position marked at the instrument's current price.
type ValuedPosition struct {
	Position
	CurrentPrice  decimal.Decimal `json:"current_price"`
	MarketValue   decimal.Decimal `json:"market_value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	// PriceMissing is set when the instrument has left the catalog; the
	// position is then marked at cost.
	PriceMissing bool `json:"price_missing,omitempty"`
}

// Snapshot is a user's portfolio at a point in time.
type Snapshot struct {
	UserID         string           `json:"user_id"`
	Positions      []ValuedPosition `json:"positions"`
	PositionsValue decimal.Decimal  `json:"positions_value"`
	Cash           decimal.Decimal  `json:"cash"`
	TotalValue     decimal.Decimal  `json:"total_value"`
	UnrealizedPnL  decimal.Decimal  `json:"unrealized_pnl"`
	AsOf           time.Time        `json:"as_of"`
}
