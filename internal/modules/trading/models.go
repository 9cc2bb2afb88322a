// Package trading provides the trade log and the trade executor that applies a
// buy or sell across inventory, wallet, position book and log.
package trading

import (
	"time"

	"github.com/aristath/stockledger/internal/domain"
	"github.com/aristath/stockledger/internal/modules/portfolio"
	"github.com/aristath/stockledger/internal/modules/wallet"
	"github.com/shopspring/decimal"
)

// Trade is an immutable record of an executed buy or sell.
type Trade struct {
	ID           int64            `json:"-"`
	TradeID      string           `json:"trade_id"`
	UserID       string           `json:"user_id"`
	InstrumentID string           `json:"instrument_id"`
	Side         domain.TradeSide `json:"side"`
	Quantity     int64            `json:"quantity"`
	Price        decimal.Decimal  `json:"price"`
	ExecutedAt   time.Time        `json:"executed_at"`
}

// Total is quantity times price.
func (t Trade) Total() decimal.Decimal {
	return t.Price.Mul(decimal.NewFromInt(t.Quantity))
}

// CashFlow is the trade's effect on cash: -total for buys, +total for sells.
func (t Trade) CashFlow() decimal.Decimal {
	if t.Side == domain.SideBuy {
		return t.Total().Neg()
	}
	return t.Total()
}

// TradeState is a stage of trade execution.
type TradeState string

const (
	StateValidating TradeState = "validating"
	StateReserving  TradeState = "reserving"
	StateSettling   TradeState = "settling"
	StateRecording  TradeState = "recording"
	StateCommitted  TradeState = "committed"
	StateRejected   TradeState = "rejected"
)

// BuyRequest asks to buy Quantity shares at the instrument's current price.
type BuyRequest struct {
	UserID       string
	InstrumentID string
	Quantity     int64
}

// SellRequest asks to sell Quantity shares at the caller-supplied Price.
type SellRequest struct {
	UserID       string
	InstrumentID string
	Quantity     int64
	Price        decimal.Decimal
}

// Receipt is returned for a committed trade: the trade plus the user's wallet
// and positions right after it.
type Receipt struct {
	Trade     Trade                `json:"trade"`
	Wallet    *wallet.Wallet       `json:"wallet"`
	Portfolio []portfolio.Position `json:"portfolio"`
}

// HistoryEntry is a trade annotated with its instrument's current price.
type HistoryEntry struct {
	Trade
	Amount       decimal.Decimal  `json:"total"`
	CurrentPrice *decimal.Decimal `json:"current_price"`
}
