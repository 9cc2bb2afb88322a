package trading

import (
	"context"

	"github.com/aristath/stockledger/internal/domain"
	"github.com/shopspring/decimal"
)

// PriceSource returns current instrument prices. Unknown ids are left out.
type PriceSource interface {
	Prices(ctx context.Context, instrumentIDs []string) (map[string]decimal.Decimal, error)
}

// HistoryReader reads the trade log newest first.
type HistoryReader interface {
	History(ctx context.Context, userID string, limit int) ([]Trade, error)
}

// HistoryService serves a user's trade history with the current price of each
// traded instrument.
type HistoryService struct {
	trades HistoryReader
	prices PriceSource
}

// NewHistoryService creates a new history service
func NewHistoryService(trades HistoryReader, prices PriceSource) *HistoryService {
	return &HistoryService{trades: trades, prices: prices}
}

// GetTradeHistory returns the user's trades newest first. limit <= 0 returns
// every trade. CurrentPrice is nil for instruments no longer in the catalog.
func (s *HistoryService) GetTradeHistory(ctx context.Context, userID string, limit int) ([]HistoryEntry, error) {
	if userID == "" {
		return nil, domain.ErrMissingUser
	}

	trades, err := s.trades.History(ctx, userID, limit)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(trades))
	for _, t := range trades {
		ids = append(ids, t.InstrumentID)
	}
	prices, err := s.prices.Prices(ctx, ids)
	if err != nil {
		return nil, err
	}

	entries := make([]HistoryEntry, 0, len(trades))
	for _, t := range trades {
		entry := HistoryEntry{Trade: t, Amount: t.Total()}
		if p, ok := prices[t.InstrumentID]; ok {
			price := p
			entry.CurrentPrice = &price
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
