package portfolio

import (
	"context"

	"github.com/aristath/stockledger/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// PriceSource returns current instrument prices. Unknown ids are left out.
type PriceSource interface {
	Prices(ctx context.Context, instrumentIDs []string) (map[string]decimal.Decimal, error)
}

// CashSource returns a user's cash balance.
type CashSource interface {
	Balance(ctx context.Context, userID string) (decimal.Decimal, error)
}

// Service builds valued portfolio snapshots.
type Service struct {
	positions *PositionRepository
	prices    PriceSource
	cash      CashSource
	now       domain.Clock
	log       zerolog.Logger
}

// NewService creates a new portfolio service
func NewService(positions *PositionRepository, prices PriceSource, cash CashSource, log zerolog.Logger) *Service {
	return &Service{
		positions: positions,
		prices:    prices,
		cash:      cash,
		now:       domain.SystemClock,
		log:       log.With().Str("service", "portfolio").Logger(),
	}
}

// GetPortfolio marks every position at the current instrument price and adds
// the cash balance. TotalValue = PositionsValue + Cash.
func (s *Service) GetPortfolio(ctx context.Context, userID string) (*Snapshot, error) {
	if userID == "" {
		return nil, domain.ErrMissingUser
	}

	positions, err := s.positions.List(ctx, userID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(positions))
	for _, p := range positions {
		ids = append(ids, p.InstrumentID)
	}
	prices, err := s.prices.Prices(ctx, ids)
	if err != nil {
		return nil, err
	}

	cash, err := s.cash.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}

	snapshot := &Snapshot{
		UserID:         userID,
		Positions:      make([]ValuedPosition, 0, len(positions)),
		PositionsValue: decimal.Zero,
		UnrealizedPnL:  decimal.Zero,
		Cash:           cash,
		AsOf:           s.now(),
	}

	for _, p := range positions {
		valued := Value(p, prices)
		if valued.PriceMissing {
			s.log.Warn().
				Str("user_id", userID).
				Str("instrument_id", p.InstrumentID).
				Msg("No current price, marking position at cost")
		}
		snapshot.Positions = append(snapshot.Positions, valued)
		snapshot.PositionsValue = snapshot.PositionsValue.Add(valued.MarketValue)
		snapshot.UnrealizedPnL = snapshot.UnrealizedPnL.Add(valued.UnrealizedPnL)
	}
	snapshot.TotalValue = snapshot.PositionsValue.Add(cash)

	return snapshot, nil
}

// Value marks p at its price in prices, falling back to cost.
func Value(p Position, prices map[string]decimal.Decimal) ValuedPosition {
	price, ok := prices[p.InstrumentID]
	if !ok {
		price = p.CostBasis
	}
	qty := decimal.NewFromInt(p.Quantity)
	return ValuedPosition{
		Position:      p,
		CurrentPrice:  price,
		MarketValue:   price.Mul(qty),
		UnrealizedPnL: price.Sub(p.CostBasis).Mul(qty),
		PriceMissing:  !ok,
	}
}
