package portfolio

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticPrices map[string]decimal.Decimal

func (s staticPrices) Prices(_ context.Context, ids []string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal)
	for _, id := range ids {
		if p, ok := s[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

type staticCash decimal.Decimal

func (c staticCash) Balance(context.Context, string) (decimal.Decimal, error) {
	return decimal.Decimal(c), nil
}

func TestService_GetPortfolio(t *testing.T) {
	repo := newTestPositionRepository(t)
	ctx := context.Background()

	_, err := repo.AddLot(ctx, "alice", "X", 6, d("50"))
	require.NoError(t, err)
	_, err = repo.AddLot(ctx, "alice", "GONE", 2, d("10"))
	require.NoError(t, err)

	svc := NewService(repo, staticPrices{"X": d("60")}, staticCash(d("740")), zerolog.Nop())

	snapshot, err := svc.GetPortfolio(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, snapshot.Positions, 2)

	gone := snapshot.Positions[0]
	assert.Equal(t, "GONE", gone.InstrumentID)
	assert.True(t, gone.PriceMissing)
	assert.True(t, d("20").Equal(gone.MarketValue))
	assert.True(t, gone.UnrealizedPnL.IsZero())

	x := snapshot.Positions[1]
	assert.True(t, d("360").Equal(x.MarketValue))
	assert.True(t, d("60").Equal(x.UnrealizedPnL))

	assert.True(t, d("380").Equal(snapshot.PositionsValue))
	assert.True(t, d("740").Equal(snapshot.Cash))
	assert.True(t, d("1120").Equal(snapshot.TotalValue))
	assert.True(t, d("60").Equal(snapshot.UnrealizedPnL))
}

func TestService_GetPortfolioEmpty(t *testing.T) {
	svc := NewService(newTestPositionRepository(t), staticPrices{}, staticCash(decimal.Zero), zerolog.Nop())

	snapshot, err := svc.GetPortfolio(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, snapshot.Positions)
	assert.True(t, snapshot.TotalValue.IsZero())

	_, err = svc.GetPortfolio(context.Background(), "")
	assert.Error(t, err)
}
