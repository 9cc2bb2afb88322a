package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aristath/stockledger/internal/auth"
	"github.com/aristath/stockledger/internal/domain"
	"github.com/aristath/stockledger/internal/modules/instruments"
	"github.com/aristath/stockledger/internal/modules/portfolio"
	"github.com/aristath/stockledger/internal/modules/trading"
	"github.com/aristath/stockledger/internal/modules/valuation"
	"github.com/aristath/stockledger/internal/modules/wallet"
	testingutil "github.com/aristath/stockledger/internal/testing"
	"github.com/aristath/stockledger/internal/utils"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupRouter buys 10 X at 50 and sells 4 at 60 for alice before serving.
func setupRouter(t *testing.T) chi.Router {
	t.Helper()
	stores := testingutil.NewTestStores(t)
	log := zerolog.Nop()
	ctx := context.Background()

	catalog := instruments.NewRepository(stores.Universe.Conn(), false, log)
	require.NoError(t, catalog.Upsert(ctx, instruments.Instrument{
		ID: "X", UnitPrice: decimal.NewFromInt(50), Remaining: 100, Status: domain.StatusApproved,
	}))
	wallets := wallet.NewRepository(stores.Portfolio.Conn(), log)
	positions := portfolio.NewPositionRepository(stores.Portfolio.Conn(), log)
	trades := trading.NewTradeRepository(stores.Ledger.Conn(), log)

	_, err := wallets.Credit(ctx, "alice", decimal.NewFromInt(1000), wallet.EntryMeta{Kind: domain.EntryDeposit})
	require.NoError(t, err)

	executor := trading.NewExecutor(catalog, wallets, positions, trades, utils.NewKeyedLock(), nil, trading.ExecutorConfig{}, log)
	_, err = executor.Buy(ctx, trading.BuyRequest{UserID: "alice", InstrumentID: "X", Quantity: 10})
	require.NoError(t, err)
	_, err = executor.Sell(ctx, trading.SellRequest{UserID: "alice", InstrumentID: "X", Quantity: 4, Price: decimal.NewFromInt(60)})
	require.NoError(t, err)

	portfolioService := portfolio.NewService(positions, catalog, wallets, log)
	projector := valuation.NewProjector(portfolioService, trades, log)

	router := chi.NewRouter()
	router.Use(auth.Middleware(auth.HeaderResolver{}))
	NewHandler(portfolioService, projector, log).RegisterRoutes(router)
	return router
}

func get(router http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set(auth.HeaderUserIDHeader, "alice")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestPortfolioHandlers_GetPortfolio(t *testing.T) {
	router := setupRouter(t)

	w := get(router, "/portfolio/")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var snapshot portfolio.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snapshot))
	require.Len(t, snapshot.Positions, 1)
	assert.Equal(t, int64(6), snapshot.Positions[0].Quantity)
	assert.Equal(t, "300", snapshot.PositionsValue.String())
	assert.Equal(t, "740", snapshot.Cash.String())
	assert.Equal(t, "1040", snapshot.TotalValue.String())
}

func TestPortfolioHandlers_History(t *testing.T) {
	router := setupRouter(t)

	w := get(router, "/portfolio/history?window_days=30")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		WindowDays int               `json:"window_days"`
		Points     []valuation.Point `json:"points"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 30, body.WindowDays)
	require.Len(t, body.Points, 3)
	assert.Equal(t, "-500", body.Points[0].Value.String())
	assert.Equal(t, "-260", body.Points[1].Value.String())
	assert.Equal(t, "1040", body.Points[2].Value.String())
}

func TestPortfolioHandlers_DailyAndSummary(t *testing.T) {
	router := setupRouter(t)

	w := get(router, "/portfolio/history/daily?days=7")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var daily struct {
		Buckets []valuation.DailyBucket `json:"buckets"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &daily))
	require.Len(t, daily.Buckets, 7)
	today := daily.Buckets[6]
	assert.Equal(t, 2, today.Trades)
	assert.Equal(t, "-260", today.NetFlow.String())

	w = get(router, "/portfolio/summary")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var summary valuation.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, 3, summary.Points)
	assert.Equal(t, "1040", summary.Last.String())
}

func TestPortfolioHandlers_BadParams(t *testing.T) {
	router := setupRouter(t)

	for _, path := range []string{
		"/portfolio/history?window_days=abc",
		"/portfolio/history?window_days=-3",
		"/portfolio/history/daily?days=0",
		"/portfolio/summary?window_days=x",
	} {
		w := get(router, path)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
	}
}
