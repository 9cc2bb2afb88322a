package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aristath/stockledger/internal/auth"
	"github.com/aristath/stockledger/internal/domain"
	"github.com/aristath/stockledger/internal/modules/instruments"
	"github.com/aristath/stockledger/internal/modules/portfolio"
	"github.com/aristath/stockledger/internal/modules/trading"
	"github.com/aristath/stockledger/internal/modules/wallet"
	testingutil "github.com/aristath/stockledger/internal/testing"
	"github.com/aristath/stockledger/internal/utils"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	router  chi.Router
	wallets *wallet.Repository
}

func setupRouter(t *testing.T) *testEnv {
	t.Helper()
	stores := testingutil.NewTestStores(t)
	log := zerolog.Nop()
	ctx := context.Background()

	catalog := instruments.NewRepository(stores.Universe.Conn(), false, log)
	require.NoError(t, catalog.Upsert(ctx, instruments.Instrument{
		ID: "X", CompanyName: "X Corp", UnitPrice: decimal.NewFromInt(50), Remaining: 100, Status: domain.StatusApproved,
	}))

	wallets := wallet.NewRepository(stores.Portfolio.Conn(), log)
	positions := portfolio.NewPositionRepository(stores.Portfolio.Conn(), log)
	trades := trading.NewTradeRepository(stores.Ledger.Conn(), log)
	executor := trading.NewExecutor(catalog, wallets, positions, trades, utils.NewKeyedLock(), nil, trading.ExecutorConfig{}, log)

	router := chi.NewRouter()
	router.Use(auth.Middleware(auth.HeaderResolver{}))
	NewHandler(executor, trading.NewHistoryService(trades, catalog), log).RegisterRoutes(router)
	return &testEnv{router: router, wallets: wallets}
}

func do(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(auth.HeaderUserIDHeader, "alice")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestTradingHandlers_BuySellHistory(t *testing.T) {
	env := setupRouter(t)
	_, err := env.wallets.Credit(context.Background(), "alice", decimal.NewFromInt(1000), wallet.EntryMeta{Kind: domain.EntryDeposit})
	require.NoError(t, err)

	w := do(env.router, http.MethodPost, "/trades/buy", `{"instrument_id": "X", "quantity": 10}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var receipt trading.Receipt
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &receipt))
	assert.Equal(t, domain.SideBuy, receipt.Trade.Side)
	assert.Equal(t, "500", receipt.Wallet.Balance.String())
	require.Len(t, receipt.Portfolio, 1)
	assert.Equal(t, int64(10), receipt.Portfolio[0].Quantity)

	w = do(env.router, http.MethodPost, "/trades/sell", `{"instrument_id": "X", "quantity": 4, "price": "60"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &receipt))
	assert.Equal(t, "740", receipt.Wallet.Balance.String())

	w = do(env.router, http.MethodGet, "/trades/", "")
	require.Equal(t, http.StatusOK, w.Code)

	var history struct {
		Trades []trading.HistoryEntry `json:"trades"`
		Count  int                    `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	assert.Equal(t, 2, history.Count)
	assert.Equal(t, domain.SideSell, history.Trades[0].Side)
	assert.Equal(t, "240", history.Trades[0].Amount.String())
	require.NotNil(t, history.Trades[0].CurrentPrice)
	assert.Equal(t, "50", history.Trades[0].CurrentPrice.String())

	w = do(env.router, http.MethodGet, "/trades/?limit=1", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	assert.Equal(t, 1, history.Count)
}

func TestTradingHandlers_RejectionStatus(t *testing.T) {
	env := setupRouter(t)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
		kind   domain.ErrorKind
		state  string
	}{
		{"malformed body", "/trades/buy", `{`, http.StatusBadRequest, domain.KindInvalidInput, ""},
		{"zero quantity", "/trades/buy", `{"instrument_id":"X","quantity":0}`, http.StatusBadRequest, domain.KindInvalidInput, "validating"},
		{"unknown instrument", "/trades/buy", `{"instrument_id":"NOPE","quantity":1}`, http.StatusNotFound, domain.KindNotFound, "reserving"},
		{"no funds", "/trades/buy", `{"instrument_id":"X","quantity":1}`, http.StatusConflict, domain.KindInsufficientFunds, "settling"},
		{"oversell", "/trades/sell", `{"instrument_id":"X","quantity":1,"price":"60"}`, http.StatusConflict, domain.KindInsufficientShares, "validating"},
		{"bad price", "/trades/sell", `{"instrument_id":"X","quantity":1,"price":"0"}`, http.StatusBadRequest, domain.KindInvalidInput, "validating"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(env.router, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())

			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, string(tt.kind), body["kind"])
			assert.Equal(t, tt.state, body["state"])
		})
	}
}

func TestTradingHandlers_InvalidLimit(t *testing.T) {
	env := setupRouter(t)
	w := do(env.router, http.MethodGet, "/trades/?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTradingHandlers_RequiresUser(t *testing.T) {
	env := setupRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/trades/", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
