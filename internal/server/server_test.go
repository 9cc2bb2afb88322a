package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/aristath/stockledger/internal/config"
	"github.com/aristath/stockledger/internal/di"
	"github.com/aristath/stockledger/internal/domain"
	"github.com/aristath/stockledger/internal/events"
	"github.com/aristath/stockledger/internal/modules/instruments"
	"github.com/aristath/stockledger/internal/modules/trading"
)

func newTestServer(t *testing.T) (*httptest.Server, *di.Container) {
	t.Helper()

	cfg := &config.Config{
		DataDir:                    t.TempDir(),
		LogLevel:                   "info",
		Port:                       8001,
		DevMode:                    true,
		RequireApprovedInstruments: true,
		LockTimeout:                time.Second,
		AuditSchedule:              "*/15 * * * *",
		WALCheckpointSchedule:      "@hourly",
		BackupSchedule:             "0 2 * * *",
		Backup:                     &config.BackupConfig{},
		Kafka:                      &config.KafkaConfig{},
	}

	container, err := di.Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Close() })

	require.NoError(t, container.InstrumentRepo.Upsert(context.Background(), instruments.Instrument{
		ID:          "X",
		CompanyName: "X Corp",
		Sector:      "Tech",
		UnitPrice:   decimal.NewFromInt(50),
		Remaining:   100,
		Status:      domain.StatusApproved,
	}))

	srv := New(Config{Log: zerolog.Nop(), Container: container, Port: cfg.Port, DevMode: true, Version: "test"})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, container
}

func doRequest(t *testing.T, method, url, userID string, body string) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doRequest(t, http.MethodGet, ts.URL+"/health", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "test", body["version"])
	assert.Equal(t, "stockledger", body["service"])
}

func TestAPI_RequiresUser(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/portfolio", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "unauthenticated", decodeBody(t, resp)["kind"])
}

func TestAPI_TradeFlow(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doRequest(t, http.MethodPost, ts.URL+"/api/wallet/deposit", "alice", `{"amount": "1000"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doRequest(t, http.MethodPost, ts.URL+"/api/trades/buy", "alice", `{"instrument_id": "X", "quantity": 10}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doRequest(t, http.MethodPost, ts.URL+"/api/trades/sell", "alice", `{"instrument_id": "X", "quantity": 4, "price": "60"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, ts.URL+"/api/portfolio", "alice", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "740", body["cash"])
	assert.Equal(t, "1040", body["total_value"])

	resp = doRequest(t, http.MethodGet, ts.URL+"/api/instruments/X", "alice", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 94, decodeBody(t, resp)["remaining"])

	resp = doRequest(t, http.MethodGet, ts.URL+"/api/trades", "alice", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, decodeBody(t, resp)["count"])

	// Another user sees an empty book
	resp = doRequest(t, http.MethodGet, ts.URL+"/api/trades", "bob", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, decodeBody(t, resp)["count"])

	// Oversell is a conflict
	resp = doRequest(t, http.MethodPost, ts.URL+"/api/trades/sell", "alice", `{"instrument_id": "X", "quantity": 7, "price": "60"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "insufficient_shares", decodeBody(t, resp)["kind"])
}

func TestSystemStatus(t *testing.T) {
	ts, container := newTestServer(t)
	ctx := context.Background()
	_, err := container.WalletService.Deposit(ctx, "ops", decimal.NewFromInt(500))
	require.NoError(t, err)
	_, err = container.TradeExecutor.Buy(ctx, trading.BuyRequest{UserID: "ops", InstrumentID: "X", Quantity: 2})
	require.NoError(t, err)

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/system/status", "ops", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status SystemStatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "healthy", status.Status)
	require.Len(t, status.Databases, 3)
	for _, db := range status.Databases {
		assert.True(t, db.Healthy, db.Name)
	}
	assert.Equal(t, LedgerInfo{Instruments: 1, Trades: 1, HeldLocks: 0}, status.Ledger)
	assert.Len(t, status.Jobs, 2)
}

func TestSystemJobs_RunNow(t *testing.T) {
	ts, container := newTestServer(t)

	resp := doRequest(t, http.MethodPost, ts.URL+"/api/system/jobs/integrity_audit/run", "ops", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "completed", decodeBody(t, resp)["status"])

	for _, st := range container.Scheduler.Status() {
		if st.Name == "integrity_audit" {
			assert.Equal(t, 1, st.Runs)
			assert.Empty(t, st.LastError)
		}
	}

	resp = doRequest(t, http.MethodPost, ts.URL+"/api/system/jobs/nope/run", "ops", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, ts.URL+"/api/system/jobs", "ops", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, decodeBody(t, resp)["count"])
}

func dialStream(t *testing.T, ts *httptest.Server, userID, query string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events/ws" + query
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"X-User-ID": []string{userID}},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })

	// Greeting confirms the subscription is live
	msg := readMessage(t, conn)
	require.Equal(t, "connected", msg["type"])
	require.Equal(t, userID, msg["user_id"])
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestEventsStream_DeliversOwnEvents(t *testing.T) {
	ts, _ := newTestServer(t)

	alice := dialStream(t, ts, "alice", "?types=TRADE_EXECUTED")
	bob := dialStream(t, ts, "bob", "")

	resp := doRequest(t, http.MethodPost, ts.URL+"/api/wallet/deposit", "alice", `{"amount": "1000"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = doRequest(t, http.MethodPost, ts.URL+"/api/trades/buy", "alice", `{"instrument_id": "X", "quantity": 2}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// alice filtered out CASH_UPDATED, so the first event is the trade
	msg := readMessage(t, alice)
	assert.Equal(t, string(events.TradeExecuted), msg["type"])
	data, ok := msg["data"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "alice", data["user_id"])

	// bob saw none of alice's events, so his first message is his own deposit
	resp = doRequest(t, http.MethodPost, ts.URL+"/api/wallet/deposit", "bob", `{"amount": "5"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	msg = readMessage(t, bob)
	assert.Equal(t, string(events.CashUpdated), msg["type"])
	data, ok = msg["data"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "bob", data["user_id"])
}

func TestEventsStream_RequiresUser(t *testing.T) {
	ts, _ := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events/ws"
	_, resp, err := websocket.Dial(ctx, url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
