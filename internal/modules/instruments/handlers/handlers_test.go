package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aristath/stockledger/internal/domain"
	"github.com/aristath/stockledger/internal/modules/instruments"
	testingutil "github.com/aristath/stockledger/internal/testing"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter(t *testing.T) chi.Router {
	t.Helper()
	db, cleanup := testingutil.NewTestDB(t, "universe")
	t.Cleanup(cleanup)

	repo := instruments.NewRepository(db.Conn(), false, zerolog.Nop())
	ctx := context.Background()
	require.NoError(t, repo.Upsert(ctx, instruments.Instrument{
		ID: "ACME", CompanyName: "Acme", UnitPrice: decimal.NewFromInt(12), Remaining: 10, Status: domain.StatusApproved,
	}))
	require.NoError(t, repo.Upsert(ctx, instruments.Instrument{
		ID: "INIT", CompanyName: "Initech", UnitPrice: decimal.NewFromInt(3), Remaining: 5, Status: domain.StatusPending,
	}))

	router := chi.NewRouter()
	NewHandler(repo, zerolog.Nop()).RegisterRoutes(router)
	return router
}

func TestHandleList(t *testing.T) {
	router := setupRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/instruments/", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Instruments []instruments.Instrument `json:"instruments"`
		Count       int                      `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, "ACME", body.Instruments[0].ID)
}

func TestHandleList_StatusFilter(t *testing.T) {
	router := setupRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/instruments/?status=pending", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "INIT")
	assert.NotContains(t, w.Body.String(), "ACME")

	req = httptest.NewRequest(http.MethodGet, "/instruments/?status=bogus", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleGet(t *testing.T) {
	router := setupRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/instruments/ACME", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var inst instruments.Instrument
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &inst))
	assert.Equal(t, int64(10), inst.Remaining)
	assert.Equal(t, "12", inst.UnitPrice.String())
}

func TestHandleGet_NotFound(t *testing.T) {
	router := setupRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/instruments/NOPE", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "not_found", body["kind"])
}
