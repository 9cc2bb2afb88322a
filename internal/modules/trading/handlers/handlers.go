// Package handlers provides HTTP handlers for trade execution and history.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/aristath/stockledger/internal/auth"
	"github.com/aristath/stockledger/internal/domain"
	"github.com/aristath/stockledger/internal/modules/trading"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// TradeExecutor executes trades for a user.
type TradeExecutor interface {
	Buy(ctx context.Context, req trading.BuyRequest) (*trading.Receipt, error)
	Sell(ctx context.Context, req trading.SellRequest) (*trading.Receipt, error)
}

// HistoryProvider returns a user's trade history.
type HistoryProvider interface {
	GetTradeHistory(ctx context.Context, userID string, limit int) ([]trading.HistoryEntry, error)
}

// Handler serves trading endpoints for the authenticated user.
type Handler struct {
	executor TradeExecutor
	history  HistoryProvider
	log      zerolog.Logger
}

// NewHandler creates a new trading handler
func NewHandler(executor TradeExecutor, history HistoryProvider, log zerolog.Logger) *Handler {
	return &Handler{
		executor: executor,
		history:  history,
		log:      log.With().Str("handler", "trading").Logger(),
	}
}

type buyRequest struct {
	InstrumentID string `json:"instrument_id"`
	Quantity     int64  `json:"quantity"`
}

type sellRequest struct {
	InstrumentID string          `json:"instrument_id"`
	Quantity     int64           `json:"quantity"`
	Price        decimal.Decimal `json:"price"`
}

// rejectionResponse adds the state the trade was rejected in.
type rejectionResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
	State string `json:"state,omitempty"`
}

// HandleBuy handles POST /api/trades/buy
func (h *Handler) HandleBuy(w http.ResponseWriter, r *http.Request) {
	var req buyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, fmt.Errorf("%w: invalid request body", domain.ErrInvalidInput))
		return
	}

	receipt, err := h.executor.Buy(r.Context(), trading.BuyRequest{
		UserID:       auth.UserID(r.Context()),
		InstrumentID: req.InstrumentID,
		Quantity:     req.Quantity,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, receipt)
}

// HandleSell handles POST /api/trades/sell
func (h *Handler) HandleSell(w http.ResponseWriter, r *http.Request) {
	var req sellRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, fmt.Errorf("%w: invalid request body", domain.ErrInvalidInput))
		return
	}

	receipt, err := h.executor.Sell(r.Context(), trading.SellRequest{
		UserID:       auth.UserID(r.Context()),
		InstrumentID: req.InstrumentID,
		Quantity:     req.Quantity,
		Price:        req.Price,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, receipt)
}

// HandleHistory handles GET /api/trades
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.writeError(w, fmt.Errorf("%w: limit must be a non-negative integer", domain.ErrInvalidInput))
			return
		}
		limit = n
	}

	entries, err := h.history.GetTradeHistory(r.Context(), auth.UserID(r.Context()), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"trades": entries,
		"count":  len(entries),
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := domain.StatusCode(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("Trading request failed")
	}

	resp := rejectionResponse{Error: err.Error(), Kind: string(domain.KindOf(err))}
	if state, ok := trading.StateOf(err); ok {
		resp.State = string(state)
	}
	h.writeJSON(w, status, resp)
}
