// Package handlers provides HTTP handlers for portfolio snapshots and
// valuation history.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/aristath/stockledger/internal/auth"
	"github.com/aristath/stockledger/internal/domain"
	"github.com/aristath/stockledger/internal/modules/portfolio"
	"github.com/aristath/stockledger/internal/modules/valuation"
	"github.com/rs/zerolog"
)

// PortfolioService builds the valued portfolio snapshot.
type PortfolioService interface {
	GetPortfolio(ctx context.Context, userID string) (*portfolio.Snapshot, error)
}

// ValuationService computes valuation series.
type ValuationService interface {
	GetValuationHistory(ctx context.Context, userID string, windowDays int) ([]valuation.Point, error)
	DailySeries(ctx context.Context, userID string, days int) ([]valuation.DailyBucket, error)
	Summary(ctx context.Context, userID string, windowDays int) (*valuation.Summary, error)
}

// Handler serves portfolio endpoints for the authenticated user.
type Handler struct {
	portfolio PortfolioService
	valuation ValuationService
	log       zerolog.Logger
}

// NewHandler creates a new portfolio handler
func NewHandler(portfolio PortfolioService, valuation ValuationService, log zerolog.Logger) *Handler {
	return &Handler{
		portfolio: portfolio,
		valuation: valuation,
		log:       log.With().Str("handler", "portfolio").Logger(),
	}
}

// HandleGetPortfolio handles GET /api/portfolio
func (h *Handler) HandleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.portfolio.GetPortfolio(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, snapshot)
}

// HandleGetHistory handles GET /api/portfolio/history
func (h *Handler) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	windowDays, err := intParam(r, "window_days", 0)
	if err != nil {
		h.writeError(w, err)
		return
	}

	points, err := h.valuation.GetValuationHistory(r.Context(), auth.UserID(r.Context()), windowDays)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"window_days": windowDays,
		"points":      points,
	})
}

// HandleGetDaily handles GET /api/portfolio/history/daily
func (h *Handler) HandleGetDaily(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r, "days", 30)
	if err != nil {
		h.writeError(w, err)
		return
	}

	buckets, err := h.valuation.DailySeries(r.Context(), auth.UserID(r.Context()), days)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"days":    days,
		"buckets": buckets,
	})
}

// HandleGetSummary handles GET /api/portfolio/summary
func (h *Handler) HandleGetSummary(w http.ResponseWriter, r *http.Request) {
	windowDays, err := intParam(r, "window_days", 0)
	if err != nil {
		h.writeError(w, err)
		return
	}

	summary, err := h.valuation.Summary(r.Context(), auth.UserID(r.Context()), windowDays)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

func intParam(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", domain.ErrInvalidInput, name)
	}
	return n, nil
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
		h.log.Error().Err(err).Msg("Portfolio request failed")
	}
	h.writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"kind":  string(domain.KindOf(err)),
	})
}
