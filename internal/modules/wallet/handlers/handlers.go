// Package handlers provides HTTP handlers for the cash ledger.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/aristath/stockledger/internal/auth"
	"github.com/aristath/stockledger/internal/domain"
	"github.com/aristath/stockledger/internal/modules/wallet"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// WalletService is the wallet API the handlers call.
type WalletService interface {
	GetWallet(ctx context.Context, userID string) (*wallet.Wallet, error)
	Deposit(ctx context.Context, userID string, amount decimal.Decimal) (*wallet.Wallet, error)
	Withdraw(ctx context.Context, userID string, amount decimal.Decimal) (*wallet.Wallet, error)
}

// Handler serves wallet endpoints for the authenticated user.
type Handler struct {
	service WalletService
	log     zerolog.Logger
}

// NewHandler creates a new wallet handler
func NewHandler(service WalletService, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "wallet").Logger(),
	}
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// HandleGetWallet handles GET /api/wallet
func (h *Handler) HandleGetWallet(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.service.GetWallet(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, snapshot)
}

// HandleDeposit handles POST /api/wallet/deposit
func (h *Handler) HandleDeposit(w http.ResponseWriter, r *http.Request) {
	h.handleMovement(w, r, h.service.Deposit)
}

// HandleWithdraw handles POST /api/wallet/withdraw
func (h *Handler) HandleWithdraw(w http.ResponseWriter, r *http.Request) {
	h.handleMovement(w, r, h.service.Withdraw)
}

func (h *Handler) handleMovement(
	w http.ResponseWriter,
	r *http.Request,
	move func(ctx context.Context, userID string, amount decimal.Decimal) (*wallet.Wallet, error),
) {
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, fmt.Errorf("%w: invalid request body", domain.ErrInvalidInput))
		return
	}

	snapshot, err := move(r.Context(), auth.UserID(r.Context()), req.Amount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, snapshot)
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
		h.log.Error().Err(err).Msg("Wallet request failed")
	}
	h.writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"kind":  string(domain.KindOf(err)),
	})
}
