// Package handlers provides read-only HTTP handlers for the instrument catalog.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/aristath/stockledger/internal/domain"
	"github.com/aristath/stockledger/internal/modules/instruments"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// CatalogReader is the slice of the instrument repository the handlers need.
type CatalogReader interface {
	Get(ctx context.Context, id string) (*instruments.Instrument, error)
	List(ctx context.Context, status domain.InstrumentStatus) ([]instruments.Instrument, error)
}

// Handler serves catalog lookups.
type Handler struct {
	catalog CatalogReader
	log     zerolog.Logger
}

// NewHandler creates a new instruments handler
func NewHandler(catalog CatalogReader, log zerolog.Logger) *Handler {
	return &Handler{
		catalog: catalog,
		log:     log.With().Str("handler", "instruments").Logger(),
	}
}

// HandleList handles GET /api/instruments?status=approved
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	status := domain.InstrumentStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		h.writeError(w, domain.ErrInvalidInput)
		return
	}

	list, err := h.catalog.List(r.Context(), status)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list instruments")
		h.writeError(w, err)
		return
	}
	if list == nil {
		list = []instruments.Instrument{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"instruments": list,
		"count":       len(list),
	})
}

// HandleGet handles GET /api/instruments/{id}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	inst, err := h.catalog.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, inst)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	h.writeJSON(w, domain.StatusCode(err), map[string]string{
		"error": err.Error(),
		"kind":  string(domain.KindOf(err)),
	})
}
