package handlers

import "github.com/go-chi/chi/v5"

// RegisterRoutes registers the portfolio routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/portfolio", func(r chi.Router) {
		r.Get("/", h.HandleGetPortfolio)
		r.Get("/history", h.HandleGetHistory)
		r.Get("/history/daily", h.HandleGetDaily)
		r.Get("/summary", h.HandleGetSummary)
	})
}
