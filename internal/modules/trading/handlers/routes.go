package handlers

import "github.com/go-chi/chi/v5"

// RegisterRoutes registers the trading routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/trades", func(r chi.Router) {
		r.Get("/", h.HandleHistory)
		r.Post("/buy", h.HandleBuy)
		r.Post("/sell", h.HandleSell)
	})
}
