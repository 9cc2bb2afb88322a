package handlers

import "github.com/go-chi/chi/v5"

// RegisterRoutes registers the wallet routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/wallet", func(r chi.Router) {
		r.Get("/", h.HandleGetWallet)
		r.Post("/deposit", h.HandleDeposit)
		r.Post("/withdraw", h.HandleWithdraw)
	})
}
