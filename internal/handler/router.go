package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/freight-settlement/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware движка расчётов.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5, "application/json", "text/plain"))
	r.Use(custommiddleware.Logger(h.logger))

	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Post("/shipments", h.CreateShipment)
		r.Get("/shipments/{id}", h.GetShipment)
		r.Patch("/shipments/{id}/status", h.UpdateShipmentStatus)
		r.Post("/shipments/{id}/bids", h.SubmitBid)
		r.Get("/shipments/{id}/bids", h.ListBids)

		r.Post("/bids/{id}/accept", h.AcceptBid)
		r.Delete("/bids/{id}", h.DeleteBid)

		r.Get("/wallet/balance", h.GetBalance)
		r.Get("/wallet/transactions", h.GetTransactions)
		r.Post("/wallet/withdraw", h.Withdraw)
		r.Post("/wallet/deposits", h.Deposit)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
