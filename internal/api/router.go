package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(h *Handler, requestTimeout time.Duration) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(AccessLog(h.logger))
	r.Use(middleware.Recoverer)
	if requestTimeout > 0 {
		r.Use(middleware.Timeout(requestTimeout))
	}

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Use(BuyerCookie(h.cookieName, h.cookieDays, h.logger))
		r.Use(h.Authenticate)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.GetCart)
			r.Post("/items", h.AddItem)
			r.Patch("/items", h.UpdateItem)
			r.Delete("/items/{productID}", h.RemoveItem)
			r.Post("/clear", h.ClearCart)

			r.Group(func(r chi.Router) {
				r.Use(h.RequireUser)
				r.Post("/checkout", h.Checkout)
				r.Post("/associate", h.Associate)
			})
		})

		r.Route("/orders", func(r chi.Router) {
			r.Use(h.RequireUser)
			r.Post("/", h.CreateOrder)
			r.Get("/", h.ListOrders)
			r.Get("/{code}", h.GetOrder)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.RequireAdmin)
			r.Get("/orders/{id}", h.AdminGetOrder)
			r.Patch("/orders/{id}/status", h.AdminUpdateStatus)
		})
	})

	return r
}
