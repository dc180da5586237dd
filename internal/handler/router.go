package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	custommiddleware "github.com/mmeshcher/canteen-system/internal/middleware"
	"github.com/mmeshcher/canteen-system/internal/model"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса столовой.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	authLimiter := custommiddleware.NewRateLimiter(rate.Limit(1), 5)

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(authLimiter.Middleware)
				r.Post("/register", h.Register)
				r.Post("/login", h.Login)
			})
			r.Post("/logout", h.Logout)

			r.Group(func(r chi.Router) {
				r.Use(h.authMiddleware.Middleware)
				r.Get("/me", h.Me)
			})
		})

		r.Get("/menu", h.GetMenu)
		r.Get("/menu/special", h.GetSpecialItems)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)
			r.Use(custommiddleware.RequireRole(model.RoleStudent))

			r.Get("/cart", h.GetCart)
			r.Post("/cart/items", h.AddCartItem)
			r.Patch("/cart/items/{id}", h.UpdateCartItem)
			r.Delete("/cart/items/{id}", h.RemoveCartItem)
			r.Post("/cart/checkout", h.Checkout)

			r.Get("/orders", h.GetOrders)
			r.Get("/orders/active", h.GetActiveOrder)
			r.Get("/orders/{id}", h.GetOrder)
			r.Post("/orders/{id}/payment/verify", h.VerifyPayment)
			r.Get("/orders/{id}/payment/link", h.GetPaymentLink)
			r.Get("/orders/{id}/payment/qr", h.GetPaymentQR)
			r.Get("/orders/{id}/receipt", h.GetReceipt)

			r.Get("/suggestions", h.GetSuggestions)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)
			r.Get("/notifications", h.GetNotifications)
		})

		r.Route("/canteen", func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)
			r.Use(custommiddleware.RequireRole(model.RoleCanteenWorker))

			r.Post("/menu", h.CreateMenuItem)
			r.Patch("/menu/{id}/availability", h.SetMenuItemAvailability)

			r.Get("/orders", h.GetAllOrders)
			r.Patch("/orders/{id}/status", h.UpdateOrderStatus)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)
		r.Get("/ws/orders", h.ServeOrderEvents)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
