package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/smokeeat/loyalty-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса лояльности.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Get("/verify-email", h.VerifyEmail)
		r.Post("/recover", h.RecoverPassword)
		r.Post("/reset", h.ResetPassword)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Get("/users/me", h.GetMe)
	})

	r.Route("/rewards", func(r chi.Router) {
		r.Get("/tiers", h.ListRewardTiers)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/me", h.GetRewardsMe)
			r.Post("/earn/purchase", h.EarnPurchase)
			r.Post("/redeem", h.Redeem)
			r.Get("/redemptions", h.ListMyRedemptions)

			r.Route("/admin", func(r chi.Router) {
				r.Use(h.requireAdmin)

				r.Get("/redemptions", h.ListAllRedemptions)
				r.Post("/redemptions/{id}/complete", func(w http.ResponseWriter, r *http.Request) {
					h.updateRedemption(w, r, chi.URLParam(r, "id"), h.service.CompleteRedemption)
				})
				r.Post("/redemptions/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
					h.updateRedemption(w, r, chi.URLParam(r, "id"), h.service.CancelRedemption)
				})
			})
		})
	})

	r.Route("/_ops", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)
		r.Use(h.requireAdmin)

		r.Post("/test-email", h.SendTestEmail)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusNotFound, "not_found")
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed")
	})

	return r
}
