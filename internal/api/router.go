/**
 * @description
 * This file sets up the HTTP router for the wallet backend. It defines the API
 * endpoints consumed by the React UI, associates them with their handlers and
 * applies the shared middleware.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS handling for the browser UI.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/tropiwallet/wallet-service/internal/app"
)

// RouterOptions configures the cross-cutting middleware.
type RouterOptions struct {
	AllowedOrigins []string
	// Tokens enforces session bearer tokens on user routes when non-nil.
	Tokens *app.SessionTokens
	// TransferLimiter throttles the transfer routes per user when non-nil.
	TransferLimiter app.RateLimiter
}

// WalletRoutes creates and returns the router of the wallet backend.
func WalletRoutes(h *WalletHandlers, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.HealthHandler)
	r.Post("/auth/login", h.LoginHandler)

	r.Group(func(r chi.Router) {
		r.Use(SessionAuthMiddleware(opts.Tokens, h.logger))

		r.Post("/auth/logout/{userId}", h.LogoutHandler)
		r.Get("/profile/{userId}", h.ProfileHandler)

		r.Get("/accounts/{userId}", h.ListAccountsHandler)
		r.Get("/movements/{userId}/{accountId}", h.ListMovementsHandler)

		r.Get("/beneficiaries/{userId}", h.ListBeneficiariesHandler)
		r.Post("/beneficiaries/{userId}", h.CreateBeneficiaryHandler)
		r.Post("/beneficiaries/{userId}/validate", h.ValidateBeneficiaryHandler)
		r.Delete("/beneficiaries/{userId}/{beneficiaryId}", h.DeleteBeneficiaryHandler)

		r.Group(func(r chi.Router) {
			r.Use(RateLimitMiddleware(opts.TransferLimiter, h.logger))

			r.Post("/transfer/simulate/{userId}", h.SimulateTransferHandler)
			r.Post("/transfer/execute/{userId}", h.ExecuteTransferHandler)
			r.Post("/transfer/request-sms/{userId}", h.RequestSMSHandler)
			r.Get("/transfer/status/{userId}/{transferId}", h.TransferStatusHandler)
		})
	})

	return r
}
