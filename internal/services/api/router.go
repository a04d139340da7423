/**
 * @description
 * HTTP router for the customer-facing services tier. Registration and login are open;
 * everything else needs a bearer token issued by LoginHandler.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS for browser clients.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/transfa/corebank/internal/httpx"
	"github.com/transfa/corebank/internal/metrics"
)

// Routes creates the services router.
func Routes(h *Handlers, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(httpx.TraceMiddleware)
	r.Use(httpx.AccessLogger())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", httpx.HeaderTraceID},
		ExposedHeaders:   []string{httpx.HeaderTraceID},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(metrics.Middleware)

	r.Get("/health", httpx.Health("services"))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", h.RegisterHandler)
		r.Post("/auth/login", h.LoginHandler)

		r.Group(func(r chi.Router) {
			r.Use(BearerAuthMiddleware(h.auth))

			r.Post("/transactions", h.TransferHandler)
			r.Post("/sync/core-to-services", h.SyncHandler)
			r.Get("/accounts/balance", h.BalanceHandler)
			r.Get("/history/mutations", h.MutationHistoryHandler)
		})
	})

	return r
}
