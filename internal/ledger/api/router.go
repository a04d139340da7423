/**
 * @description
 * This file sets up the HTTP router for the core (ledger) tier. Every business route sits
 * behind the internal API key; only the relay is expected to call them.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/prometheus/client_golang: /metrics exposition.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/transfa/corebank/internal/httpx"
	"github.com/transfa/corebank/internal/metrics"
)

// Routes creates the core router.
func Routes(h *Handlers, internalAPIKey string) http.Handler {
	r := chi.NewRouter()

	r.Use(httpx.TraceMiddleware)
	r.Use(httpx.AccessLogger())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", httpx.Health("core"))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httpx.InternalAuthMiddleware(internalAPIKey))

		r.Post("/accounts", h.OpenAccountHandler)
		r.Post("/accounts/snapshot", h.SnapshotHandler)
		r.Post("/transactions/internal", h.InternalTransferHandler)
		r.Get("/history/mutations", h.MutationHistoryHandler)
	})

	return r
}
