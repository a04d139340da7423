/**
 * @description
 * HTTP router for the relay tier. The relay sits between the services tier and the ledger;
 * its routes are protected by the relay's own internal API key.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
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

// Routes creates the relay router.
func Routes(h *Handlers, internalAPIKey string) http.Handler {
	r := chi.NewRouter()

	r.Use(httpx.TraceMiddleware)
	r.Use(httpx.AccessLogger())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", httpx.Health("relay"))
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(httpx.InternalAuthMiddleware(internalAPIKey))

		r.Post("/api/v1/transactions/execute", h.ExecuteTransferHandler)
		r.Post("/api/v1/history/mutations", h.MutationHistoryHandler)
		r.Post("/core/accounts/snapshot", h.SnapshotHandler)
		r.Post("/core/accounts/register", h.RegisterAccountHandler)
	})

	return r
}
