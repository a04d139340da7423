package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corebank_http_requests_total",
			Help: "Total number of HTTP requests handled",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "corebank_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Ledger
	TransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corebank_ledger_transfers_total",
			Help: "Transfers attempted at the ledger by result kind",
		},
		[]string{"result"}, // "committed" or an error kind
	)

	TransferDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "corebank_ledger_transfer_duration_seconds",
			Help:    "Time spent inside the transfer database transaction",
			Buckets: prometheus.DefBuckets,
		},
	)

	EventsPublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "corebank_ledger_event_publish_failures_total",
			Help: "TransferCommitted events that could not be published",
		},
	)

	// Relay
	ForwardsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corebank_relay_forwards_total",
			Help: "Requests forwarded to the ledger by route and downstream status",
		},
		[]string{"route", "status"},
	)

	AuditRowsPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "corebank_relay_audit_rows_pruned_total",
			Help: "Audit rows removed by the retention job",
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "corebank_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// Services
	ReconcileOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corebank_services_transfer_outcomes_total",
			Help: "Customer transfers by three-way outcome",
		},
		[]string{"outcome"},
	)

	SnapshotSyncs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corebank_services_snapshot_syncs_total",
			Help: "Snapshot syncs by result",
		},
		[]string{"result"},
	)
)

// RecordAPIRequest records one served HTTP request.
func RecordAPIRequest(method, route string, status int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordTransfer records a ledger transfer attempt.
func RecordTransfer(result string, duration time.Duration) {
	TransfersTotal.WithLabelValues(result).Inc()
	if duration > 0 {
		TransferDuration.Observe(duration.Seconds())
	}
}

// RecordForward records a relay forward. status 0 means the ledger was unreachable.
func RecordForward(route string, status int) {
	label := strconv.Itoa(status)
	if status == 0 {
		label = "unreachable"
	}
	ForwardsTotal.WithLabelValues(route, label).Inc()
}

// Middleware records request counts and latency labelled by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		RecordAPIRequest(r.Method, route, status, time.Since(start))
	})
}
