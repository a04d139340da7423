package httpx

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/transfa/corebank/internal/domain"
	"github.com/transfa/corebank/internal/logging"
)

const (
	HeaderInternalAPIKey = "X-Internal-API-Key"
	HeaderTraceID        = "X-Trace-ID"
)

// InternalAuthMiddleware rejects requests whose X-Internal-API-Key does not match requiredKey.
// An empty requiredKey rejects everything.
func InternalAuthMiddleware(requiredKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get(HeaderInternalAPIKey)
			if requiredKey == "" || provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(requiredKey)) != 1 {
				WriteError(w, r, domain.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// TraceMiddleware adopts the caller's X-Trace-ID, or mints one, and echoes it on the response.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := strings.TrimSpace(r.Header.Get(HeaderTraceID))
		if traceID == "" {
			traceID = logging.NewTraceID()
		}
		w.Header().Set(HeaderTraceID, traceID)
		next.ServeHTTP(w, r.WithContext(logging.ContextWithTraceID(r.Context(), traceID)))
	})
}

// Health answers liveness probes.
func Health(service string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": service})
	}
}

// AccessLogger is chi's request logger writing through the structured logger.
func AccessLogger() func(http.Handler) http.Handler {
	return middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  logging.StdLogger("http"),
		NoColor: true,
	})
}
