package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/transfa/corebank/internal/domain"
	"github.com/transfa/corebank/internal/httpx"
	"github.com/transfa/corebank/internal/logging"
)

// TokenParser validates a bearer token and returns the customer id it was issued for.
type TokenParser interface {
	ParseToken(token string) (int64, error)
}

type customerIDKey struct{}

// BearerAuthMiddleware requires a valid "Authorization: Bearer <token>" header and puts the
// customer id on the request context.
func BearerAuthMiddleware(tokens TokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				httpx.WriteError(w, r, domain.NewError(domain.KindUnauthorized, "authorization header required"))
				return
			}
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader || strings.TrimSpace(tokenString) == "" {
				httpx.WriteError(w, r, domain.NewError(domain.KindUnauthorized, "invalid authorization header format"))
				return
			}

			customerID, err := tokens.ParseToken(strings.TrimSpace(tokenString))
			if err != nil {
				logging.Ctx(r.Context()).Debug().Err(err).Msg("rejected bearer token")
				httpx.WriteError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), customerIDKey{}, customerID)))
		})
	}
}

// CustomerIDFromContext returns the authenticated customer id.
func CustomerIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(customerIDKey{}).(int64)
	return id, ok
}
