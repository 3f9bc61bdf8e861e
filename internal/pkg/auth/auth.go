package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"marketplace/internal/models"
)

// contextKey is a custom type used for storing values in a context without risking collisions.
type contextKey string

// ContextPrincipal is the key under which the authenticated username is stored.
const ContextPrincipal contextKey = "contextPrincipal"

// Principal returns the authenticated username stored by CheckJWTMiddleware.
func Principal(ctx context.Context) (string, bool) {
	username, ok := ctx.Value(ContextPrincipal).(string)
	return username, ok && username != ""
}

// CheckJWTMiddleware validates the Bearer token of incoming requests and
// stores the principal in the request context.
func (signer *Signer) CheckJWTMiddleware() func(h http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")

			if authHeader == "" {
				writeErrorResponse(w, "missing auth header", http.StatusUnauthorized)
				return
			}
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				writeErrorResponse(w, "invalid auth header", http.StatusUnauthorized)
				return
			}

			claims, err := signer.ParseToken(parts[1])
			if err != nil {
				writeErrorResponse(w, "invalid token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ContextPrincipal, claims.Username)
			h.ServeHTTP(w, r.WithContext(ctx))
		}
		return http.HandlerFunc(fn)
	}
}

func writeErrorResponse(res http.ResponseWriter, errorInfo string, statusCode int) {
	res.Header().Set("Content-Type", "application/json")
	res.WriteHeader(statusCode)
	json.NewEncoder(res).Encode(models.ErrorResponse{Errors: errorInfo})
}
