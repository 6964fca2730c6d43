package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ubiwhere/keygate/internal/model"
	"github.com/ubiwhere/keygate/internal/service"
)

type contextKeyAuth string

const (
	// AuthPrincipalKey is the context key for the authenticated principal.
	AuthPrincipalKey contextKeyAuth = "auth_principal"
)

// Principal represents the authenticated identity making the request: either
// an admin session or a verified API key.
type Principal struct {
	Type    string // "admin" or "api_key"
	AdminID int64
	Email   string
	Key     *model.APIKey
	IsAdmin bool
}

// AuthenticateAdmin returns an HTTP middleware that validates a JWT Bearer
// token in the Authorization header and attaches the admin Principal to the
// request context. On failure it returns a 401 JSON error response.
func AuthenticateAdmin(auth *service.AdminAuth) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				writeAuthError(w, http.StatusUnauthorized,
					"Authentication required. Provide a Bearer token.")
				return
			}

			token := strings.TrimPrefix(authHeader, "Bearer ")
			p, err := auth.ValidateJWT(r.Context(), token)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "Invalid token")
				return
			}

			principal := &Principal{
				Type:    "admin",
				AdminID: p.AdminID,
				Email:   p.Email,
				IsAdmin: true,
			}
			ctx := context.WithValue(r.Context(), AuthPrincipalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin returns an HTTP middleware that enforces admin-level access.
// It must be used after AuthenticateAdmin in the middleware chain.
func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetPrincipal(r.Context())
			if principal == nil || !principal.IsAdmin {
				writeAuthError(w, http.StatusForbidden, "Admin access required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetPrincipal extracts the authenticated principal from the context.
// Returns nil if no principal is present (i.e., unauthenticated request).
func GetPrincipal(ctx context.Context) *Principal {
	if p, ok := ctx.Value(AuthPrincipalKey).(*Principal); ok {
		return p
	}
	return nil
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := model.ErrorResponse{Error: model.ErrorDetail{Code: status, Message: message}}
	_ = json.NewEncoder(w).Encode(resp)
}
