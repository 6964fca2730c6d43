package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/ubiwhere/keygate/internal/config"
	"github.com/ubiwhere/keygate/internal/service"
)

// ExtractKey pulls the raw API key from a request. The primary carrier is
// the Authorization header with the configured scheme
// ("Authorization: Api-Key <key>"); when query parameter auth is enabled the
// key may instead arrive in a query parameter named after the scheme
// ("?Api-Key=<key>"). Query parameter names are case-sensitive, so the
// lowercase spelling is accepted too. The header scheme comparison is
// case-insensitive.
func ExtractKey(r *http.Request, keys config.Keys) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		scheme, rest, found := strings.Cut(authHeader, " ")
		if found && strings.EqualFold(scheme, keys.AuthScheme) {
			raw := strings.TrimSpace(rest)
			if raw != "" {
				return raw, true
			}
		}
	}

	if keys.EnableQueryParamAuth {
		q := r.URL.Query()
		if raw := q.Get(keys.AuthScheme); raw != "" {
			return raw, true
		}
		if raw := q.Get(strings.ToLower(keys.AuthScheme)); raw != "" {
			return raw, true
		}
	}

	return "", false
}

// AuthenticateKey returns an HTTP middleware that verifies the request's API
// key and attaches the key's Principal to the request context. Missing,
// malformed, unknown, expired, and mismatched keys all produce the same 401
// response body.
func AuthenticateKey(verifier *service.Verifier, keys config.Keys) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := ExtractKey(r, keys)
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, service.MsgInvalidKey)
				return
			}

			k, err := verifier.Verify(r.Context(), raw)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, service.MsgInvalidKey)
				return
			}

			principal := &Principal{Type: "api_key", Key: k}
			ctx := context.WithValue(r.Context(), AuthPrincipalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
