package middleware

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ubiwhere/keygate/internal/model"
	"github.com/ubiwhere/keygate/internal/service"
)

// RequireScope returns an HTTP middleware that authorizes the verified API
// key against the resource type named in the route's {resourceType} URL
// parameter. The operation is derived from the HTTP method: GET/HEAD/OPTIONS
// read, POST create, PUT/PATCH update, DELETE delete. It must be used after
// AuthenticateKey in the middleware chain.
func RequireScope(authz *service.Authorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetPrincipal(r.Context())
			if principal == nil || principal.Key == nil {
				writeAuthError(w, http.StatusUnauthorized, service.MsgInvalidKey)
				return
			}

			resourceType := chi.URLParam(r, "resourceType")
			if resourceType == "" {
				writeAuthError(w, http.StatusForbidden, service.MsgInsufficientScope)
				return
			}

			op, ok := model.OperationForMethod(r.Method)
			if !ok {
				writeAuthError(w, http.StatusMethodNotAllowed, "Method not allowed")
				return
			}

			err := authz.Authorize(r.Context(), principal.Key.ID, resourceType, op)
			if err != nil {
				if errors.Is(err, service.ErrInsufficientScope) {
					writeAuthError(w, http.StatusForbidden, service.MsgInsufficientScope)
					return
				}
				writeAuthError(w, http.StatusInternalServerError, "Internal server error")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
