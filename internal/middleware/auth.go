package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"storefront-auth/internal/model"
	"storefront-auth/internal/token"
)

type authenticator interface {
	Authenticate(accessToken string) (model.Principal, error)
}

type contextKey string

const principalContextKey contextKey = "auth_principal"

// AuthMiddleware validates the access credential inline. It reads the access
// cookie first and falls back to a bearer header for non-browser callers.
type AuthMiddleware struct {
	auth       authenticator
	cookieName string
}

func NewAuthMiddleware(auth authenticator, cookieName string) *AuthMiddleware {
	return &AuthMiddleware{auth: auth, cookieName: cookieName}
}

func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := m.accessToken(r)
		if raw == "" {
			writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
			return
		}

		principal, err := m.auth.Authenticate(raw)
		if err != nil {
			if errors.Is(err, token.ErrExpired) {
				writeUnauthorized(w, "TOKEN_EXPIRED", "access token expired")
				return
			}
			writeUnauthorized(w, "UNAUTHORIZED", "invalid access token")
			return
		}

		ctx := context.WithValue(r.Context(), principalContextKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin must run after RequireAuth.
func (m *AuthMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := PrincipalFromContext(r.Context())
		if !ok {
			writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
			return
		}
		if !principal.Admin {
			writeForbidden(w, "insufficient permissions")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *AuthMiddleware) accessToken(r *http.Request) string {
	if c, err := r.Cookie(m.cookieName); err == nil && strings.TrimSpace(c.Value) != "" {
		return strings.TrimSpace(c.Value)
	}

	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// PrincipalFromContext returns the caller identity established by RequireAuth.
func PrincipalFromContext(ctx context.Context) (model.Principal, bool) {
	principal, ok := ctx.Value(principalContextKey).(model.Principal)
	return principal, ok
}

func writeUnauthorized(w http.ResponseWriter, code string, message string) {
	writeAuthError(w, http.StatusUnauthorized, code, message)
}

func writeForbidden(w http.ResponseWriter, message string) {
	writeAuthError(w, http.StatusForbidden, "FORBIDDEN", message)
}

func writeAuthError(w http.ResponseWriter, status int, code string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = jsonEncode(w, model.APIResponse{
		Success: false,
		Error: &model.APIError{
			Code:    code,
			Message: message,
		},
	})
}
