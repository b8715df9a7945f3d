package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/agentwire/agentwire/security"
)

type contextKey string

// AgentContextKey carries the authenticated agent id (the token
// subject) through the request context.
const AgentContextKey contextKey = "agent"

// AuthMiddleware verifies bearer tokens on authenticated endpoints.
type AuthMiddleware struct {
	verifier *security.TokenVerifier
}

// NewAuthMiddleware creates an auth middleware around the verifier.
// A nil verifier disables authentication entirely.
func NewAuthMiddleware(verifier *security.TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier}
}

// RequireAuth verifies the Authorization header and stores the token
// subject in the request context.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.verifier == nil {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			jsonError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		claims, err := m.verifier.Verify(token)
		if err != nil {
			jsonError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), AgentContextKey, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// AgentFromContext retrieves the authenticated agent id from the
// request context, empty when auth is disabled.
func AgentFromContext(ctx context.Context) string {
	subject, _ := ctx.Value(AgentContextKey).(string)
	return subject
}
