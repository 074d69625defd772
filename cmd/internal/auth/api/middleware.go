package authapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"qck/cmd/internal/auth/session"
)

type claimsKey struct{}

// ClaimsFromContext returns the access claims stored by RequireAuth.
func ClaimsFromContext(ctx context.Context) (session.AccessClaims, bool) {
	c, ok := ctx.Value(claimsKey{}).(session.AccessClaims)
	return c, ok
}

// RequireAuth admits requests carrying a valid, non-denied bearer access
// credential and stores its claims in the request context.
func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="qck"`)
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}

		claims, err := h.sessions.Authenticate(r.Context(), token)
		if err != nil {
			if errors.Is(err, session.ErrStorageUnavailable) {
				h.log.Warn("auth.require.unavailable", "err", err)
				writeUnavailable(w, h.cfg.RetryAfter)
				return
			}
			w.Header().Set("WWW-Authenticate", `Bearer realm="qck", error="invalid_token"`)
			writeError(w, http.StatusUnauthorized, string(session.CodeOf(err)), "invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}

// RequireScope rejects authenticated requests whose claims lack scope.
// It must run inside RequireAuth.
func RequireScope(scope string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok || !claims.HasScope(scope) {
			writeError(w, http.StatusForbidden, "insufficient_scope", "missing scope "+scope)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
