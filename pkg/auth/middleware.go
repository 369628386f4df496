package auth

import (
	"net/http"
	"strings"

	"github.com/takeoffworks/estimator/pkg/httperr"
	"github.com/takeoffworks/estimator/pkg/identity"
)

// publicPaths are endpoints reachable without a bearer token: account
// creation/verification, which by definition precede having a session.
var publicPaths = []string{
	"/health",
	"/api/v1/auth/login",
	"/api/v1/auth/register",
	"/api/v1/auth/verify-email",
	"/api/v1/auth/complete-invite",
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// isPresignedPath matches requests whose authorization comes entirely
// from act/exp/sig query parameters rather than a bearer token — upload
// and artifact-download URLs handed out by pkg/presign.
func isPresignedPath(r *http.Request) bool {
	q := r.URL.Query()
	return q.Get("sig") != "" && q.Get("act") != ""
}

// NewMiddleware builds JWT bearer-token auth middleware. A nil tokens
// manager fails closed: every non-public, non-presigned request is
// rejected rather than silently admitted.
func NewMiddleware(tokens *identity.TokenManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path) || isPresignedPath(r) {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				httperr.WriteUnauthorized(w, r, "missing Authorization header")
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				httperr.WriteUnauthorized(w, r, "Authorization header must be 'Bearer <token>'")
				return
			}

			if tokens == nil {
				httperr.WriteUnauthorized(w, r, "authentication not configured")
				return
			}

			claims, err := tokens.ValidateSession(parts[1])
			if err != nil {
				httperr.WriteUnauthorized(w, r, "invalid or expired token")
				return
			}

			ctx := WithUserID(r.Context(), claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
