package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"jiralink.dev/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/v1/organizations",
}

// Paths that accept a bearer token but can also authenticate another way.
// The OAuth callback carries the caller in its signed state value.
var optionalAuthPaths = []string{
	"/v1/connection/callback",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get(authHeader)
		if strings.TrimSpace(header) == "" && isOptionalAuthPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(header)
		if err != nil {
			unauthorized(w, r, err.Error())
			return
		}
		if a.deps.Tokens == nil {
			writeError(w, r, http.StatusInternalServerError, "server_error", "authentication is not configured")
			return
		}
		id, err := a.deps.Tokens.Resolve(token)
		if err != nil {
			unauthorized(w, r, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithIdentity(r.Context(), id)))
	})
}

// RequireRole rejects callers whose identity holds none of roles.
func RequireRole(roles ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, err := auth.Require(r.Context(), roles...); err != nil {
				if errors.Is(err, auth.ErrForbidden) {
					w.Header().Set("WWW-Authenticate", `Bearer error="insufficient_scope"`)
					writeError(w, r, http.StatusForbidden, "forbidden", "role not permitted for this resource")
					return
				}
				unauthorized(w, r, "authentication required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="jiralink"`)
	writeError(w, r, http.StatusUnauthorized, "unauthenticated", msg)
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

func isOptionalAuthPath(path string) bool {
	for _, p := range optionalAuthPaths {
		if path == p {
			return true
		}
	}
	return false
}
