package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"peoplegate.org/internal/session"
)

const (
	authHeader  = "Authorization"
	orgIDHeader = "X-Org-Id"
)

var publicPaths = []string{
	"/metrics",
	"/healthz",
	"/readyz",
}

// withSession verifies the bearer token and stores the session in the
// request context. Org ids in headers are hints only; the session org is
// always the one used.
func (a *API) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		if a.verifier == nil {
			writeError(w, r, http.StatusServiceUnavailable, "authentication unavailable")
			return
		}
		token, ok := session.BearerToken(r.Header.Get(authHeader))
		if !ok {
			writeError(w, r, http.StatusUnauthorized, "missing bearer token")
			return
		}
		s, err := a.verifier.Verify(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}
		if hint := strings.TrimSpace(r.Header.Get(orgIDHeader)); hint != "" && hint != s.OrgID {
			a.logger.Warn("ignoring org hint that differs from session",
				zap.String("request_id", requestIDFrom(r.Context())),
				zap.String("session_org", s.OrgID),
				zap.String("hinted_org", hint),
				zap.String("user_id", s.UserID),
			)
		}
		next.ServeHTTP(w, r.WithContext(session.WithSession(r.Context(), s)))
	})
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
