package httpapi

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"peoplegate.org/internal/authz"
	"peoplegate.org/internal/breakglass"
)

// writeDomainError maps engine errors onto HTTP responses. Denials never
// leak their reason, and a foreign record is indistinguishable from a
// missing one.
func (a *API) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var rl *breakglass.RateLimitError
	switch {
	case errors.Is(err, authz.ErrAccessDenied):
		writeError(w, r, http.StatusForbidden, authz.PublicDenied)
	case errors.Is(err, authz.ErrNotFound), errors.Is(err, authz.ErrCrossTenant):
		writeError(w, r, http.StatusNotFound, authz.PublicNotFound)
	case errors.Is(err, authz.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.As(err, &rl):
		w.Header().Set("Retry-After", retryAfterSeconds(rl.RetryAfter))
		writeError(w, r, http.StatusTooManyRequests, "too many approval attempts")
	case errors.Is(err, breakglass.ErrConflict):
		writeError(w, r, http.StatusConflict, "approval changed; reload and retry")
	case errors.Is(err, breakglass.ErrNotPending),
		errors.Is(err, breakglass.ErrNotApproved),
		errors.Is(err, breakglass.ErrExpired):
		writeError(w, r, http.StatusConflict, trimPrefix(err))
	case errors.Is(err, breakglass.ErrSelfApproval), errors.Is(err, breakglass.ErrNotRequester):
		writeError(w, r, http.StatusForbidden, trimPrefix(err))
	default:
		a.logger.Error("request failed",
			zap.String("request_id", requestIDFrom(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func trimPrefix(err error) string {
	msg := err.Error()
	const prefix = "breakglass: "
	if len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
		return msg[len(prefix):]
	}
	return msg
}
