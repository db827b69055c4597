package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"peoplegate.org/internal/authz"
	"peoplegate.org/internal/breakglass"
	"peoplegate.org/internal/obs"
	"peoplegate.org/internal/policies"
	"peoplegate.org/internal/session"
)

const serviceName = "peoplegate-authz"

// ReadinessChecker reports whether downstream dependencies are reachable.
type ReadinessChecker interface {
	Check(ctx context.Context) error
}

// ReadyFunc adapts a function to ReadinessChecker.
type ReadyFunc func(ctx context.Context) error

func (f ReadyFunc) Check(ctx context.Context) error {
	if f == nil {
		return nil
	}
	return f(ctx)
}

// API is the HTTP surface of the authorization engine.
type API struct {
	mux        *http.ServeMux
	guard      *authz.Guard
	breakGlass *breakglass.Service
	policies   *policies.Service
	verifier   *session.Verifier
	readiness  ReadinessChecker
	logger     *zap.Logger
	version    string

	rateBurst  int
	ratePerSec float64
	maxBody    int64
}

type Option func(*API)

func WithReadiness(r ReadinessChecker) Option {
	return func(a *API) {
		if r != nil {
			a.readiness = r
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(a *API) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithPolicies enables the ABAC policy administration endpoints.
func WithPolicies(svc *policies.Service) Option { return func(a *API) { a.policies = svc } }

func WithVersion(v string) Option { return func(a *API) { a.version = v } }

// WithRateLimit sets the per-client token bucket. Non-positive values keep
// the defaults.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(a *API) {
		if perSecond > 0 {
			a.ratePerSec = perSecond
		}
		if burst > 0 {
			a.rateBurst = burst
		}
	}
}

func New(guard *authz.Guard, bg *breakglass.Service, verifier *session.Verifier, opts ...Option) *API {
	a := &API{
		mux:        http.NewServeMux(),
		guard:      guard,
		breakGlass: bg,
		verifier:   verifier,
		readiness:  ReadyFunc(nil),
		logger:     zap.NewNop(),
		version:    "dev",
		rateBurst:  100,
		ratePerSec: 50,
		maxBody:    1 << 20,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.HandleFunc("POST /v1/authz/check", a.handleCheck)

	a.mux.HandleFunc("GET /v1/abac-policies", a.handleListPolicies)
	a.mux.HandleFunc("PUT /v1/abac-policies", a.handleReplacePolicies)

	a.mux.HandleFunc("POST /v1/break-glass", a.handleRequestBreakGlass)
	a.mux.HandleFunc("GET /v1/break-glass", a.handleListBreakGlass)
	a.mux.HandleFunc("GET /v1/break-glass/{id}", a.handleGetBreakGlass)
	a.mux.HandleFunc("POST /v1/break-glass/{id}/approve", a.handleTransition(a.breakGlassApprove))
	a.mux.HandleFunc("POST /v1/break-glass/{id}/reject", a.handleTransition(a.breakGlassReject))
	a.mux.HandleFunc("POST /v1/break-glass/{id}/consume", a.handleTransition(a.breakGlassConsume))

	return a
}

// Handler returns the fully wrapped handler.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withSession(h)
	h = MaxBodyBytes(h, a.maxBody)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = SecurityHeaders(h)
	h = Logging(a.logger, h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readiness.Check(ctx); err != nil {
		obs.SetReady(false)
		a.logger.Warn("readiness check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeJSON(w, code, map[string]any{
		"error":      msg,
		"request_id": requestIDFrom(r.Context()),
	})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return nil
}
