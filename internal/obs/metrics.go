package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ready",
		Help: "1 when the service passed its last readiness check.",
	})
)

// Authorization engine metrics
var (
	GuardDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_guard_decisions_total",
			Help: "Authorization guard decisions by outcome and reason.",
		},
		[]string{"guard", "decision", "reason"},
	)

	TenantViolations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_tenant_record_violations_total",
			Help: "Records rejected by the tenant-scoped repository guard.",
		},
		[]string{"resource_type", "code"},
	)

	BreakGlassTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breakglass_transitions_total",
			Help: "Break-glass approval transitions and rejected attempts.",
		},
		[]string{"outcome"},
	)

	CacheReads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenant_cache_reads_total",
			Help: "Tenant cache reads by scope and result (hit, miss, bypass, error).",
		},
		[]string{"scope", "result"},
	)

	AuditFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_sink_failures_total",
			Help: "Audit events that could not be delivered.",
		},
		[]string{"sink"},
	)
)

var initOnce sync.Once

// Init registers all metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration, readyGauge,
			GuardDecisions, TenantViolations, BreakGlassTransitions, CacheReads, AuditFailures,
		)
	})
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady records the outcome of the latest readiness probe.
func SetReady(ok bool) {
	if ok {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

// CanonicalPath collapses identifiers in known routes so label cardinality stays bounded.
func CanonicalPath(raw string) string {
	path := raw
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 3 && parts[0] == "v1" && parts[1] == "break-glass" {
		switch len(parts) {
		case 3:
			return "/v1/break-glass/:id"
		case 4:
			if parts[3] == "approve" || parts[3] == "reject" {
				return "/v1/break-glass/:id/" + parts[3]
			}
		}
	}
	return path
}

// Instrument records RPS, latency and in-flight requests for the wrapped handler.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter records the response code for instrumentation.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
