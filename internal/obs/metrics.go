package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"actorgate.org/internal/auth"
)

var (
	initOnce sync.Once

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

	authOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_operations_total",
			Help: "Authentication operations by role, operation and outcome.",
		},
		[]string{"role", "operation", "outcome"},
	)

	authRefreshReplays = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_refresh_replays_total",
			Help: "Refresh tokens presented after they were rotated or revoked.",
		},
		[]string{"role"},
	)

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ready",
		Help: "1 when the service accepts traffic.",
	})
)

// Init registers the metrics in the default registry. Safe to call twice.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			authOperationsTotal, authRefreshReplays, ready,
		)
	})
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady flips the readiness gauge.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

// Instrument records request count, latency and in-flight gauge.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

var (
	staticPaths = map[string]bool{
		"/":             true,
		"/healthz":      true,
		"/readyz":       true,
		"/metrics":      true,
		"/v1/info":      true,
		"/admin/actors": true,
	}
	authOps  = map[string]bool{"join": true, "login": true, "refresh": true, "logout": true, "me": true, "link": true}
	actorOps = map[string]bool{"suspend": true, "reinstate": true, "credentials": true}
)

// CanonicalPath collapses path parameters so metric labels stay bounded.
// Paths outside the route table are reported as "/unmatched".
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	if staticPaths[p] {
		return p
	}
	parts := strings.Split(strings.TrimPrefix(p, "/"), "/")
	switch {
	case len(parts) == 3 && parts[0] == "auth" && authOps[parts[2]]:
		return "/auth/:role/" + parts[2]
	case len(parts) == 3 && parts[0] == "admin" && parts[1] == "actors":
		return "/admin/actors/:id"
	case len(parts) == 4 && parts[0] == "admin" && parts[1] == "actors" && actorOps[parts[3]]:
		return "/admin/actors/:id/" + parts[3]
	}
	return "/unmatched"
}

// statusWriter keeps the response code for labelling.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// AuthObserver feeds auth.Service outcomes into Prometheus.
type AuthObserver struct{}

// ObserveAuth counts one operation outcome.
func (AuthObserver) ObserveAuth(role auth.Role, operation, outcome string) {
	authOperationsTotal.WithLabelValues(string(role), operation, outcome).Inc()
}

// ObserveReplay counts one rejected refresh replay.
func (AuthObserver) ObserveReplay(role auth.Role) {
	authRefreshReplays.WithLabelValues(string(role)).Inc()
}
