package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"actorgate.org/internal/auth"
	"actorgate.org/internal/obs"
)

const serviceName = "actorgate-api"

type readinessChecker interface {
	Check(ctx context.Context) error
}

// ReadyProbe reports readiness by pinging the backing stores.
type ReadyProbe struct {
	Pingers []interface{ Ping(context.Context) error }
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	for _, p := range rp.Pingers {
		if p == nil {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

// API is the HTTP layer over auth.Service.
type API struct {
	mux        *http.ServeMux
	auth       *auth.Service
	readiness  readinessChecker
	version    string
	rateBurst  int
	ratePerSec float64
	origins    []string
	proxies    []netip.Prefix
	maxBody    int64
	adminRoles []auth.Role
}

// Option configures the API.
type Option func(*API)

// WithReadiness overrides the readiness probe. Defaults to pinging the auth store.
func WithReadiness(r readinessChecker) Option {
	return func(a *API) {
		if r != nil {
			a.readiness = r
		}
	}
}

// WithVersion sets the version reported by /healthz and /v1/info.
func WithVersion(v string) Option {
	return func(a *API) { a.version = v }
}

// WithRateLimit configures the per-client limit on /auth/ routes.
func WithRateLimit(burst int, perSecond float64) Option {
	return func(a *API) {
		if burst > 0 && perSecond > 0 {
			a.rateBurst = burst
			a.ratePerSec = perSecond
		}
	}
}

// WithTrustedProxies lists the peers whose X-Forwarded-For header is honoured.
func WithTrustedProxies(prefixes ...netip.Prefix) Option {
	return func(a *API) { a.proxies = append(a.proxies, prefixes...) }
}

// WithCORSOrigins allows extra browser origins besides localhost.
func WithCORSOrigins(origins ...string) Option {
	return func(a *API) { a.origins = append(a.origins, origins...) }
}

func New(svc *auth.Service, opts ...Option) *API {
	a := &API{
		mux:        http.NewServeMux(),
		auth:       svc,
		readiness:  ReadyProbe{Pingers: []interface{ Ping(context.Context) error }{svc}},
		version:    "dev",
		rateBurst:  20,
		ratePerSec: 5,
		maxBody:    1 << 20,
	}
	for _, opt := range opts {
		opt(a)
	}
	for _, d := range svc.Descriptors() {
		if d.Administrative {
			a.adminRoles = append(a.adminRoles, d.Role)
		}
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	authRoutes := http.NewServeMux()
	authRoutes.HandleFunc("/auth/{role}/join", a.roleRoute(http.MethodPost, a.handleJoin))
	authRoutes.HandleFunc("/auth/{role}/login", a.roleRoute(http.MethodPost, a.handleLogin))
	authRoutes.HandleFunc("/auth/{role}/refresh", a.roleRoute(http.MethodPost, a.handleRefresh))
	authRoutes.HandleFunc("/auth/{role}/logout", a.roleRoute(http.MethodPost, a.handleLogout))
	authRoutes.HandleFunc("/auth/{role}/me", a.roleRoute(http.MethodGet, a.handleMe))
	authRoutes.HandleFunc("/auth/{role}/link", a.roleRoute(http.MethodPost, a.handleLink))
	authRoutes.HandleFunc("/auth/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
	a.mux.Handle("/auth/", RateLimit(authRoutes, a.rateBurst, a.ratePerSec))

	admin := RequireRole(a.adminRoles...)
	a.mux.Handle("/admin/actors", a.requireAuth(admin(http.HandlerFunc(a.handleActors))))
	a.mux.Handle("/admin/actors/{id}", a.requireAuth(admin(http.HandlerFunc(a.handleActor))))
	a.mux.Handle("/admin/actors/{id}/{action}", a.requireAuth(admin(http.HandlerFunc(a.handleActorAction))))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})

	return a
}

// Handler returns the fully wrapped server handler.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, a.maxBody)
	h = CORS(h, a.origins...)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = ClientIP(h, a.proxies...)
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
	if err := a.readiness.Check(r.Context()); err != nil {
		obs.SetReady(false)
		obs.Error("readiness_failed", err, map[string]any{"request_id": RequestIDFromContext(r.Context())})
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

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	roles := make([]string, 0, len(a.auth.Descriptors()))
	for _, d := range a.auth.Descriptors() {
		roles = append(roles, string(d.Role))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
		"roles":   roles,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
