// Package httptransport assembles the public HTTP surface.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"agegate/pkg/platform/httputil"
	"agegate/pkg/platform/middleware/metadata"
	"agegate/pkg/platform/middleware/requestid"
	"agegate/pkg/platform/middleware/requesttime"
	"agegate/pkg/requestcontext"
)

// Registrar mounts a module's routes.
type Registrar interface {
	Register(r chi.Router)
}

// HealthCheck reports whether a backing dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Router struct {
	logger   *slog.Logger
	gatherer prometheus.Gatherer
	checks   map[string]HealthCheck
	modules  []Registrar
	proxies  *metadata.ProxyResolver
}

type Option func(*Router)

func WithMetrics(g prometheus.Gatherer) Option {
	return func(r *Router) {
		r.gatherer = g
	}
}

// WithHealthCheck adds a named readiness probe to /readyz.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(r *Router) {
		r.checks[name] = check
	}
}

// WithTrustedProxies lets the listed proxies set the client IP through
// forwarding headers. Without it only the peer address is used.
func WithTrustedProxies(p *metadata.ProxyResolver) Option {
	return func(r *Router) {
		r.proxies = p
	}
}

func WithModules(modules ...Registrar) Option {
	return func(r *Router) {
		r.modules = append(r.modules, modules...)
	}
}

// NewRouter returns the root handler with shared middleware applied to every
// route.
func NewRouter(logger *slog.Logger, opts ...Option) http.Handler {
	rt := &Router{
		logger:  logger,
		checks:  make(map[string]HealthCheck),
		proxies: &metadata.ProxyResolver{},
	}
	for _, opt := range opts {
		opt(rt)
	}

	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(requesttime.Middleware)
	r.Use(rt.proxies.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(rt.accessLog)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", rt.handleReady)
	if rt.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(rt.gatherer, promhttp.HandlerOpts{}))
	}

	for _, m := range rt.modules {
		m.Register(r)
	}
	return r
}

func (rt *Router) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	result := make(map[string]string, len(rt.checks))
	for name, check := range rt.checks {
		if err := check(ctx); err != nil {
			rt.logger.WarnContext(ctx, "readiness check failed",
				"check", name,
				"error", err,
			)
			result[name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		result[name] = "ok"
	}
	httputil.WriteJSON(w, status, result)
}

func (rt *Router) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		ctx := r.Context()
		rt.logger.InfoContext(ctx, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", requestcontext.RequestID(ctx),
		)
	})
}
