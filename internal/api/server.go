// Package api provides the daemon's HTTP status API.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-logr/logr"

	pkgsync "github.com/stacklok/bimsync/internal/sync"
)

// SessionLister lists the live sync sessions
type SessionLister interface {
	Sessions() []pkgsync.SessionSnapshot
}

// ReadinessChecker reports whether the daemon finished starting its watches
type ReadinessChecker interface {
	Ready() bool
}

// ServerOption configures the status API server
type ServerOption func(*serverConfig)

// serverConfig holds the server configuration
type serverConfig struct {
	middlewares    []func(http.Handler) http.Handler
	metricsHandler http.Handler
	readiness      ReadinessChecker
}

// WithMiddlewares adds middleware to the server
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithMetricsHandler serves h at /metrics. A nil handler leaves the route unregistered.
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.metricsHandler = h
	}
}

// WithReadinessChecker gates /readyz on rc
func WithReadinessChecker(rc ReadinessChecker) ServerOption {
	return func(cfg *serverConfig) {
		cfg.readiness = rc
	}
}

// NewServer creates and configures the HTTP router over the given sessions
func NewServer(sessions SessionLister, opts ...ServerOption) *chi.Mux {
	cfg := &serverConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	r.Get("/healthz", healthHandler)
	r.Get("/readyz", readinessHandler(cfg.readiness))
	r.Get("/version", versionHandler)

	r.Route("/v1/sessions", func(r chi.Router) {
		r.Get("/", listSessionsHandler(sessions))
		r.Get("/{id}", getSessionHandler(sessions))
	})

	if cfg.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.metricsHandler)
	}

	return r
}

// LoggingMiddleware puts logger in each request context and logs completed requests at debug level
func LoggingMiddleware(logger logr.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			reqLogger := logger.WithValues("requestId", middleware.GetReqID(r.Context()))

			next.ServeHTTP(ww, r.WithContext(logr.NewContext(r.Context(), reqLogger)))

			reqLogger.V(1).Info("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
			)
		})
	}
}
