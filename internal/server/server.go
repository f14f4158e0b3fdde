// Package server exposes the operator HTTP surface: status, health probes,
// version, metrics and the token-protected admin API.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/tgrelay/tgrelay/internal/core/admin"
	apperrors "github.com/tgrelay/tgrelay/internal/errors"
	"github.com/tgrelay/tgrelay/internal/observability"
	servermw "github.com/tgrelay/tgrelay/internal/server/middleware"
)

// Timeout defaults used when Options leaves them zero.
const (
	DefaultReadTimeout  = 30 * time.Second
	DefaultWriteTimeout = 30 * time.Second
	DefaultIdleTimeout  = 120 * time.Second
)

// Options configures the HTTP server.
type Options struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// AdminToken enables the /admin routes; empty leaves them unregistered.
	AdminToken string
	// Admin serves the /admin usage and quota routes.
	Admin *admin.Controller
	// BotRunning reports poller state on "/"; nil reports it as disabled.
	BotRunning func() bool
	// DisableHealth leaves the /health probes unregistered.
	DisableHealth bool
	// MetricsPort is the exporter port proxied by /metrics when the exporter
	// has not reported its own.
	MetricsPort int
}

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	opts   Options
}

// New creates a new HTTP server instance
func New(opts Options) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	// Order: request id for correlation, metrics around everything below,
	// recovery closest to the handlers.
	r.Use(servermw.RequestID)
	r.Use(servermw.RequestMetrics)
	r.Use(servermw.Recovery)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		apperrors.RespondWithError(w, req, apperrors.NewNotFoundError("The requested resource was not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		apperrors.RespondWithError(w, req, apperrors.NewMethodNotAllowedError("The requested method is not allowed for this resource"))
	})

	s := &Server{router: r, opts: opts}

	s.registerRoutes()

	return s
}

// Start listens until Shutdown. It returns http.ErrServerClosed after a clean
// shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  orDefault(s.opts.ReadTimeout, DefaultReadTimeout),
		WriteTimeout: orDefault(s.opts.WriteTimeout, DefaultWriteTimeout),
		IdleTimeout:  orDefault(s.opts.IdleTimeout, DefaultIdleTimeout),
	}

	if logger := observability.ServerLogger; logger != nil {
		logger.Info("Starting HTTP server",
			zap.String("host", s.opts.Host),
			zap.Int("port", s.opts.Port),
			zap.String("addr", addr))
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if logger := observability.ServerLogger; logger != nil {
		logger.Info("Shutting down HTTP server")
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the underlying router for testing and instrumentation
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.opts.Port
}

func orDefault(value, fallback time.Duration) time.Duration {
	if value > 0 {
		return value
	}
	return fallback
}
