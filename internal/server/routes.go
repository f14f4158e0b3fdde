package server

import (
	"github.com/fulmenhq/gofulmen/signals"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tgrelay/tgrelay/internal/observability"
	"github.com/tgrelay/tgrelay/internal/server/handlers"
	servermw "github.com/tgrelay/tgrelay/internal/server/middleware"
)

// Signal endpoint rate limits, per minute.
const (
	signalRateLimit = 10
	signalRateBurst = 5
)

func (s *Server) registerRoutes() {
	s.router.Get("/", handlers.StatusHandler(s.opts.BotRunning))

	if !s.opts.DisableHealth {
		s.router.Get("/health", handlers.HealthHandler)
		s.router.Get("/health/live", handlers.LivenessHandler)
		s.router.Get("/health/ready", handlers.ReadinessHandler)
		s.router.Get("/health/startup", handlers.StartupHandler)
	}

	s.router.Get("/version", handlers.VersionHandler)
	s.router.Get("/metrics", MetricsHandler(s.opts.MetricsPort))

	s.registerAdminRoutes()
}

// registerAdminRoutes mounts the operator API behind the admin bearer token.
func (s *Server) registerAdminRoutes() {
	logger := observability.ServerLogger
	token := s.opts.AdminToken
	if token == "" {
		if logger != nil {
			logger.Debug("Admin API disabled (no admin token configured)")
		}
		return
	}

	usage := &handlers.UsageHandler{Admin: s.opts.Admin}
	s.router.Route("/admin", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(servermw.BearerToken(token))
			r.Get("/usage", usage.Report)
			r.Post("/users/{id}/reset", usage.Reset)
			r.Post("/limit", usage.SetLimit)
		})

		// The signal handler enforces the token and its own rate limit.
		signalHandler := signals.NewHTTPHandler(signals.HTTPConfig{
			TokenAuth: token,
			RateLimit: signalRateLimit,
			RateBurst: signalRateBurst,
		})
		r.Post("/signal", signalHandler.ServeHTTP)
	})

	if logger != nil {
		logger.Info("Admin API enabled",
			zap.Strings("paths", []string{"/admin/usage", "/admin/users/{id}/reset", "/admin/limit", "/admin/signal"}),
			zap.String("auth", "bearer token"))
		logger.Warn("Admin API enabled - ensure this server is not exposed to public internet")
	}
}
