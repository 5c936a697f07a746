package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/avia/internal/domain"
	"github.com/opensource-finance/avia/internal/metrics"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, deps Deps, version string, tier domain.Tier, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	handler := NewHandler(deps, version, tier, logger)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(RecoverMiddleware(logger))
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.Use(CORSMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	// Public endpoints
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Method(http.MethodGet, "/metrics", metrics.Handler())
	router.Post("/auth/login", handler.Login)

	// Session required; every query is scoped to the session's org
	router.Group(func(r chi.Router) {
		r.Use(handler.AuthMiddleware)

		r.Post("/auth/logout", handler.Logout)
		r.Get("/auth/me", handler.Me)

		r.Get("/claims", handler.ListClaims)
		r.Post("/claims", handler.CreateClaim)
		r.Route("/claims/{id}", func(r chi.Router) {
			r.Get("/", handler.GetClaim)
			r.Post("/analyze", handler.AnalyzeClaim)
			r.Get("/intake-check", handler.IntakeCheck)
			r.Get("/escalation-package", handler.EscalationPackage)
			r.Post("/documents", handler.UploadDocument)
			r.Get("/documents", handler.ListDocuments)
			r.Post("/decide", handler.Decide)
			r.Get("/decisions", handler.ListDecisions)
		})

		r.Post("/score", handler.Score)
		r.Get("/model/status", handler.ModelStatus)

		r.Get("/rules", handler.ListRules)
		r.Get("/rules/{id}", handler.GetRule)
		r.Post("/rules", handler.CreateRule)
		r.Post("/rules/reload", handler.ReloadRules)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       time.Duration(s.config.ReadTimeout) * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
