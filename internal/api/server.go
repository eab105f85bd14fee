package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/fraud"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, catalog *rules.Catalog, patterns *fraud.PatternEngine, processor *decision.Processor, version string) *Server {
	handler := NewHandler(repo, cache, bus, catalog, patterns, processor, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// Application intake and screening
	router.Post("/applications", handler.SubmitApplication)
	router.Get("/applications/{id}", handler.GetApplication)
	router.Get("/applications/{id}/decision", handler.GetApplicationDecision)

	// Decision retrieval
	router.Get("/decisions/{id}", handler.GetDecision)

	// Program rule management
	router.Get("/programs", handler.ListPrograms)
	router.Get("/programs/{programType}/rules", handler.ListProgramRules)
	router.Get("/programs/{programType}/rules/active", handler.GetActiveRule)
	router.Post("/programs/{programType}/rules", handler.CreateProgramRule)
	router.Post("/rules/reload", handler.ReloadRules)

	// Fraud pattern management
	router.Get("/fraud/patterns", handler.ListFraudPatterns)
	router.Get("/fraud/patterns/{id}", handler.GetFraudPattern)
	router.Post("/fraud/patterns", handler.CreateFraudPattern)
	router.Delete("/fraud/patterns/{id}", handler.DeleteFraudPattern)
	router.Post("/fraud/patterns/reload", handler.ReloadFraudPatterns)

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
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
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
