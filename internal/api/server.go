// Package api provides the read-only HTTP API over stored campaign results.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/narvanalabs/benchctl/internal/api/handlers"
	"github.com/narvanalabs/benchctl/internal/api/health"
	"github.com/narvanalabs/benchctl/internal/api/middleware"
	"github.com/narvanalabs/benchctl/internal/store"
	"github.com/narvanalabs/benchctl/pkg/config"
)

// Version is the current version of the API server.
// This should be set at build time using ldflags.
var Version = "dev"

// Server represents the HTTP API server.
type Server struct {
	router        chi.Router
	httpServer    *http.Server
	results       store.ResultStore
	logger        *slog.Logger
	healthChecker *health.Checker
}

// NewServer creates a new API server over the result store.
func NewServer(cfg *config.Config, results store.ResultStore, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		results:       results,
		logger:        logger,
		healthChecker: health.NewChecker(results, Version),
	}
	s.setupRouter()
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// setupRouter configures the router with middleware and routes.
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(middleware.Recovery(s.logger))
	r.Use(chimiddleware.Timeout(60 * time.Second))

	r.Get("/health", s.healthChecker.Handler())

	resultHandler := handlers.NewResultHandler(s.results, s.logger)
	r.Route("/v1/results", func(r chi.Router) {
		r.Get("/", resultHandler.List)
		r.Get("/{id}", resultHandler.Get)
	})

	s.router = r
}

// Start starts the HTTP server and blocks until ctx is done, the server is shut
// down or it fails.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting API server", "addr", s.httpServer.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		return nil
	}
}

// HTTPServer returns the underlying server so it can be registered for
// graceful shutdown.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Router returns the chi router for testing purposes.
func (s *Server) Router() chi.Router {
	return s.router
}
