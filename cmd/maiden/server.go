package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/artpar/maiden/internal/core/domain"
	"github.com/artpar/maiden/internal/shell/api"
	"github.com/artpar/maiden/internal/shell/store"
)

// =============================================================================
// Server
// =============================================================================

// Server serves the read-only status API.
type Server struct {
	config     APIConfig
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates the status API server.
func NewServer(cfg APIConfig, s store.Store, registry *domain.Registry, logger *slog.Logger) *Server {
	handler := api.NewHandler(s, registry, logger)
	return &Server{
		config: cfg,
		httpServer: &http.Server{
			Addr:         cfg.Address(),
			Handler:      handler.Routes(),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		logger: logger.With("component", "server"),
	}
}

// Start serves on the configured address until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Address())
	if err != nil {
		return &CommandError{Op: "serve", Err: err, ExitCode: ExitStoreError}
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "address", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return &CommandError{Op: "serve", Err: err, ExitCode: ExitStoreError}
	case <-ctx.Done():
		s.logger.Info("received shutdown signal")
	}

	return s.Shutdown(context.Background())
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}

	s.logger.Info("shutdown complete")
	return nil
}
