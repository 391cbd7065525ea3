package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// ServerConfig holds admin HTTP server settings
type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server runs the admin router on its own listener
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// NewServer creates a server for the given router
func NewServer(cfg *ServerConfig, handler http.Handler, logger *slog.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		logger: logger,
	}
}

// Start binds the listener and serves in the background. Bind failures
// are returned; later serve failures are sent to errCh.
func (s *Server) Start(errCh chan<- error) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.srv.Addr, err)
	}

	s.logger.Info("Starting admin server",
		slog.String("address", ln.Addr().String()),
	)

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Admin server failed", slog.Any("error", err))
			if errCh != nil {
				errCh <- fmt.Errorf("admin server: %w", err)
			}
		}
	}()

	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down admin server")

	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("admin server shutdown: %w", err)
	}
	return nil
}
