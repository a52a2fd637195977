package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// APIServer hosts the management API on its own port, separate from the
// webhook so signature-checked ingest and operator traffic never mix.
type APIServer struct {
	srv    *http.Server
	logger *slog.Logger
}

// NewAPIServer wraps an http.Handler with lifecycle management.
func NewAPIServer(handler http.Handler, addr string, logger *slog.Logger) *APIServer {
	return &APIServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Start serves until the listener fails or Stop is called.
func (s *APIServer) Start() error {
	s.logger.Info("api server listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Stop shuts the server down, draining in-flight requests.
func (s *APIServer) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
