// Package server exposes the dispatcher over the gateway's two protocol
// transports plus the thin operational endpoints.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/companionhq/companion-gateway/internal/bridge"
	"github.com/companionhq/companion-gateway/internal/cache"
	"github.com/companionhq/companion-gateway/internal/common"
	"github.com/companionhq/companion-gateway/internal/config"
	"github.com/companionhq/companion-gateway/internal/gateway"
)

// Server manages the HTTP server and routes.
type Server struct {
	cfg        *config.Config
	dispatcher *gateway.Dispatcher
	bridge     *bridge.Bridge
	cache      *cache.ResourceCache
	logger     *common.Logger
	router     *http.ServeMux
	server     *http.Server
}

// New creates the HTTP server hosting both transport adapters.
func New(cfg *config.Config, d *gateway.Dispatcher, b *bridge.Bridge, c *cache.ResourceCache, logger *common.Logger) *Server {
	s := &Server{
		cfg:        cfg,
		dispatcher: d,
		bridge:     b,
		cache:      c,
		logger:     logger,
	}

	s.router = s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.withRequestLogging(s.router),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming connections stay open indefinitely
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Start starts the HTTP server and blocks until shutdown.
func (s *Server) Start() error {
	s.logger.Info().
		Str("address", s.server.Addr).
		Str("backend", s.bridge.BaseURL()).
		Msg("gateway server starting")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down gateway server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info().Msg("gateway server stopped")
	return nil
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// withRequestLogging logs each HTTP exchange at debug level.
func (s *Server) withRequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("http request")
	})
}
