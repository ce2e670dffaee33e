// Package server exposes the arbitrage engine over HTTP and WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/apexlabs-eth/flasharb/internal/server/handler"
	"github.com/apexlabs-eth/flasharb/internal/server/middleware"
	"github.com/apexlabs-eth/flasharb/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health  *handler.HealthHandler
	Status  *handler.StatusHandler
	Arb     *handler.ArbHandler
	Balance *handler.BalanceHandler
	Admin   *handler.AdminHandler
}

// Server is the headless HTTP + WebSocket API for the arbitrage engine.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered on the ServeMux.
// Read-only routes and the WebSocket endpoint are open; submission and
// governance routes require the API key.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	authed := middleware.Auth(cfg.APIKey)

	// Health and status (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	// Arbitrage endpoints. Submission requires the API key.
	mux.Handle("POST /api/arbitrage/execute", authed(http.HandlerFunc(handlers.Arb.Execute)))
	mux.HandleFunc("GET /api/arbitrage/recent", handlers.Arb.ListRecent)

	// Engine balance.
	mux.HandleFunc("GET /api/balance/{token}", handlers.Balance.GetBalance)

	// Owner-only governance endpoints, gated by the API key.
	mux.Handle("POST /api/admin/operators", authed(http.HandlerFunc(handlers.Admin.SetOperator)))
	mux.Handle("POST /api/admin/tokens", authed(http.HandlerFunc(handlers.Admin.SetToken)))
	mux.Handle("POST /api/admin/routers", authed(http.HandlerFunc(handlers.Admin.SetRouter)))
	mux.Handle("POST /api/admin/withdraw", authed(http.HandlerFunc(handlers.Admin.Withdraw)))

	// WebSocket event stream.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
