// Package server exposes the engine over HTTP: a small JSON API for trades,
// opportunities, and status, plus a WebSocket feed of engine events. The
// transport is thin; every route delegates to a store or the dispatcher.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/arbiterlabs/dexarbiter/internal/domain"
	"github.com/arbiterlabs/dexarbiter/internal/server/handler"
	"github.com/arbiterlabs/dexarbiter/internal/server/middleware"
	"github.com/arbiterlabs/dexarbiter/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey guards every route except /api/health. Empty disables auth.
	APIKey string
	// RateLimit caps requests per client IP per minute. Zero disables it.
	RateLimit int
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health        *handler.HealthHandler
	Status        *handler.StatusHandler
	Trades        *handler.TradeHandler
	Opportunities *handler.OpportunityHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a Server with all routes registered. wsHub and limiter may be
// nil to disable the event feed and request rate limiting respectively.
func New(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health is reachable without auth so load balancers can probe it.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	mux.HandleFunc("GET /api/trades", handlers.Trades.ListTrades)
	mux.HandleFunc("GET /api/trades/unresolved", handlers.Trades.ListUnresolved)
	mux.HandleFunc("GET /api/trades/{id}", handlers.Trades.GetTrade)
	mux.HandleFunc("POST /api/trades/{id}/cancel", handlers.Trades.CancelTrade)

	mux.HandleFunc("GET /api/opportunities/recent", handlers.Opportunities.ListRecent)
	mux.HandleFunc("POST /api/opportunities", handlers.Opportunities.SubmitOpportunity)

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, time.Minute)(h)
	}
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
		logger:     logger.With(slog.String("component", "server")),
	}
}

// Start begins listening. It blocks until the server errors or is shut down.
func (s *Server) Start() error {
	s.logger.Info("listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
