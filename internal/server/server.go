// Package server assembles the HTTP + WebSocket API for the drop market.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mintforge/dropmarket/internal/domain"
	"github.com/mintforge/dropmarket/internal/server/handler"
	"github.com/mintforge/dropmarket/internal/server/middleware"
	"github.com/mintforge/dropmarket/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	AdminToken  string // guards schedule mutations and the audit log
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Phase    *handler.PhaseHandler
	Items    *handler.ItemHandler
	Listings *handler.ListingHandler
	Offers   *handler.OfferHandler
	Audit    *handler.AuditHandler
}

// Server is the headless HTTP + WebSocket API server for the drop market.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// Public storefront routes are open; schedule mutations and the audit log sit
// behind the admin token. An optional per-IP rate limit covers everything.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	admin := middleware.Auth(cfg.AdminToken)

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Release schedule: reads are public, transitions are admin-only.
	mux.HandleFunc("GET /api/phase", handlers.Phase.Status)
	mux.HandleFunc("GET /api/phase/schedule", handlers.Phase.Schedule)
	mux.Handle("POST /api/phase/advance", admin(http.HandlerFunc(handlers.Phase.Advance)))
	mux.Handle("POST /api/phase/pause", admin(http.HandlerFunc(handlers.Phase.Pause)))
	mux.Handle("POST /api/phase/resume", admin(http.HandlerFunc(handlers.Phase.Resume)))
	mux.Handle("POST /api/phase/reset-timer", admin(http.HandlerFunc(handlers.Phase.ResetTimer)))
	mux.Handle("PUT /api/phase/rate", admin(http.HandlerFunc(handlers.Phase.SetRate)))

	// Catalog and primary sales.
	mux.HandleFunc("GET /api/items", handlers.Items.List)
	mux.HandleFunc("GET /api/items/{id}", handlers.Items.Get)
	mux.HandleFunc("GET /api/items/{id}/quote", handlers.Items.Quote)
	mux.HandleFunc("POST /api/items/{id}/purchase", handlers.Items.Purchase)

	// Resale listings.
	mux.HandleFunc("GET /api/listings", handlers.Listings.List)
	mux.HandleFunc("POST /api/listings", handlers.Listings.Create)
	mux.HandleFunc("GET /api/listings/{id}", handlers.Listings.Get)
	mux.HandleFunc("DELETE /api/listings/{id}", handlers.Listings.Cancel)

	// Offer negotiation.
	mux.HandleFunc("POST /api/listings/{id}/offers", handlers.Offers.Propose)
	mux.HandleFunc("GET /api/listings/{id}/offers", handlers.Offers.ListByListing)
	mux.HandleFunc("GET /api/offers", handlers.Offers.ListByBuyer)
	mux.HandleFunc("GET /api/offers/{id}", handlers.Offers.Get)
	mux.HandleFunc("POST /api/offers/{id}/counter", handlers.Offers.Counter)
	mux.HandleFunc("POST /api/offers/{id}/accept", handlers.Offers.Accept)
	mux.HandleFunc("POST /api/offers/{id}/reject", handlers.Offers.Reject)
	mux.HandleFunc("DELETE /api/offers/{id}", handlers.Offers.Cancel)
	mux.Handle("POST /api/offers/sweep", admin(http.HandlerFunc(handlers.Offers.Sweep)))

	// Audit log.
	mux.Handle("GET /api/audit", admin(http.HandlerFunc(handlers.Audit.List)))

	// WebSocket event stream.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	if limiter != nil {
		h = middleware.RateLimit(limiter, 120, time.Minute)(h)
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
