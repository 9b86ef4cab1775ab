// Package server assembles the ledger's HTTP and WebSocket API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"slices"
	"time"

	"github.com/alanyoungcy/perpledger/internal/domain"
	"github.com/alanyoungcy/perpledger/internal/server/handler"
	"github.com/alanyoungcy/perpledger/internal/server/middleware"
	"github.com/alanyoungcy/perpledger/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	Auth        middleware.AuthConfig
	Identity    middleware.IdentityConfig

	// Limiter throttles requests per client IP. Nil or RateLimit <= 0
	// disables throttling. Forwarding headers name the client only for
	// requests arriving from TrustedProxies.
	Limiter        domain.RateLimiter
	RateLimit      int
	RateWindow     time.Duration
	TrustedProxies []netip.Prefix
}

// publicPaths are served without an API key. The webhook authenticates with
// its own signature.
var publicPaths = []string{"/api/health", "/api/oracle/webhook", "/metrics"}

// Handlers aggregates the HTTP handlers the server registers. Status,
// Metrics and Observer are optional.
type Handlers struct {
	Health  *handler.HealthHandler
	Status  *handler.StatusHandler
	Ledger  *handler.LedgerHandler
	Admin   *handler.AdminHandler
	Oracle  *handler.OracleHandler
	Funding *handler.FundingHandler

	Metrics  http.Handler
	Observer middleware.HTTPObserver
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware
// chain: logging, CORS, rate limiting, API key auth and signed identity.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	if handlers.Status != nil {
		mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	}

	// Ledger.
	mux.HandleFunc("POST /api/ledger/initialize", handlers.Ledger.Initialize)
	mux.HandleFunc("GET /api/ledger/balance", handlers.Ledger.Balance)
	mux.HandleFunc("GET /api/ledger/stats", handlers.Ledger.Stats)

	// Positions.
	mux.HandleFunc("GET /api/positions", handlers.Ledger.ListPositions)
	mux.HandleFunc("POST /api/positions", handlers.Ledger.OpenPosition)
	mux.HandleFunc("GET /api/positions/{id}", handlers.Ledger.GetPosition)
	mux.HandleFunc("POST /api/positions/{id}/close", handlers.Ledger.ClosePosition)
	mux.HandleFunc("GET /api/traders/{trader}/positions", handlers.Ledger.TraderPositions)

	// Admin.
	mux.HandleFunc("POST /api/admin/withdraw", handlers.Admin.Withdraw)
	mux.HandleFunc("POST /api/admin/pause", handlers.Admin.Pause)
	mux.HandleFunc("POST /api/admin/resume", handlers.Admin.Resume)
	mux.HandleFunc("POST /api/admin/snapshot", handlers.Admin.Snapshot)
	mux.HandleFunc("GET /api/admin/snapshots", handlers.Admin.ListSnapshots)
	mux.HandleFunc("GET /api/admin/audit", handlers.Admin.AuditLog)
	mux.HandleFunc("POST /api/admin/audit/export", handlers.Admin.ExportAudit)

	// Oracle and funding.
	mux.HandleFunc("GET /api/oracle", handlers.Oracle.Info)
	mux.HandleFunc("GET /api/oracle/assets", handlers.Oracle.Assets)
	mux.HandleFunc("GET /api/oracle/prices/{asset}", handlers.Oracle.Price)
	mux.HandleFunc("GET /api/oracle/twap/{asset}", handlers.Oracle.TWAP)
	mux.HandleFunc("GET /api/oracle/cross", handlers.Oracle.Cross)
	mux.HandleFunc("POST /api/oracle/webhook", handlers.Oracle.Webhook)
	mux.HandleFunc("GET /api/funding-rate", handlers.Funding.FundingRate)

	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	routeOf := func(r *http.Request) string {
		_, pattern := mux.Handler(r)
		if pattern == "" {
			return "unmatched"
		}
		return pattern
	}

	// Built inside out; Logging ends up outermost.
	var h http.Handler = mux
	h = middleware.Identity(cfg.Identity, logger)(h)
	auth := cfg.Auth
	auth.Public = slices.Concat(cfg.Auth.Public, publicPaths)
	h = middleware.Auth(auth)(h)
	if cfg.Limiter != nil {
		h = middleware.RateLimit(cfg.Limiter, cfg.RateLimit, cfg.RateWindow, cfg.TrustedProxies, logger)(h)
	}
	h = middleware.CORS(cfg.CORSOrigins)(h)
	h = middleware.Logging(logger, handlers.Observer, routeOf)(h)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("server: starting", slog.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: serve: %w", err)
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
