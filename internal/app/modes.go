package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/perpledger/internal/server"
	"github.com/alanyoungcy/perpledger/internal/server/handler"
	"github.com/alanyoungcy/perpledger/internal/server/middleware"
	"github.com/alanyoungcy/perpledger/internal/server/ws"
	"github.com/alanyoungcy/perpledger/internal/service"
)

const shutdownTimeout = 5 * time.Second

// ServeMode runs the HTTP API, the WebSocket hub and, when configured, the
// snapshot scheduler.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}
	a.startSnapshots(ctx, g, deps)
	return g.Wait()
}

// MonitorMode runs the stale-oracle monitor, plus the HTTP API when enabled
// so /metrics and /api/health stay reachable.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startMonitor(ctx, g, deps)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}
	return g.Wait()
}

// FullMode runs everything in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startMonitor(ctx, g, deps)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}
	a.startSnapshots(ctx, g, deps)
	return g.Wait()
}

func (a *App) startMonitor(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	mon := service.NewOracleMonitor(deps.Ledger, deps.Bus, deps.Locks, deps.Notifier, deps.Metrics,
		service.MonitorConfig{
			Interval: a.cfg.Monitor.Every(),
			LockTTL:  a.cfg.Monitor.TTL(),
		}, a.logger)
	g.Go(func() error {
		return mon.Run(ctx)
	})
}

func (a *App) startSnapshots(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	interval := a.cfg.Snapshot.Every()
	if deps.Exporter == nil || interval <= 0 {
		return
	}
	g.Go(func() error {
		return deps.Exporter.Run(ctx, interval, deps.Locks)
	})
}

// startHTTPServer adds the HTTP server and its WebSocket hub to g. The server
// is shut down gracefully when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	sc := a.cfg.Server

	hub := ws.NewHub(deps.Bus, ws.Config{
		Mode:           a.cfg.Mode,
		AllowedOrigins: sc.CORSOrigins,
		StartedAt:      a.startedAt,
		Status: func(ctx context.Context) (any, error) {
			return deps.Ledger.GetStats(ctx)
		},
	}, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	oracleH := handler.NewOracleHandler(deps.Oracle, a.cfg.Oracle.Freshness(), a.logger).
		WithWebhook(deps.PriceSink, a.cfg.Oracle.WebhookSecret, deps.Bus)
	if a.cfg.Oracle.WebhookSecret == "" {
		a.logger.WarnContext(ctx, "app: oracle webhook disabled, oracle.webhook_secret is empty")
	}
	admin := handler.NewAdminHandler(deps.Ledger, deps.Ledger, a.logger).WithAudit(deps.Audit)
	if deps.Exporter != nil {
		admin = admin.WithExporter(deps.Exporter, deps.Blobs)
	}

	proxies, err := sc.Proxies()
	if err != nil {
		a.logger.WarnContext(ctx, "app: ignoring trusted_proxies", slog.String("error", err.Error()))
	}

	srv := server.NewServer(server.Config{
		Port:        sc.Port,
		CORSOrigins: sc.CORSOrigins,
		Auth: middleware.AuthConfig{
			APIKey:     sc.APIKey,
			APIKeyHash: sc.APIKeyHash,
		},
		Identity: middleware.IdentityConfig{
			Required: sc.RequireSignatures,
			MaxAge:   sc.SignatureWindow(),
		},
		Limiter:        deps.Limiter,
		RateLimit:      sc.RateLimitPerMinute,
		RateWindow:     time.Minute,
		TrustedProxies: proxies,
	}, server.Handlers{
		Health:   handler.NewHealthHandler(deps.Checks, a.logger),
		Status:   handler.NewStatusHandler(a.cfg.Mode, deps.Asset, a.startedAt, deps.Ledger),
		Ledger:   handler.NewLedgerHandler(deps.Ledger, a.cfg.Ledger.PriceDecimals, a.logger),
		Admin:    admin,
		Oracle:   oracleH,
		Funding:  handler.NewFundingHandler(deps.Ledger, a.logger),
		Metrics:  deps.Metrics.Handler(),
		Observer: deps.Metrics,
	}, hub, a.logger)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			a.logger.WarnContext(shutCtx, "http server shutdown", slog.String("error", err.Error()))
			return err
		}
		return nil
	})
}
