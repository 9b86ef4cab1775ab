package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/perpledger/internal/blob/s3"
	"github.com/alanyoungcy/perpledger/internal/cache/redis"
	"github.com/alanyoungcy/perpledger/internal/config"
	"github.com/alanyoungcy/perpledger/internal/crypto"
	"github.com/alanyoungcy/perpledger/internal/custody"
	"github.com/alanyoungcy/perpledger/internal/domain"
	"github.com/alanyoungcy/perpledger/internal/ledger"
	"github.com/alanyoungcy/perpledger/internal/metrics"
	"github.com/alanyoungcy/perpledger/internal/notify"
	"github.com/alanyoungcy/perpledger/internal/oracle"
	"github.com/alanyoungcy/perpledger/internal/server/handler"
	"github.com/alanyoungcy/perpledger/internal/server/middleware"
	"github.com/alanyoungcy/perpledger/internal/snapshot"
	"github.com/alanyoungcy/perpledger/internal/store/memory"
	"github.com/alanyoungcy/perpledger/internal/store/postgres"
	"github.com/alanyoungcy/perpledger/internal/store/sqlite"
)

// Dependencies bundles everything the run modes need. It is built by Wire
// and torn down by the returned cleanup function.
type Dependencies struct {
	Ledger *ledger.Ledger
	Asset  domain.Asset

	// Stores
	Store domain.LedgerStore
	Audit domain.AuditStore

	// Oracle
	Oracle    domain.Oracle
	PriceSink handler.PriceSink

	// Redis-backed when redis.addr is set, in-process otherwise. Locks is
	// nil without Redis.
	Bus     domain.SignalBus
	Locks   domain.LockManager
	Limiter domain.RateLimiter

	Custody domain.Custody

	// Blob storage; nil without s3.bucket.
	Blobs    *s3blob.Store
	Exporter *snapshot.Exporter

	Notifier *notify.Notifier
	Metrics  *metrics.Ledger

	// Checks back /api/health.
	Checks map[string]handler.Check
}

// Wire constructs every dependency from cfg and returns them together with a
// cleanup function to call on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Checks: make(map[string]handler.Check)}

	asset, err := domain.ParseAsset(cfg.Ledger.Asset)
	if err != nil {
		return fail(fmt.Errorf("wire: ledger asset: %w", err))
	}
	deps.Asset = asset

	// --- Ledger store ---
	switch cfg.Storage.Driver {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:             cfg.Postgres.DSN,
			Host:            cfg.Postgres.Host,
			Port:            cfg.Postgres.Port,
			Database:        cfg.Postgres.Database,
			User:            cfg.Postgres.User,
			Password:        cfg.Postgres.Password,
			SSLMode:         cfg.Postgres.SSLMode,
			MaxConns:        cfg.Postgres.PoolMaxConns,
			MinConns:        cfg.Postgres.PoolMinConns,
			MaxConnLifetime: cfg.Postgres.Lifetime(),
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.Store = postgres.NewLedgerStore(pgClient.Pool())
		deps.Audit = postgres.NewAuditStore(pgClient.Pool())
		deps.Checks["postgres"] = pgClient.Ping

	case "sqlite":
		db, err := sqlite.Open(cfg.Storage.SQLitePath)
		if err != nil {
			return fail(fmt.Errorf("wire: sqlite: %w", err))
		}
		closers = append(closers, func() { _ = db.Close() })
		deps.Store = sqlite.NewLedgerStore(db)
		deps.Audit = sqlite.NewAuditStore(db)
		deps.Checks["sqlite"] = db.Ping

	default:
		deps.Store = memory.NewLedgerStore()
		deps.Audit = memory.NewAuditStore()
	}

	// --- Redis ---
	var redisClient *redis.Client
	if strings.TrimSpace(cfg.Redis.Addr) != "" {
		redisClient, err = redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Bus = redis.NewSignalBus(redisClient)
		deps.Locks = redis.NewLockManager(redisClient)
		deps.Limiter = redis.NewRateLimiter(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	} else {
		deps.Bus = memory.NewSignalBus()
		deps.Limiter = middleware.NewLocalLimiter()
	}

	// --- Oracle ---
	base, assets, err := oracleAssets(cfg.Oracle, asset)
	if err != nil {
		return fail(err)
	}
	switch cfg.Oracle.Driver {
	case "cached":
		prices := redis.NewPriceCache(redisClient, cfg.Oracle.HistoryLen)
		deps.Oracle = oracle.NewCached(prices, oracle.CachedConfig{
			Base:       base,
			Assets:     assets,
			Decimals:   cfg.Oracle.Decimals,
			Resolution: cfg.Oracle.ResolutionSeconds,
		})
		deps.PriceSink = prices
	default:
		static := oracle.NewStatic(oracle.StaticConfig{
			Base:       base,
			Assets:     assets,
			Price:      cfg.Oracle.StaticPrice,
			Decimals:   cfg.Oracle.Decimals,
			Resolution: cfg.Oracle.ResolutionSeconds,
			HistoryLen: cfg.Oracle.HistoryLen,
		})
		deps.Oracle = static
		deps.PriceSink = static
	}

	// --- Custody ---
	switch cfg.Custody.Driver {
	case "stream":
		key, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Custody.PrivateKey,
			EncryptedKeyPath: cfg.Custody.EncryptedKeyPath,
			KeyPassword:      cfg.Custody.KeyPassword,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: custody key: %w", err))
		}
		signer, err := crypto.NewSigner(key)
		if err != nil {
			return fail(fmt.Errorf("wire: custody signer: %w", err))
		}
		deps.Custody = custody.NewStream(deps.Bus, cfg.Custody.Stream, signer, logger)
		logger.InfoContext(ctx, "wire: custody instructions are signed",
			slog.String("signer", signer.Address()),
			slog.String("stream", cfg.Custody.Stream),
		)
	default:
		deps.Custody = custody.NewSimulated(logger)
	}

	// --- S3 blob storage (optional) ---
	if strings.TrimSpace(cfg.S3.Bucket) != "" {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Blobs = s3blob.NewStore(s3Client)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Notifications and metrics ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID, ""))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	deps.Metrics = metrics.NewLedger(metrics.DefaultNamespace)

	// --- Ledger ---
	deps.Ledger = ledger.New(ledgerConfig(cfg, asset), deps.Store, deps.Oracle, deps.Custody, logger,
		ledger.WithEvents(deps.Bus),
		ledger.WithAudit(deps.Audit),
		ledger.WithObserver(deps.Metrics),
		ledger.WithAlerter(deps.Notifier),
	)
	if deps.Blobs != nil {
		deps.Exporter = snapshot.NewExporter(deps.Ledger, deps.Audit, deps.Blobs, asset.Key(), logger)
	}

	if cfg.Ledger.Admin != "" {
		err := deps.Ledger.Initialize(ctx, cfg.Ledger.Admin, cfg.Ledger.OracleAddress)
		switch {
		case errors.Is(err, domain.ErrAlreadyInitialized):
		case err != nil:
			return fail(fmt.Errorf("wire: initialize ledger: %w", err))
		default:
			logger.InfoContext(ctx, "wire: ledger initialized from config", slog.String("admin", cfg.Ledger.Admin))
		}
	}
	if err := deps.Ledger.SyncObserver(ctx); err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}

	return deps, cleanup, nil
}

// ledgerConfig maps the ledger section onto the ledger policy.
func ledgerConfig(cfg *config.Config, asset domain.Asset) ledger.Config {
	lc := ledger.DefaultConfig()
	lc.Asset = asset
	lc.PriceDecimals = cfg.Ledger.PriceDecimals
	lc.MinMargin = cfg.Ledger.MinMargin
	lc.MaxLeverage = cfg.Ledger.MaxLeverage
	lc.EnforcePause = cfg.Ledger.EnforcePause
	lc.RequireFreshPrice = cfg.Ledger.RequireFreshPrice
	lc.Freshness = cfg.Oracle.Freshness()
	return lc
}

// oracleAssets parses the oracle's base and quoted assets. The ledger asset
// is always quoted.
func oracleAssets(cfg config.OracleConfig, ledgerAsset domain.Asset) (domain.Asset, []domain.Asset, error) {
	var base domain.Asset
	if strings.TrimSpace(cfg.Base) != "" {
		b, err := domain.ParseAsset(cfg.Base)
		if err != nil {
			return domain.Asset{}, nil, fmt.Errorf("wire: oracle base: %w", err)
		}
		base = b
	}
	assets := []domain.Asset{ledgerAsset}
	for _, s := range cfg.Assets {
		a, err := domain.ParseAsset(s)
		if err != nil {
			return domain.Asset{}, nil, fmt.Errorf("wire: oracle asset %q: %w", s, err)
		}
		if a.Key() != ledgerAsset.Key() {
			assets = append(assets, a)
		}
	}
	return base, assets, nil
}
