// Package config defines the perpledger configuration and its validation.
package config

import (
	"fmt"
	"net/netip"
	"strings"
	"time"
)

// Config is the root configuration. Fields come from a TOML file and are then
// overridden by PERPLEDGER_* environment variables.
type Config struct {
	Ledger   LedgerConfig   `toml:"ledger"`
	Oracle   OracleConfig   `toml:"oracle"`
	Storage  StorageConfig  `toml:"storage"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Custody  CustodyConfig  `toml:"custody"`
	Server   ServerConfig   `toml:"server"`
	Monitor  MonitorConfig  `toml:"monitor"`
	Snapshot SnapshotConfig `toml:"snapshot"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// LedgerConfig holds the ledger policy. Admin and OracleAddress are only used
// to initialize an empty ledger at startup.
type LedgerConfig struct {
	Admin             string `toml:"admin"`
	OracleAddress     string `toml:"oracle_address"`
	Asset             string `toml:"asset"`
	PriceDecimals     uint32 `toml:"price_decimals"`
	MinMargin         int64  `toml:"min_margin"`
	MaxLeverage       int64  `toml:"max_leverage"`
	EnforcePause      bool   `toml:"enforce_pause"`
	RequireFreshPrice bool   `toml:"require_fresh_price"`
}

// OracleConfig selects the price source. "static" serves StaticPrice for
// every configured asset; "cached" reads prices pushed through the webhook
// into Redis.
type OracleConfig struct {
	Driver            string   `toml:"driver"`
	StaticPrice       int64    `toml:"static_price"`
	Decimals          uint32   `toml:"decimals"`
	ResolutionSeconds uint32   `toml:"resolution_seconds"`
	Base              string   `toml:"base"`
	Assets            []string `toml:"assets"`
	FreshnessSeconds  int      `toml:"freshness_seconds"`
	HistoryLen        int      `toml:"history_len"`
	WebhookSecret     string   `toml:"webhook_secret"`
}

// StorageConfig selects the ledger store.
type StorageConfig struct {
	Driver     string `toml:"driver"`
	SQLitePath string `toml:"sqlite_path"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN             string   `toml:"dsn"`
	Host            string   `toml:"host"`
	Port            int      `toml:"port"`
	Database        string   `toml:"database"`
	User            string   `toml:"user"`
	Password        string   `toml:"password"`
	SSLMode         string   `toml:"ssl_mode"`
	PoolMaxConns    int      `toml:"pool_max_conns"`
	PoolMinConns    int      `toml:"pool_min_conns"`
	MaxConnLifetime duration `toml:"max_conn_lifetime"`
	RunMigrations   bool     `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. An empty Addr disables
// Redis and every component that needs it.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters. An empty Bucket
// disables snapshot export.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// CustodyConfig selects how transfers are carried out. "stream" appends
// signed transfer instructions to a Redis stream for a settlement worker.
type CustodyConfig struct {
	Driver           string `toml:"driver"`
	Stream           string `toml:"stream"`
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled            bool     `toml:"enabled"`
	Port               int      `toml:"port"`
	CORSOrigins        []string `toml:"cors_origins"`
	APIKey             string   `toml:"api_key"`
	APIKeyHash         string   `toml:"api_key_hash"`
	RequireSignatures  bool     `toml:"require_signatures"`
	SignatureMaxAge    duration `toml:"signature_max_age"`
	RateLimitPerMinute int      `toml:"rate_limit_per_minute"`
	TrustedProxies     []string `toml:"trusted_proxies"`
}

// MonitorConfig drives the stale-oracle monitor.
type MonitorConfig struct {
	Interval duration `toml:"interval"`
	LockTTL  duration `toml:"lock_ttl"`
}

// SnapshotConfig schedules periodic snapshot export. A zero Interval means
// snapshots are only taken on demand.
type SnapshotConfig struct {
	Interval duration `toml:"interval"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration lets TOML carry strings such as "30s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the built-in configuration. config.example.toml mirrors
// it.
func Defaults() Config {
	return Config{
		Ledger: LedgerConfig{
			Asset:         "XLM",
			PriceDecimals: 7,
			MinMargin:     10_000_000,
			MaxLeverage:   10,
			EnforcePause:  true,
		},
		Oracle: OracleConfig{
			Driver:            "static",
			StaticPrice:       1_000_000,
			Decimals:          7,
			ResolutionSeconds: 300,
			Base:              "USD",
			Assets:            []string{"XLM"},
			FreshnessSeconds:  300,
			HistoryLen:        256,
		},
		Storage: StorageConfig{
			Driver:     "memory",
			SQLitePath: "perpledger.db",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "perpledger",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "perpledger",
		},
		S3: S3Config{
			Region:         "us-east-1",
			Prefix:         "perpledger",
			ForcePathStyle: true,
		},
		Custody: CustodyConfig{
			Driver: "simulated",
			Stream: "custody:transfers",
		},
		Server: ServerConfig{
			Enabled:            true,
			Port:               8080,
			SignatureMaxAge:    duration{5 * time.Minute},
			RateLimitPerMinute: 120,
		},
		Monitor: MonitorConfig{
			Interval: duration{30 * time.Second},
			LockTTL:  duration{25 * time.Second},
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// Durations exposed as plain time.Duration for callers outside the package.
func (c ServerConfig) SignatureWindow() time.Duration { return c.SignatureMaxAge.Duration }
func (c MonitorConfig) Every() time.Duration          { return c.Interval.Duration }
func (c MonitorConfig) TTL() time.Duration            { return c.LockTTL.Duration }
func (c SnapshotConfig) Every() time.Duration         { return c.Interval.Duration }
func (c PostgresConfig) Lifetime() time.Duration      { return c.MaxConnLifetime.Duration }

// Proxies parses TrustedProxies. A bare address is treated as a single-host
// prefix.
func (c ServerConfig) Proxies() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, raw := range c.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, err
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// Freshness returns the oracle freshness window.
func (c OracleConfig) Freshness() time.Duration {
	return time.Duration(c.FreshnessSeconds) * time.Second
}

// Position policy bounds. Config may tighten them, never loosen them.
const (
	minMarginFloor  int64 = 10_000_000
	leverageCeiling int64 = 10
)

var validModes = map[string]bool{
	"serve":   true,
	"monitor": true,
	"full":    true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks every section and returns one error listing all problems.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, monitor, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Ledger
	if strings.TrimSpace(c.Ledger.Asset) == "" {
		errs = append(errs, "ledger: asset must not be empty")
	}
	if c.Ledger.MinMargin < minMarginFloor {
		errs = append(errs, fmt.Sprintf("ledger: min_margin must be >= %d", minMarginFloor))
	}
	if c.Ledger.MaxLeverage < 1 || c.Ledger.MaxLeverage > leverageCeiling {
		errs = append(errs, fmt.Sprintf("ledger: max_leverage must be in [1, %d]", leverageCeiling))
	}
	if c.Ledger.PriceDecimals > 18 {
		errs = append(errs, "ledger: price_decimals must be <= 18")
	}
	if (c.Ledger.Admin == "") != (c.Ledger.OracleAddress == "") {
		errs = append(errs, "ledger: admin and oracle_address must be set together")
	}

	// Oracle
	redisOn := strings.TrimSpace(c.Redis.Addr) != ""
	switch c.Oracle.Driver {
	case "static":
		if c.Oracle.StaticPrice <= 0 {
			errs = append(errs, "oracle: static_price must be > 0")
		}
	case "cached":
		if !redisOn {
			errs = append(errs, "oracle: driver cached requires redis.addr")
		}
		if c.Oracle.HistoryLen < 1 {
			errs = append(errs, "oracle: history_len must be >= 1")
		}
	default:
		errs = append(errs, fmt.Sprintf("oracle: unknown driver %q (valid: static, cached)", c.Oracle.Driver))
	}
	if c.Oracle.Decimals > 18 {
		errs = append(errs, "oracle: decimals must be <= 18")
	}
	if c.Oracle.FreshnessSeconds <= 0 {
		errs = append(errs, "oracle: freshness_seconds must be > 0")
	}

	// Storage
	switch c.Storage.Driver {
	case "memory":
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			errs = append(errs, "storage: sqlite_path must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage: unknown driver %q (valid: memory, sqlite, postgres)", c.Storage.Driver))
	}

	// Redis
	if redisOn && c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Custody
	switch c.Custody.Driver {
	case "simulated":
	case "stream":
		if !redisOn {
			errs = append(errs, "custody: driver stream requires redis.addr")
		}
		if c.Custody.Stream == "" {
			errs = append(errs, "custody: stream must not be empty")
		}
		if c.Custody.EncryptedKeyPath != "" && c.Custody.KeyPassword == "" {
			errs = append(errs, "custody: key_password is required when encrypted_key_path is set")
		}
	default:
		errs = append(errs, fmt.Sprintf("custody: unknown driver %q (valid: simulated, stream)", c.Custody.Driver))
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimitPerMinute < 0 {
			errs = append(errs, "server: rate_limit_per_minute must be >= 0")
		}
		if _, err := c.Server.Proxies(); err != nil {
			errs = append(errs, fmt.Sprintf("server: trusted_proxies: %v", err))
		}
		if c.Server.RequireSignatures && c.Server.SignatureMaxAge.Duration <= 0 {
			errs = append(errs, "server: signature_max_age must be > 0 when require_signatures is set")
		}
	}

	// Monitor
	if strings.ToLower(c.Mode) != "serve" {
		if c.Monitor.Interval.Duration <= 0 {
			errs = append(errs, "monitor: interval must be > 0")
		}
		if c.Monitor.LockTTL.Duration <= 0 {
			errs = append(errs, "monitor: lock_ttl must be > 0")
		}
	}

	// Snapshot
	if c.Snapshot.Interval.Duration < 0 {
		errs = append(errs, "snapshot: interval must be >= 0")
	}
	if c.Snapshot.Interval.Duration > 0 && c.S3.Bucket == "" {
		errs = append(errs, "snapshot: interval requires s3.bucket")
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
