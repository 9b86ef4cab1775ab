package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads the TOML file at path over Defaults, loads .env when present and
// applies PERPLEDGER_* overrides. A missing file is not an error: defaults
// plus environment is a valid configuration. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// A missing .env is fine.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides overwrites fields whose PERPLEDGER_* variable is set and
// non-empty, so secrets can be injected at deploy time.
func applyEnvOverrides(cfg *Config) {
	// ── Ledger ──
	setStr(&cfg.Ledger.Admin, "PERPLEDGER_LEDGER_ADMIN")
	setStr(&cfg.Ledger.OracleAddress, "PERPLEDGER_LEDGER_ORACLE_ADDRESS")
	setStr(&cfg.Ledger.Asset, "PERPLEDGER_LEDGER_ASSET")
	setUint32(&cfg.Ledger.PriceDecimals, "PERPLEDGER_LEDGER_PRICE_DECIMALS")
	setInt64(&cfg.Ledger.MinMargin, "PERPLEDGER_LEDGER_MIN_MARGIN")
	setInt64(&cfg.Ledger.MaxLeverage, "PERPLEDGER_LEDGER_MAX_LEVERAGE")
	setBool(&cfg.Ledger.EnforcePause, "PERPLEDGER_LEDGER_ENFORCE_PAUSE")
	setBool(&cfg.Ledger.RequireFreshPrice, "PERPLEDGER_LEDGER_REQUIRE_FRESH_PRICE")

	// ── Oracle ──
	setStr(&cfg.Oracle.Driver, "PERPLEDGER_ORACLE_DRIVER")
	setInt64(&cfg.Oracle.StaticPrice, "PERPLEDGER_ORACLE_STATIC_PRICE")
	setUint32(&cfg.Oracle.Decimals, "PERPLEDGER_ORACLE_DECIMALS")
	setUint32(&cfg.Oracle.ResolutionSeconds, "PERPLEDGER_ORACLE_RESOLUTION_SECONDS")
	setStr(&cfg.Oracle.Base, "PERPLEDGER_ORACLE_BASE")
	setStringSlice(&cfg.Oracle.Assets, "PERPLEDGER_ORACLE_ASSETS")
	setInt(&cfg.Oracle.FreshnessSeconds, "PERPLEDGER_ORACLE_FRESHNESS_SECONDS")
	setInt(&cfg.Oracle.HistoryLen, "PERPLEDGER_ORACLE_HISTORY_LEN")
	setStr(&cfg.Oracle.WebhookSecret, "PERPLEDGER_ORACLE_WEBHOOK_SECRET")

	// ── Storage ──
	setStr(&cfg.Storage.Driver, "PERPLEDGER_STORAGE_DRIVER")
	setStr(&cfg.Storage.SQLitePath, "PERPLEDGER_STORAGE_SQLITE_PATH")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "PERPLEDGER_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // platform convention
	setStr(&cfg.Postgres.Host, "PERPLEDGER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PERPLEDGER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PERPLEDGER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PERPLEDGER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PERPLEDGER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PERPLEDGER_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PERPLEDGER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PERPLEDGER_POSTGRES_POOL_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "PERPLEDGER_POSTGRES_MAX_CONN_LIFETIME")
	setBool(&cfg.Postgres.RunMigrations, "PERPLEDGER_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "PERPLEDGER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PERPLEDGER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PERPLEDGER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PERPLEDGER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PERPLEDGER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PERPLEDGER_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "PERPLEDGER_REDIS_KEY_PREFIX")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "PERPLEDGER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PERPLEDGER_S3_REGION")
	setStr(&cfg.S3.Bucket, "PERPLEDGER_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "PERPLEDGER_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "PERPLEDGER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PERPLEDGER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PERPLEDGER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PERPLEDGER_S3_FORCE_PATH_STYLE")

	// ── Custody ──
	setStr(&cfg.Custody.Driver, "PERPLEDGER_CUSTODY_DRIVER")
	setStr(&cfg.Custody.Stream, "PERPLEDGER_CUSTODY_STREAM")
	setStr(&cfg.Custody.PrivateKey, "PERPLEDGER_CUSTODY_PRIVATE_KEY")
	setStr(&cfg.Custody.EncryptedKeyPath, "PERPLEDGER_CUSTODY_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Custody.KeyPassword, "PERPLEDGER_CUSTODY_KEY_PASSWORD")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "PERPLEDGER_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "PERPLEDGER_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PERPLEDGER_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "PERPLEDGER_SERVER_API_KEY")
	setStr(&cfg.Server.APIKeyHash, "PERPLEDGER_SERVER_API_KEY_HASH")
	setBool(&cfg.Server.RequireSignatures, "PERPLEDGER_SERVER_REQUIRE_SIGNATURES")
	setDuration(&cfg.Server.SignatureMaxAge, "PERPLEDGER_SERVER_SIGNATURE_MAX_AGE")
	setInt(&cfg.Server.RateLimitPerMinute, "PERPLEDGER_SERVER_RATE_LIMIT_PER_MINUTE")
	setStringSlice(&cfg.Server.TrustedProxies, "PERPLEDGER_SERVER_TRUSTED_PROXIES")

	// ── Monitor / Snapshot ──
	setDuration(&cfg.Monitor.Interval, "PERPLEDGER_MONITOR_INTERVAL")
	setDuration(&cfg.Monitor.LockTTL, "PERPLEDGER_MONITOR_LOCK_TTL")
	setDuration(&cfg.Snapshot.Interval, "PERPLEDGER_SNAPSHOT_INTERVAL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PERPLEDGER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PERPLEDGER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PERPLEDGER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PERPLEDGER_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "PERPLEDGER_MODE")
	setStr(&cfg.LogLevel, "PERPLEDGER_LOG_LEVEL")
}

// Each setter leaves dst alone when the variable is unset, empty or
// unparsable.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint32(dst *uint32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			*dst = uint32(n)
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var cleaned []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) > 0 {
		*dst = cleaned
	}
}
