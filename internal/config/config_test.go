package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.Ledger.EnforcePause)
	assert.False(t, cfg.Ledger.RequireFreshPrice)
	assert.Equal(t, 300*time.Second, cfg.Oracle.Freshness())
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "full"

[ledger]
admin = "GADMIN"
oracle_address = "CORACLE"
max_leverage = 5

[storage]
driver = "sqlite"
sqlite_path = "/tmp/ledger.db"

[monitor]
interval = "1m"
`), 0o600))

	t.Setenv("PERPLEDGER_LEDGER_MAX_LEVERAGE", "3")
	t.Setenv("PERPLEDGER_SERVER_CORS_ORIGINS", " http://a , ,http://b")
	t.Setenv("PERPLEDGER_SERVER_SIGNATURE_MAX_AGE", "90s")
	t.Setenv("PERPLEDGER_ORACLE_DECIMALS", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "full", cfg.Mode)
	assert.Equal(t, "GADMIN", cfg.Ledger.Admin)
	assert.Equal(t, int64(3), cfg.Ledger.MaxLeverage, "env wins over file")
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, time.Minute, cfg.Monitor.Every())
	assert.Equal(t, []string{"http://a", "http://b"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 90*time.Second, cfg.Server.SignatureWindow())
	assert.Equal(t, uint32(7), cfg.Oracle.Decimals, "unparsable override is ignored")
	assert.Equal(t, int64(10_000_000), cfg.Ledger.MinMargin, "defaults survive")
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, "serve", cfg.Mode)
}

func TestLoadBadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("mode = "), 0o600))
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Ledger.MinMargin = 0
	cfg.Ledger.Admin = "GADMIN"
	cfg.Oracle.Driver = "cached"
	cfg.Custody.Driver = "stream"
	cfg.Storage.Driver = "bolt"
	cfg.Snapshot.Interval.Duration = time.Hour

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		`unknown mode "trade"`,
		"ledger: min_margin",
		"ledger: admin and oracle_address",
		"oracle: driver cached requires redis.addr",
		"custody: driver stream requires redis.addr",
		`storage: unknown driver "bolt"`,
		"snapshot: interval requires s3.bucket",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestValidatePositionPolicyBounds(t *testing.T) {
	tests := []struct {
		name      string
		margin    int64
		leverage  int64
		wantError string
	}{
		{"defaults", 10_000_000, 10, ""},
		{"tighter policy", 50_000_000, 3, ""},
		{"leverage above ten", 10_000_000, 50, "ledger: max_leverage must be in [1, 10]"},
		{"leverage zero", 10_000_000, 0, "ledger: max_leverage must be in [1, 10]"},
		{"margin below one unit", 1, 10, "ledger: min_margin must be >= 10000000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.Ledger.MinMargin = tt.margin
			cfg.Ledger.MaxLeverage = tt.leverage
			err := cfg.Validate()
			if tt.wantError == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantError)
		})
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Server.APIKey = "secret"
	cfg.Custody.PrivateKey = "0xabc"
	cfg.Oracle.WebhookSecret = "hook"
	cfg.Postgres.Password = ""

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Equal(t, "***", out.Custody.PrivateKey)
	assert.Equal(t, "***", out.Oracle.WebhookSecret)
	assert.Empty(t, out.Postgres.Password, "empty secrets stay empty")
	assert.Equal(t, "secret", cfg.Server.APIKey, "original untouched")

	out.Oracle.Assets[0] = "BTC"
	assert.Equal(t, "XLM", cfg.Oracle.Assets[0])
}

func TestTrustedProxies(t *testing.T) {
	cfg := Defaults()
	cfg.Server.TrustedProxies = []string{"10.0.0.0/8", " 192.0.2.7 ", "::1"}
	require.NoError(t, cfg.Validate())

	proxies, err := cfg.Server.Proxies()
	require.NoError(t, err)
	require.Len(t, proxies, 3)
	assert.Equal(t, "10.0.0.0/8", proxies[0].String())
	assert.Equal(t, "192.0.2.7/32", proxies[1].String())
	assert.Equal(t, "::1/128", proxies[2].String())

	cfg.Server.TrustedProxies = []string{"not-an-ip"}
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server: trusted_proxies")
}
