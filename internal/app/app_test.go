package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpledger/internal/config"
	"github.com/alanyoungcy/perpledger/internal/domain"
)

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Server.Enabled = false
	cfg.Ledger.Admin = "GADMIN"
	cfg.Ledger.OracleAddress = "CORACLE"
	return &cfg
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWireInMemory(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Oracle.Assets = []string{"XLM", "USDC"}

	deps, cleanup, err := Wire(ctx, cfg, discard())
	require.NoError(t, err)
	defer cleanup()

	assert.Nil(t, deps.Locks)
	assert.Nil(t, deps.Exporter)
	assert.Empty(t, deps.Checks)

	stats, err := deps.Ledger.GetStats(ctx)
	require.NoError(t, err)
	assert.True(t, stats.Active)
	assert.Equal(t, uint64(1), stats.NextPositionID)

	assets, err := deps.Oracle.Assets(ctx)
	require.NoError(t, err)
	assert.Len(t, assets, 3, "ledger asset, USDC and the USD base")

	id, err := deps.Ledger.OpenPosition(ctx, "GALICE", cfg.Ledger.MinMargin, 2, true)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)
}

func TestWireRejectsBadAsset(t *testing.T) {
	cfg := testConfig()
	cfg.Ledger.Asset = "stellar:"

	_, _, err := Wire(context.Background(), cfg, discard())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestLedgerConfigFromSettings(t *testing.T) {
	cfg := testConfig()
	cfg.Ledger.MaxLeverage = 5
	cfg.Ledger.RequireFreshPrice = true
	cfg.Oracle.FreshnessSeconds = 60

	lc := ledgerConfig(cfg, domain.OtherAsset("XLM"))
	assert.Equal(t, int64(5), lc.MaxLeverage)
	assert.True(t, lc.RequireFreshPrice)
	assert.True(t, lc.EnforcePause)
	assert.Equal(t, time.Minute, lc.Freshness)
}

func TestMonitorModeStopsOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = "monitor"
	a := New(cfg, discard())
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor mode did not stop")
	}
}
