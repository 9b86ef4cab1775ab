package pricing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpledger/internal/domain"
)

func TestPnL(t *testing.T) {
	tests := []struct {
		name  string
		entry int64
		exit  int64
		size  int64
		side  domain.Side
		want  int64
	}{
		{"long unchanged", 10_000_000, 10_000_000, 50_000_000, domain.SideLong, 0},
		{"long up 10%", 10_000_000, 11_000_000, 50_000_000, domain.SideLong, 5_000_000},
		{"long down 10%", 10_000_000, 9_000_000, 50_000_000, domain.SideLong, -5_000_000},
		{"short down 10%", 10_000_000, 9_000_000, 50_000_000, domain.SideShort, 5_000_000},
		{"short up 10%", 10_000_000, 11_000_000, 50_000_000, domain.SideShort, -5_000_000},
		{"truncates toward zero positive", 3, 4, 10, domain.SideLong, 3},
		{"truncates toward zero negative", 3, 2, 10, domain.SideLong, -3},
		{"exit at zero", 10, 0, 100, domain.SideLong, -100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PnL(tt.entry, tt.exit, tt.size, tt.side)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPnLRejectsInvalidInput(t *testing.T) {
	_, err := PnL(0, 10, 10, domain.SideLong)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = PnL(10, -1, 10, domain.SideLong)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = PnL(10, 10, 0, domain.SideShort)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = PnL(10, 10, 10, domain.Side("sideways"))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = PnL(1, math.MaxInt64, math.MaxInt64, domain.SideLong)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestPnLSign(t *testing.T) {
	const entry, size = 10_000_000, 50_000_000
	for _, exit := range []int64{1, 5_000_000, 9_999_999, 10_000_000, 10_000_001, 20_000_000} {
		long, err := PnL(entry, exit, size, domain.SideLong)
		require.NoError(t, err)
		short, err := PnL(entry, exit, size, domain.SideShort)
		require.NoError(t, err)

		assert.Equal(t, exit > entry, long > 0, "long exit=%d", exit)
		assert.Equal(t, exit < entry, short > 0, "short exit=%d", exit)
		if exit == entry {
			assert.Zero(t, long)
			assert.Zero(t, short)
		}
	}
}

func TestPayoutFloor(t *testing.T) {
	tests := []struct {
		margin, pnl, want int64
	}{
		{10_000_000, 0, 10_000_000},
		{10_000_000, 2_500_000, 12_500_000},
		{10_000_000, -4_000_000, 6_000_000},
		{10_000_000, -10_000_000, 10_000_000},
		{10_000_000, -50_000_000, 10_000_000},
	}
	for _, tt := range tests {
		got, err := Payout(tt.margin, tt.pnl)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "margin=%d pnl=%d", tt.margin, tt.pnl)
	}

	_, err := Payout(math.MaxInt64, 1)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSize(t *testing.T) {
	got, err := Size(10_000_000, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(50_000_000), got)

	_, err = Size(math.MaxInt64/2, 10)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestFundingRate(t *testing.T) {
	tests := []struct {
		name          string
		spot, futures int64
		want          int64
	}{
		{"one percent premium", 1_000_000, 1_010_000, 2},
		{"parity", 1_000_000, 1_000_000, 1},
		{"one percent discount", 1_000_000, 990_000, 0},
		{"small premium truncates", 1_000_000, 1_009_999, 1},
		{"clamped high", 1_000_000, 2_000_000, 10},
		{"clamped low", 1_000_000, 1, -10},
		{"negative spot", -1_000_000, -1_010_000, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FundingRate(tt.spot, tt.futures)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFundingRateBounded(t *testing.T) {
	prices := []int64{math.MinInt64, -1_000_000, -1, 1, 7, 1_000_000, math.MaxInt64}
	for _, spot := range prices {
		for _, futures := range append(prices, 0) {
			got, err := FundingRate(spot, futures)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, got, -MaxFundingRateBps)
			assert.LessOrEqual(t, got, MaxFundingRateBps)
		}
	}
}

func TestFundingRateZeroSpot(t *testing.T) {
	_, err := FundingRate(0, 1_000_000)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
