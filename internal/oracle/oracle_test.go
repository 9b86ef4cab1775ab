package oracle

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpledger/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeCache struct {
	mu   sync.Mutex
	hist map[string][]domain.PriceData
}

func newFakeCache() *fakeCache {
	return &fakeCache{hist: make(map[string][]domain.PriceData)}
}

func (f *fakeCache) SetPrice(_ context.Context, asset string, price int64, ts time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hist[asset] = append([]domain.PriceData{{Price: price, Timestamp: ts}}, f.hist[asset]...)
	return nil
}

func (f *fakeCache) GetPrice(_ context.Context, asset string) (domain.PriceData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := f.hist[asset]
	if len(h) == 0 {
		return domain.PriceData{}, domain.ErrNotFound
	}
	return h[0], nil
}

func (f *fakeCache) History(_ context.Context, asset string, n int) ([]domain.PriceData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := f.hist[asset]
	if len(h) > n {
		h = h[:n]
	}
	return append([]domain.PriceData(nil), h...), nil
}

func (f *fakeCache) Assets(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for k := range f.hist {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeCache) LastTimestamp(_ context.Context) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var last time.Time
	for _, h := range f.hist {
		if len(h) > 0 && h[0].Timestamp.After(last) {
			last = h[0].Timestamp
		}
	}
	if last.IsZero() {
		return time.Time{}, domain.ErrNotFound
	}
	return last, nil
}

func TestStaticQuotesConfiguredAssets(t *testing.T) {
	ctx := context.Background()
	xlm := domain.OtherAsset("XLM")
	o := NewStatic(StaticConfig{
		Base:     domain.OtherAsset("USD"),
		Assets:   []domain.Asset{xlm},
		Price:    10_000_000,
		Decimals: 7,
		Now:      func() time.Time { return t0 },
	})

	pd, ok, err := o.LastPrice(ctx, xlm)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(10_000_000), pd.Price)
	assert.Equal(t, t0, pd.Timestamp)

	_, ok, err = o.LastPrice(ctx, domain.OtherAsset("BTC"))
	require.NoError(t, err)
	assert.False(t, ok)

	twap, ok, err := o.TWAP(ctx, xlm, 5)
	require.NoError(t, err)
	require.True(t, ok, "the constant quote is an unbounded series")
	assert.Equal(t, int64(10_000_000), twap)

	o.Set(xlm, domain.PriceData{Price: 12_000_000, Timestamp: t0.Add(-time.Hour)})
	twap, ok, err = o.TWAP(ctx, xlm, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(12_000_000), twap)
	_, ok, err = o.TWAP(ctx, xlm, 5)
	require.NoError(t, err)
	assert.False(t, ok, "one observation cannot answer five")

	o.Remove(xlm)
	_, ok, err = o.LastPrice(ctx, xlm)
	require.NoError(t, err)
	assert.False(t, ok)

	assets, err := o.Assets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.Asset{domain.OtherAsset("USD")}, assets)
}

func TestStaticTWAPNeedsEnoughObservations(t *testing.T) {
	ctx := context.Background()
	xlm := domain.OtherAsset("XLM")
	o := NewStatic(StaticConfig{Assets: []domain.Asset{xlm}, Price: 1, Decimals: 7, HistoryLen: 3})

	for i, price := range []int64{10, 20, 30, 40} {
		o.Set(xlm, domain.PriceData{Price: price, Timestamp: t0.Add(time.Duration(i) * time.Minute)})
	}

	pd, ok, err := o.LastPrice(ctx, xlm)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(40), pd.Price)

	twap, ok, err := o.TWAP(ctx, xlm, 2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(35), twap)

	twap, ok, err = o.TWAP(ctx, xlm, 3)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(30), twap)

	_, ok, err = o.TWAP(ctx, xlm, 4)
	require.NoError(t, err)
	assert.False(t, ok, "history is bounded to three observations")

	_, ok, err = o.TWAP(ctx, domain.OtherAsset("BTC"), 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCachedLastPriceAndTWAP(t *testing.T) {
	ctx := context.Background()
	cache := newFakeCache()
	xlm := domain.OtherAsset("XLM")
	o := NewCached(cache, CachedConfig{Base: domain.OtherAsset("USD"), Decimals: 14, Resolution: 300})

	_, ok, err := o.LastPrice(ctx, xlm)
	require.NoError(t, err)
	assert.False(t, ok, "empty cache is absent, not an error")

	for i, p := range []int64{100, 200, 301} {
		require.NoError(t, cache.SetPrice(ctx, xlm.Key(), p, t0.Add(time.Duration(i)*time.Minute)))
	}

	pd, ok, err := o.LastPrice(ctx, xlm)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(301), pd.Price)

	twap, ok, err := o.TWAP(ctx, xlm, 2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(250), twap)

	twap, ok, err = o.TWAP(ctx, xlm, 3)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(200), twap)

	_, ok, err = o.TWAP(ctx, xlm, 4)
	require.NoError(t, err)
	assert.False(t, ok, "not enough records")

	_, _, err = o.TWAP(ctx, xlm, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	ts, err := o.LastTimestamp(ctx)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(2*time.Minute), ts)

	assets, err := o.Assets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.Asset{xlm}, assets)
}

func TestFreshness(t *testing.T) {
	ctx := context.Background()
	xlm := domain.OtherAsset("XLM")
	o := NewStatic(StaticConfig{Assets: []domain.Asset{xlm}, Price: 1})

	assert.False(t, IsFresh(t0, time.Time{}, DefaultFreshness))
	assert.True(t, IsFresh(t0, t0.Add(-300*time.Second), DefaultFreshness))
	assert.False(t, IsFresh(t0, t0.Add(-301*time.Second), DefaultFreshness))

	o.Set(xlm, domain.PriceData{Price: 1, Timestamp: t0.Add(-10 * time.Second)})
	fresh, err := PriceFresh(ctx, o, xlm, t0, DefaultFreshness)
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = Fresh(ctx, o, t0.Add(time.Hour), DefaultFreshness)
	require.NoError(t, err)
	assert.False(t, fresh)

	fresh, err = PriceFresh(ctx, o, domain.OtherAsset("BTC"), t0, DefaultFreshness)
	require.NoError(t, err)
	assert.False(t, fresh)
}

func TestCrossPrice(t *testing.T) {
	ctx := context.Background()
	btc, usdc := domain.OtherAsset("BTC"), domain.OtherAsset("USDC")
	o := NewStatic(StaticConfig{Decimals: 2})
	o.Set(btc, domain.PriceData{Price: 6_000_000, Timestamp: t0})
	o.Set(usdc, domain.PriceData{Price: 200, Timestamp: t0.Add(-time.Minute)})

	pd, ok, err := CrossPrice(ctx, o, btc, usdc)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(3_000_000), pd.Price)
	assert.Equal(t, t0.Add(-time.Minute), pd.Timestamp)

	o.Set(usdc, domain.PriceData{Price: 0, Timestamp: t0})
	_, ok, err = CrossPrice(ctx, o, btc, usdc)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = CrossPrice(ctx, o, btc, domain.OtherAsset("ETH"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRescale(t *testing.T) {
	got, err := Rescale(123_456_789_000_000, 14, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(12_345_678), got)

	got, err = Rescale(10_000_000, 7, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000_000), got)

	got, err = Rescale(15, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), got)

	got, err = Rescale(-19, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), got)

	_, err = Rescale(1<<62, 0, 10)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	assert.Equal(t, "1.25", Display(12_500_000, 7))
}

func TestStaticSetPrice(t *testing.T) {
	ctx := context.Background()
	o := NewStatic(StaticConfig{Decimals: 7})
	ts := time.Unix(1_700_000_000, 0).UTC()

	require.NoError(t, o.SetPrice(ctx, "other:btc", 650_000_000_000, ts))
	pd, ok, err := o.LastPrice(ctx, domain.OtherAsset("BTC"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(650_000_000_000), pd.Price)
	assert.Equal(t, ts, pd.Timestamp)

	require.ErrorIs(t, o.SetPrice(ctx, "bogus:x", 1, ts), domain.ErrInvalidInput)
}
