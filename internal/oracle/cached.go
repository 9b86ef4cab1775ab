package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/alanyoungcy/perpledger/internal/domain"
)

// CachedConfig configures the live oracle adapter.
type CachedConfig struct {
	Base       domain.Asset
	Assets     []domain.Asset
	Decimals   uint32
	Resolution uint32
}

// Cached is the live oracle adapter. It serves quotes from a PriceCache that
// is fed by the oracle's webhook pushes; the cache's bounded history backs
// TWAP queries.
type Cached struct {
	cache domain.PriceCache
	cfg   CachedConfig
}

// NewCached creates a Cached oracle over cache.
func NewCached(cache domain.PriceCache, cfg CachedConfig) *Cached {
	return &Cached{cache: cache, cfg: cfg}
}

func (c *Cached) Base(_ context.Context) (domain.Asset, error) {
	return c.cfg.Base, nil
}

// Assets merges the configured assets with every asset the cache has seen.
func (c *Cached) Assets(ctx context.Context) ([]domain.Asset, error) {
	seen := make(map[string]domain.Asset)
	for _, a := range c.cfg.Assets {
		seen[a.Key()] = a
	}
	keys, err := c.cache.Assets(ctx)
	if err != nil {
		return nil, fmt.Errorf("oracle: assets: %w", err)
	}
	for _, k := range keys {
		a, err := domain.ParseAsset(k)
		if err != nil {
			continue
		}
		seen[a.Key()] = a
	}
	out := make([]domain.Asset, 0, len(seen))
	for _, a := range seen {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

func (c *Cached) Decimals(_ context.Context) (uint32, error) {
	return c.cfg.Decimals, nil
}

func (c *Cached) Resolution(_ context.Context) (uint32, error) {
	return c.cfg.Resolution, nil
}

func (c *Cached) LastPrice(ctx context.Context, asset domain.Asset) (domain.PriceData, bool, error) {
	pd, err := c.cache.GetPrice(ctx, asset.Key())
	if errors.Is(err, domain.ErrNotFound) {
		return domain.PriceData{}, false, nil
	}
	if err != nil {
		return domain.PriceData{}, false, fmt.Errorf("oracle: last price %s: %w", asset, err)
	}
	return pd, true, nil
}

// TWAP averages the newest records observations. It is absent when fewer
// than records observations exist.
func (c *Cached) TWAP(ctx context.Context, asset domain.Asset, records uint32) (int64, bool, error) {
	if records == 0 {
		return 0, false, fmt.Errorf("oracle: twap: records must be positive: %w", domain.ErrInvalidInput)
	}
	hist, err := c.cache.History(ctx, asset.Key(), int(records))
	if err != nil {
		return 0, false, fmt.Errorf("oracle: twap %s: %w", asset, err)
	}
	if len(hist) < int(records) {
		return 0, false, nil
	}
	return average(hist[:records]), true, nil
}

func (c *Cached) LastTimestamp(ctx context.Context) (time.Time, error) {
	ts, err := c.cache.LastTimestamp(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("oracle: last timestamp: %w", err)
	}
	return ts, nil
}

func average(hist []domain.PriceData) int64 {
	sum := new(big.Int)
	for _, pd := range hist {
		sum.Add(sum, big.NewInt(pd.Price))
	}
	return sum.Quo(sum, big.NewInt(int64(len(hist)))).Int64()
}

var _ domain.Oracle = (*Cached)(nil)
