// Package oracle provides implementations of domain.Oracle and helpers built
// on top of it: freshness checks, cross prices and decimal rescaling.
package oracle

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/perpledger/internal/domain"
)

// StaticConfig configures a Static oracle.
type StaticConfig struct {
	Base       domain.Asset
	Assets     []domain.Asset
	Price      int64
	Decimals   uint32
	Resolution uint32
	// HistoryLen bounds the observations kept per asset for TWAP. Defaults
	// to DefaultHistoryLen.
	HistoryLen int
	// Now is the clock used to stamp constant prices. Defaults to time.Now.
	Now func() time.Time
}

// DefaultHistoryLen is the per-asset observation bound when none is set.
const DefaultHistoryLen = 256

// Static is an in-process oracle that quotes a constant price for each of its
// configured assets. Individual quotes can be overridden with Set, which makes
// it the usual stand-in for the live oracle in tests and local runs.
//
// Every Set is recorded as an observation. Once an asset has observations its
// TWAP behaves like Cached: absent until records observations exist. An
// asset still on the constant quote has an unbounded constant series, so its
// TWAP is that quote for any records.
type Static struct {
	mu         sync.RWMutex
	base       domain.Asset
	price      int64
	decimals   uint32
	resolution uint32
	historyLen int
	now        func() time.Time
	assets     map[string]domain.Asset
	history    map[string][]domain.PriceData // newest first
}

// NewStatic creates a Static oracle. The base asset is always quoted.
func NewStatic(cfg StaticConfig) *Static {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	historyLen := cfg.HistoryLen
	if historyLen <= 0 {
		historyLen = DefaultHistoryLen
	}
	s := &Static{
		base:       cfg.Base,
		price:      cfg.Price,
		decimals:   cfg.Decimals,
		resolution: cfg.Resolution,
		historyLen: historyLen,
		now:        now,
		assets:     make(map[string]domain.Asset),
		history:    make(map[string][]domain.PriceData),
	}
	if cfg.Base.Code != "" {
		s.assets[cfg.Base.Key()] = cfg.Base
	}
	for _, a := range cfg.Assets {
		s.assets[a.Key()] = a
	}
	return s
}

// Set records pd as the newest quote for asset, adding it to the asset list
// if needed.
func (s *Static) Set(asset domain.Asset, pd domain.PriceData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := asset.Key()
	s.assets[key] = asset
	hist := append([]domain.PriceData{pd}, s.history[key]...)
	if len(hist) > s.historyLen {
		hist = hist[:s.historyLen]
	}
	s.history[key] = hist
}

// Remove drops asset so that LastPrice reports it as absent.
func (s *Static) Remove(asset domain.Asset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.assets, asset.Key())
	delete(s.history, asset.Key())
}

func (s *Static) Base(_ context.Context) (domain.Asset, error) {
	return s.base, nil
}

func (s *Static) Assets(_ context.Context) ([]domain.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Asset, 0, len(s.assets))
	for _, a := range s.assets {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

func (s *Static) Decimals(_ context.Context) (uint32, error) {
	return s.decimals, nil
}

func (s *Static) Resolution(_ context.Context) (uint32, error) {
	return s.resolution, nil
}

func (s *Static) LastPrice(_ context.Context, asset domain.Asset) (domain.PriceData, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.quoteLocked(asset)
}

// TWAP averages the newest records observations, or returns the constant
// quote for an asset that has none.
func (s *Static) TWAP(_ context.Context, asset domain.Asset, records uint32) (int64, bool, error) {
	if records == 0 {
		return 0, false, fmt.Errorf("oracle: twap: records must be positive: %w", domain.ErrInvalidInput)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, known := s.assets[asset.Key()]; !known {
		return 0, false, nil
	}
	hist, observed := s.history[asset.Key()]
	if !observed {
		return s.price, true, nil
	}
	if len(hist) < int(records) {
		return 0, false, nil
	}
	return average(hist[:records]), true, nil
}

// LastTimestamp is the newest timestamp across all quotes.
func (s *Static) LastTimestamp(_ context.Context) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var last time.Time
	for key := range s.assets {
		pd, ok, _ := s.quoteLocked(s.assets[key])
		if ok && pd.Timestamp.After(last) {
			last = pd.Timestamp
		}
	}
	return last, nil
}

func (s *Static) quoteLocked(asset domain.Asset) (domain.PriceData, bool, error) {
	if _, known := s.assets[asset.Key()]; !known {
		return domain.PriceData{}, false, nil
	}
	if hist := s.history[asset.Key()]; len(hist) > 0 {
		return hist[0], true, nil
	}
	return domain.PriceData{Price: s.price, Timestamp: s.now()}, true, nil
}

var _ domain.Oracle = (*Static)(nil)

// SetPrice records a pushed observation for the asset named by key, so a
// Static oracle can sit behind the price webhook like the cached one.
func (s *Static) SetPrice(_ context.Context, key string, price int64, ts time.Time) error {
	asset, err := domain.ParseAsset(key)
	if err != nil {
		return err
	}
	s.Set(asset, domain.PriceData{Price: price, Timestamp: ts})
	return nil
}
