package ledger

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/perpledger/internal/domain"
	"github.com/alanyoungcy/perpledger/internal/oracle"
	"github.com/alanyoungcy/perpledger/internal/pricing"
)

// FundingRate returns the clamped funding rate in basis points for a
// spot/futures pair. A zero spot price is rejected.
func (l *Ledger) FundingRate(spot, futures int64) (int64, error) {
	rate, err := pricing.FundingRate(spot, futures)
	if err != nil {
		return 0, fmt.Errorf("ledger: funding rate: %w", err)
	}
	return rate, nil
}

// FundingRateFor is FundingRate gated on the oracle quoting both assets of
// the pair.
func (l *Ledger) FundingRateFor(ctx context.Context, base, quote domain.Asset, spot, futures int64) (int64, error) {
	for _, a := range []domain.Asset{base, quote} {
		_, ok, err := l.oracle.LastPrice(ctx, a)
		if err != nil {
			return 0, fmt.Errorf("ledger: funding rate: %w: %s: %v", domain.ErrOracleUnavailable, a, err)
		}
		if !ok {
			return 0, fmt.Errorf("ledger: funding rate: %w: no price for %s", domain.ErrOracleUnavailable, a)
		}
	}
	return l.FundingRate(spot, futures)
}

// IsPriceFresh reports whether the oracle quote for asset is within the
// freshness window. It is a query only; trading consults it only when
// RequireFreshPrice is set.
func (l *Ledger) IsPriceFresh(ctx context.Context, asset domain.Asset) (bool, error) {
	fresh, err := oracle.PriceFresh(ctx, l.oracle, asset, l.now(), l.cfg.Freshness)
	if err != nil {
		return false, fmt.Errorf("ledger: price freshness: %w", err)
	}
	return fresh, nil
}

// OracleFresh reports whether the oracle has updated within the freshness
// window.
func (l *Ledger) OracleFresh(ctx context.Context) (bool, error) {
	fresh, err := oracle.Fresh(ctx, l.oracle, l.now(), l.cfg.Freshness)
	if err != nil {
		return false, fmt.Errorf("ledger: oracle freshness: %w", err)
	}
	return fresh, nil
}

// Oracle exposes the ledger's price source for read-only queries.
func (l *Ledger) Oracle() domain.Oracle {
	return l.oracle
}

// Asset is the oracle asset positions are priced against.
func (l *Ledger) Asset() domain.Asset {
	return l.cfg.Asset
}
