package oracle

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/perpledger/internal/domain"
)

// DefaultFreshness is the maximum age of a quote that is still usable.
const DefaultFreshness = 300 * time.Second

// IsFresh reports whether an observation taken at ts is no older than window
// at now. A zero timestamp is never fresh.
func IsFresh(now, ts time.Time, window time.Duration) bool {
	if ts.IsZero() {
		return false
	}
	return now.Sub(ts) <= window
}

// PriceFresh reports whether asset has a quote no older than window. An
// absent quote is not fresh.
func PriceFresh(ctx context.Context, o domain.Oracle, asset domain.Asset, now time.Time, window time.Duration) (bool, error) {
	pd, ok, err := o.LastPrice(ctx, asset)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return IsFresh(now, pd.Timestamp, window), nil
}

// Fresh reports whether the oracle as a whole has updated within window.
func Fresh(ctx context.Context, o domain.Oracle, now time.Time, window time.Duration) (bool, error) {
	ts, err := o.LastTimestamp(ctx)
	if err != nil {
		return false, fmt.Errorf("oracle: freshness: %w", err)
	}
	return IsFresh(now, ts, window), nil
}
