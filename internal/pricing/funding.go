package pricing

import (
	"fmt"
	"math/big"

	"github.com/alanyoungcy/perpledger/internal/domain"
)

const (
	// BaseFundingRateBps is the funding rate applied when spot and futures
	// agree: one basis point.
	BaseFundingRateBps int64 = 1
	// MaxFundingRateBps bounds the funding rate to [-10, 10] basis points.
	MaxFundingRateBps int64 = 10

	basisPoints = 10_000
)

// FundingRate derives the funding rate, in basis points, from the spread of
// the futures price over spot:
//
//	diff_bps = (futures - spot) * 10000 / spot
//	rate     = 1 + diff_bps / 100
//
// clamped to [-MaxFundingRateBps, MaxFundingRateBps]. spot must be non-zero.
func FundingRate(spot, futures int64) (int64, error) {
	if spot == 0 {
		return 0, fmt.Errorf("pricing: funding rate: spot price must be non-zero: %w", domain.ErrInvalidInput)
	}

	diffBps := new(big.Int).Sub(big.NewInt(futures), big.NewInt(spot))
	diffBps.Mul(diffBps, big.NewInt(basisPoints))
	diffBps.Quo(diffBps, big.NewInt(spot))

	rate := diffBps.Quo(diffBps, big.NewInt(100))
	rate.Add(rate, big.NewInt(BaseFundingRateBps))

	switch {
	case rate.Cmp(big.NewInt(MaxFundingRateBps)) > 0:
		return MaxFundingRateBps, nil
	case rate.Cmp(big.NewInt(-MaxFundingRateBps)) < 0:
		return -MaxFundingRateBps, nil
	default:
		return rate.Int64(), nil
	}
}
