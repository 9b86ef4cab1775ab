// Package pricing holds the integer PnL and funding-rate formulas used by the
// ledger. All arithmetic is done on arbitrary-precision intermediates and
// divisions truncate toward zero.
package pricing

import (
	"fmt"
	"math/big"

	"github.com/alanyoungcy/perpledger/internal/domain"
)

// PnL returns the realized profit or loss of a position of the given size
// opened at entry and closed at exit:
//
//	long:  (exit - entry) * size / entry
//	short: (entry - exit) * size / entry
//
// entry must be positive; a zero entry price is rejected rather than divided
// by.
func PnL(entry, exit, size int64, side domain.Side) (int64, error) {
	if entry <= 0 {
		return 0, fmt.Errorf("pricing: pnl: entry price must be positive, got %d: %w", entry, domain.ErrInvalidInput)
	}
	if exit < 0 {
		return 0, fmt.Errorf("pricing: pnl: exit price must not be negative, got %d: %w", exit, domain.ErrInvalidInput)
	}
	if size <= 0 {
		return 0, fmt.Errorf("pricing: pnl: size must be positive, got %d: %w", size, domain.ErrInvalidInput)
	}

	diff := new(big.Int)
	switch side {
	case domain.SideLong:
		diff.Sub(big.NewInt(exit), big.NewInt(entry))
	case domain.SideShort:
		diff.Sub(big.NewInt(entry), big.NewInt(exit))
	default:
		return 0, fmt.Errorf("pricing: pnl: unknown side %q: %w", side, domain.ErrInvalidInput)
	}

	diff.Mul(diff, big.NewInt(size))
	diff.Quo(diff, big.NewInt(entry))
	if !diff.IsInt64() {
		return 0, fmt.Errorf("pricing: pnl overflows int64: %w", domain.ErrInvalidInput)
	}
	return diff.Int64(), nil
}

// Payout is the amount returned to the trader on close. It is margin+pnl when
// that sum is positive and exactly margin otherwise, so a close never pays
// back less than the posted margin.
func Payout(margin, pnl int64) (int64, error) {
	sum, ok := addInt64(margin, pnl)
	if !ok {
		return 0, fmt.Errorf("pricing: payout overflows int64: %w", domain.ErrInvalidInput)
	}
	if sum > 0 {
		return sum, nil
	}
	return margin, nil
}

// Size returns margin*leverage, rejecting products that do not fit in int64.
func Size(margin, leverage int64) (int64, error) {
	p := new(big.Int).Mul(big.NewInt(margin), big.NewInt(leverage))
	if !p.IsInt64() {
		return 0, fmt.Errorf("pricing: size overflows int64: %w", domain.ErrInvalidInput)
	}
	return p.Int64(), nil
}

func addInt64(a, b int64) (int64, bool) {
	s := a + b
	if (b > 0 && s < a) || (b < 0 && s > a) {
		return 0, false
	}
	return s, true
}
