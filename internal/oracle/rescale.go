package oracle

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/perpledger/internal/domain"
)

// Rescale converts a fixed-point price with from decimals into one with to
// decimals, truncating any digits that do not fit.
func Rescale(price int64, from, to uint32) (int64, error) {
	if from == to {
		return price, nil
	}
	d := decimal.New(price, -int32(from)).Shift(int32(to)).Truncate(0)
	bi := d.BigInt()
	if !bi.IsInt64() {
		return 0, fmt.Errorf("oracle: rescale %d from %d to %d decimals overflows: %w", price, from, to, domain.ErrInvalidInput)
	}
	return bi.Int64(), nil
}

// Display renders a fixed-point amount as a decimal string, e.g.
// Display(12_500_000, 7) == "1.25".
func Display(amount int64, decimals uint32) string {
	return decimal.New(amount, -int32(decimals)).String()
}
