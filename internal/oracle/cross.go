package oracle

import (
	"context"
	"math/big"

	"github.com/alanyoungcy/perpledger/internal/domain"
)

// CrossPrice quotes base in units of quote:
//
//	base.price * 10^decimals / quote.price
//
// It is absent when either leg is absent or the quote leg is zero. The
// timestamp is the older of the two legs.
func CrossPrice(ctx context.Context, o domain.Oracle, base, quote domain.Asset) (domain.PriceData, bool, error) {
	b, ok, err := o.LastPrice(ctx, base)
	if err != nil || !ok {
		return domain.PriceData{}, false, err
	}
	q, ok, err := o.LastPrice(ctx, quote)
	if err != nil || !ok || q.Price == 0 {
		return domain.PriceData{}, false, err
	}
	decimals, err := o.Decimals(ctx)
	if err != nil {
		return domain.PriceData{}, false, err
	}

	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	p := new(big.Int).Mul(big.NewInt(b.Price), scale)
	p.Quo(p, big.NewInt(q.Price))
	if !p.IsInt64() {
		return domain.PriceData{}, false, nil
	}

	ts := b.Timestamp
	if q.Timestamp.Before(ts) {
		ts = q.Timestamp
	}
	return domain.PriceData{Price: p.Int64(), Timestamp: ts}, true, nil
}
