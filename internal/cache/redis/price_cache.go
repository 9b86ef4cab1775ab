package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/perpledger/internal/domain"
)

// DefaultHistoryLen bounds the per-asset history kept for TWAP.
const DefaultHistoryLen = 64

// PriceCache implements domain.PriceCache. Per asset it keeps:
//
//	price:{asset}      hash {price, ts} with the latest observation
//	price_hist:{asset} list of "price:ts" entries, newest first
//
// plus a sorted set price_ts scoring every asset by its latest timestamp,
// which serves Assets and LastTimestamp.
type PriceCache struct {
	c          *Client
	historyLen int64
}

// NewPriceCache creates a PriceCache keeping up to historyLen observations
// per asset.
func NewPriceCache(c *Client, historyLen int) *PriceCache {
	if historyLen <= 0 {
		historyLen = DefaultHistoryLen
	}
	return &PriceCache{c: c, historyLen: int64(historyLen)}
}

func (pc *PriceCache) latestKey(asset string) string  { return pc.c.Key("price", asset) }
func (pc *PriceCache) historyKey(asset string) string { return pc.c.Key("price_hist", asset) }
func (pc *PriceCache) indexKey() string               { return pc.c.Key("price_ts") }

// SetPrice records an observation atomically across all three structures.
func (pc *PriceCache) SetPrice(ctx context.Context, asset string, price int64, ts time.Time) error {
	nanos := ts.UnixNano()
	_, err := pc.c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, pc.latestKey(asset), map[string]any{
			"price": strconv.FormatInt(price, 10),
			"ts":    strconv.FormatInt(nanos, 10),
		})
		p.LPush(ctx, pc.historyKey(asset), encodeObservation(price, nanos))
		p.LTrim(ctx, pc.historyKey(asset), 0, pc.historyLen-1)
		p.ZAdd(ctx, pc.indexKey(), redis.Z{Score: float64(ts.Unix()), Member: asset})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: set price %s: %w", asset, err)
	}
	return nil
}

// GetPrice returns the latest observation, or domain.ErrNotFound.
func (pc *PriceCache) GetPrice(ctx context.Context, asset string) (domain.PriceData, error) {
	vals, err := pc.c.rdb.HGetAll(ctx, pc.latestKey(asset)).Result()
	if err != nil {
		return domain.PriceData{}, fmt.Errorf("redis: get price %s: %w", asset, err)
	}
	priceStr, okP := vals["price"]
	tsStr, okT := vals["ts"]
	if !okP || !okT {
		return domain.PriceData{}, domain.ErrNotFound
	}

	price, err := strconv.ParseInt(priceStr, 10, 64)
	if err != nil {
		return domain.PriceData{}, fmt.Errorf("redis: parse price %s: %w", asset, err)
	}
	nanos, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return domain.PriceData{}, fmt.Errorf("redis: parse ts %s: %w", asset, err)
	}
	return domain.PriceData{Price: price, Timestamp: time.Unix(0, nanos).UTC()}, nil
}

// History returns up to n observations, newest first.
func (pc *PriceCache) History(ctx context.Context, asset string, n int) ([]domain.PriceData, error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := pc.c.rdb.LRange(ctx, pc.historyKey(asset), 0, int64(n)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: price history %s: %w", asset, err)
	}
	out := make([]domain.PriceData, 0, len(raw))
	for _, r := range raw {
		pd, err := decodeObservation(r)
		if err != nil {
			return nil, fmt.Errorf("redis: price history %s: %w", asset, err)
		}
		out = append(out, pd)
	}
	return out, nil
}

// Assets lists every asset with at least one observation.
func (pc *PriceCache) Assets(ctx context.Context) ([]string, error) {
	assets, err := pc.c.rdb.ZRange(ctx, pc.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: price assets: %w", err)
	}
	return assets, nil
}

// LastTimestamp is the newest observation time across all assets, or
// domain.ErrNotFound when nothing has been recorded.
func (pc *PriceCache) LastTimestamp(ctx context.Context) (time.Time, error) {
	zs, err := pc.c.rdb.ZRevRangeWithScores(ctx, pc.indexKey(), 0, 0).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return time.Time{}, fmt.Errorf("redis: last timestamp: %w", err)
	}
	if len(zs) == 0 {
		return time.Time{}, domain.ErrNotFound
	}
	return time.Unix(int64(zs[0].Score), 0).UTC(), nil
}

func encodeObservation(price, nanos int64) string {
	return strconv.FormatInt(price, 10) + ":" + strconv.FormatInt(nanos, 10)
}

func decodeObservation(s string) (domain.PriceData, error) {
	priceStr, tsStr, ok := strings.Cut(s, ":")
	if !ok {
		return domain.PriceData{}, fmt.Errorf("malformed observation %q", s)
	}
	price, err := strconv.ParseInt(priceStr, 10, 64)
	if err != nil {
		return domain.PriceData{}, fmt.Errorf("malformed observation %q: %w", s, err)
	}
	nanos, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return domain.PriceData{}, fmt.Errorf("malformed observation %q: %w", s, err)
	}
	return domain.PriceData{Price: price, Timestamp: time.Unix(0, nanos).UTC()}, nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
