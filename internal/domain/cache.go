package domain

import (
	"context"
	"time"
)

// PriceCache stores the latest oracle observation per asset plus a bounded,
// newest-first history used for TWAP queries.
type PriceCache interface {
	SetPrice(ctx context.Context, asset string, price int64, ts time.Time) error
	GetPrice(ctx context.Context, asset string) (PriceData, error)
	History(ctx context.Context, asset string, n int) ([]PriceData, error)
	Assets(ctx context.Context) ([]string, error)
	LastTimestamp(ctx context.Context) (time.Time, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// Event channels published on the SignalBus.
const (
	ChannelLedger = "ledger"
	ChannelOracle = "oracle"
)

// RateLimiter decides whether a keyed request fits in limit per window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
