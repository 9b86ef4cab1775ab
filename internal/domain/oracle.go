package domain

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// AssetKind distinguishes on-chain token assets from off-chain symbols.
type AssetKind string

const (
	AssetStellar AssetKind = "stellar" // identified by a contract address
	AssetOther   AssetKind = "other"   // identified by a ticker symbol
)

// Asset identifies a priced asset on the oracle.
type Asset struct {
	Kind AssetKind `json:"kind"`
	Code string    `json:"code"`
}

// OtherAsset returns a symbol-identified asset such as "BTC".
func OtherAsset(symbol string) Asset {
	return Asset{Kind: AssetOther, Code: strings.ToUpper(strings.TrimSpace(symbol))}
}

// ParseAsset accepts either "stellar:<address>", "other:<symbol>" or a bare
// symbol.
func ParseAsset(s string) (Asset, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Asset{}, fmt.Errorf("%w: empty asset", ErrInvalidInput)
	}
	kind, code, found := strings.Cut(s, ":")
	if !found {
		return OtherAsset(s), nil
	}
	switch AssetKind(strings.ToLower(kind)) {
	case AssetStellar:
		if code == "" {
			return Asset{}, fmt.Errorf("%w: empty asset address", ErrInvalidInput)
		}
		return Asset{Kind: AssetStellar, Code: code}, nil
	case AssetOther:
		if code == "" {
			return Asset{}, fmt.Errorf("%w: empty asset symbol", ErrInvalidInput)
		}
		return OtherAsset(code), nil
	default:
		return Asset{}, fmt.Errorf("%w: unknown asset kind %q", ErrInvalidInput, kind)
	}
}

// Key returns a stable cache key for the asset.
func (a Asset) Key() string {
	return string(a.Kind) + ":" + a.Code
}

func (a Asset) String() string {
	return a.Key()
}

// PriceData is a single oracle observation. Price is expressed with the
// oracle's Decimals.
type PriceData struct {
	Price     int64     `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// Oracle is the read-only price oracle consumed by the ledger. Absent values
// are reported with ok == false and a nil error; err is reserved for
// transport failures.
type Oracle interface {
	Base(ctx context.Context) (Asset, error)
	Assets(ctx context.Context) ([]Asset, error)
	Decimals(ctx context.Context) (uint32, error)
	LastPrice(ctx context.Context, asset Asset) (PriceData, bool, error)
	TWAP(ctx context.Context, asset Asset, records uint32) (int64, bool, error)
	Resolution(ctx context.Context) (uint32, error)
	LastTimestamp(ctx context.Context) (time.Time, error)
}
