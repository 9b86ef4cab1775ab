package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/perpledger/internal/domain"
)

// FundingService computes funding rates.
type FundingService interface {
	FundingRate(spot, futures int64) (int64, error)
	FundingRateFor(ctx context.Context, base, quote domain.Asset, spot, futures int64) (int64, error)
}

// FundingHandler serves the funding rate query.
type FundingHandler struct {
	funding FundingService
	logger  *slog.Logger
}

func NewFundingHandler(funding FundingService, logger *slog.Logger) *FundingHandler {
	return &FundingHandler{funding: funding, logger: logger}
}

// FundingRate returns the clamped rate in basis points. When base and quote
// are given both must have an oracle price.
// GET /api/funding-rate?spot=&futures=[&base=&quote=]
func (h *FundingHandler) FundingRate(w http.ResponseWriter, r *http.Request) {
	spot, err := queryInt64(r, "spot")
	if err != nil {
		writeLedgerError(w, r, h.logger, "funding rate", err)
		return
	}
	futures, err := queryInt64(r, "futures")
	if err != nil {
		writeLedgerError(w, r, h.logger, "funding rate", err)
		return
	}

	q := r.URL.Query()
	var rate int64
	if q.Get("base") != "" || q.Get("quote") != "" {
		base, err := domain.ParseAsset(q.Get("base"))
		if err != nil {
			writeLedgerError(w, r, h.logger, "funding rate", err)
			return
		}
		quote, err := domain.ParseAsset(q.Get("quote"))
		if err != nil {
			writeLedgerError(w, r, h.logger, "funding rate", err)
			return
		}
		rate, err = h.funding.FundingRateFor(r.Context(), base, quote, spot, futures)
		if err != nil {
			writeLedgerError(w, r, h.logger, "funding rate", err)
			return
		}
	} else {
		rate, err = h.funding.FundingRate(spot, futures)
		if err != nil {
			writeLedgerError(w, r, h.logger, "funding rate", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]int64{"rate_bps": rate, "spot": spot, "futures": futures})
}
