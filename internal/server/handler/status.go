package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/alanyoungcy/perpledger/internal/domain"
)

// StatsSource reports ledger stats for the status endpoint.
type StatsSource interface {
	GetStats(ctx context.Context) (domain.Stats, error)
}

// StatusHandler serves the process status: run mode, traded asset, uptime
// and, once initialized, the ledger stats.
type StatusHandler struct {
	Mode      string
	Asset     domain.Asset
	StartedAt time.Time
	stats     StatsSource
	now       func() time.Time
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode string, asset domain.Asset, startedAt time.Time, stats StatsSource) *StatusHandler {
	return &StatusHandler{Mode: mode, Asset: asset, StartedAt: startedAt, stats: stats, now: time.Now}
}

// GetStatus responds with the mode, asset and uptime. ledger is null while
// the ledger is uninitialized.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"mode":           h.Mode,
		"asset":          h.Asset.Key(),
		"started_at":     h.StartedAt.UTC().Format(time.RFC3339),
		"uptime_seconds": int64(h.now().Sub(h.StartedAt).Seconds()),
		"ledger":         nil,
	}
	if st, err := h.stats.GetStats(r.Context()); err == nil {
		body["ledger"] = st
	}
	writeJSON(w, http.StatusOK, body)
}
