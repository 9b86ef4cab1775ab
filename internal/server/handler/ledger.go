package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/perpledger/internal/domain"
	"github.com/alanyoungcy/perpledger/internal/oracle"
)

// LedgerService is the part of the ledger the trader-facing endpoints use.
type LedgerService interface {
	Initialize(ctx context.Context, admin, oracleAddress string) error
	OpenPosition(ctx context.Context, trader string, margin, leverage int64, isLong bool) (uint64, error)
	ClosePosition(ctx context.Context, trader string, id uint64) (domain.CloseResult, error)
	GetPosition(ctx context.Context, id uint64) (domain.Position, error)
	GetTraderPositions(ctx context.Context, trader string) ([]uint64, error)
	GetBalance(ctx context.Context) (int64, error)
	GetStats(ctx context.Context) (domain.Stats, error)
	Positions(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error)
}

// LedgerHandler serves positions, balance and stats.
type LedgerHandler struct {
	ledger   LedgerService
	decimals uint32 // for display amounts
	logger   *slog.Logger
}

// NewLedgerHandler creates a LedgerHandler. decimals is the ledger's amount
// precision, used only to render display strings.
func NewLedgerHandler(ledger LedgerService, decimals uint32, logger *slog.Logger) *LedgerHandler {
	return &LedgerHandler{ledger: ledger, decimals: decimals, logger: logger}
}

type initializeRequest struct {
	Admin         string `json:"admin"`
	OracleAddress string `json:"oracle_address"`
}

// Initialize sets the admin and oracle of an empty ledger.
// POST /api/ledger/initialize
func (h *LedgerHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	var req initializeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeLedgerError(w, r, h.logger, "initialize", err)
		return
	}
	if err := checkCaller(r, req.Admin); err != nil {
		writeLedgerError(w, r, h.logger, "initialize", err)
		return
	}
	if err := h.ledger.Initialize(r.Context(), req.Admin, req.OracleAddress); err != nil {
		writeLedgerError(w, r, h.logger, "initialize", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "initialized"})
}

type openRequest struct {
	Trader   string `json:"trader"`
	Margin   int64  `json:"margin"`
	Leverage int64  `json:"leverage"`
	IsLong   bool   `json:"is_long"`
}

// OpenPosition opens a leveraged position at the current oracle price.
// POST /api/positions
func (h *LedgerHandler) OpenPosition(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeLedgerError(w, r, h.logger, "open position", err)
		return
	}
	if err := checkCaller(r, req.Trader); err != nil {
		writeLedgerError(w, r, h.logger, "open position", err)
		return
	}
	id, err := h.ledger.OpenPosition(r.Context(), req.Trader, req.Margin, req.Leverage, req.IsLong)
	if err != nil {
		writeLedgerError(w, r, h.logger, "open position", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uint64{"position_id": id})
}

type closeRequest struct {
	Trader string `json:"trader"`
}

type closeResponse struct {
	domain.CloseResult
	PayoutDisplay string `json:"payout_display"`
}

// ClosePosition settles a position and pays out the floored payout.
// POST /api/positions/{id}/close
func (h *LedgerHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeLedgerError(w, r, h.logger, "close position", err)
		return
	}
	var req closeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeLedgerError(w, r, h.logger, "close position", err)
		return
	}
	if err := checkCaller(r, req.Trader); err != nil {
		writeLedgerError(w, r, h.logger, "close position", err)
		return
	}
	res, err := h.ledger.ClosePosition(r.Context(), req.Trader, id)
	if err != nil {
		writeLedgerError(w, r, h.logger, "close position", err)
		return
	}
	writeJSON(w, http.StatusOK, closeResponse{
		CloseResult:   res,
		PayoutDisplay: oracle.Display(res.Payout, h.decimals),
	})
}

// GetPosition returns one position.
// GET /api/positions/{id}
func (h *LedgerHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeLedgerError(w, r, h.logger, "get position", err)
		return
	}
	pos, err := h.ledger.GetPosition(r.Context(), id)
	if err != nil {
		writeLedgerError(w, r, h.logger, "get position", err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// ListPositions pages through every position in id order.
// GET /api/positions?limit=&offset=
func (h *LedgerHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.ledger.Positions(r.Context(), parseListOpts(r))
	if err != nil {
		writeLedgerError(w, r, h.logger, "list positions", err)
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": positions})
}

// TraderPositions returns the ids opened by one trader, oldest first.
// GET /api/traders/{trader}/positions
func (h *LedgerHandler) TraderPositions(w http.ResponseWriter, r *http.Request) {
	trader := r.PathValue("trader")
	ids, err := h.ledger.GetTraderPositions(r.Context(), trader)
	if err != nil {
		writeLedgerError(w, r, h.logger, "trader positions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trader": trader, "position_ids": ids})
}

// Balance returns the pooled custody balance.
// GET /api/ledger/balance
func (h *LedgerHandler) Balance(w http.ResponseWriter, r *http.Request) {
	bal, err := h.ledger.GetBalance(r.Context())
	if err != nil {
		writeLedgerError(w, r, h.logger, "balance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"balance":         bal,
		"balance_display": oracle.Display(bal, h.decimals),
	})
}

// Stats returns balance, next id and the pause flag.
// GET /api/ledger/stats
func (h *LedgerHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.ledger.GetStats(r.Context())
	if err != nil {
		writeLedgerError(w, r, h.logger, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
