package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/perpledger/internal/crypto"
	"github.com/alanyoungcy/perpledger/internal/domain"
	"github.com/alanyoungcy/perpledger/internal/oracle"
)

// WebhookSignatureHeader carries the hex HMAC-SHA256 of a webhook body.
const WebhookSignatureHeader = "X-Reflector-Signature"

// PriceSink stores pushed oracle observations.
type PriceSink interface {
	SetPrice(ctx context.Context, asset string, price int64, ts time.Time) error
}

// OracleHandler serves oracle queries and ingests price pushes.
type OracleHandler struct {
	oracle    domain.Oracle
	freshness time.Duration
	sink      PriceSink        // optional
	bus       domain.SignalBus // optional
	secret    string
	now       func() time.Time
	logger    *slog.Logger
}

// NewOracleHandler creates an OracleHandler. The webhook answers 501 until
// WithWebhook is called with a sink and a non-empty secret.
func NewOracleHandler(o domain.Oracle, freshness time.Duration, logger *slog.Logger) *OracleHandler {
	return &OracleHandler{oracle: o, freshness: freshness, now: time.Now, logger: logger}
}

// WithWebhook enables price ingestion into sink. Every push must carry a
// valid signature for secret; with an empty secret the webhook stays
// disabled, since the route is served without an API key. bus may be nil.
func (h *OracleHandler) WithWebhook(sink PriceSink, secret string, bus domain.SignalBus) *OracleHandler {
	h.sink = sink
	h.secret = secret
	h.bus = bus
	return h
}

type oracleInfo struct {
	Base          domain.Asset `json:"base"`
	Decimals      uint32       `json:"decimals"`
	Resolution    uint32       `json:"resolution"`
	LastTimestamp *time.Time   `json:"last_timestamp"`
	Fresh         bool         `json:"fresh"`
}

// Info describes the oracle.
// GET /api/oracle
func (h *OracleHandler) Info(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var info oracleInfo
	var err error
	if info.Base, err = h.oracle.Base(ctx); err != nil {
		h.oracleFailure(w, r, "oracle info", err)
		return
	}
	if info.Decimals, err = h.oracle.Decimals(ctx); err != nil {
		h.oracleFailure(w, r, "oracle info", err)
		return
	}
	if info.Resolution, err = h.oracle.Resolution(ctx); err != nil {
		h.oracleFailure(w, r, "oracle info", err)
		return
	}
	ts, err := h.oracle.LastTimestamp(ctx)
	if err != nil {
		h.oracleFailure(w, r, "oracle info", err)
		return
	}
	if !ts.IsZero() {
		info.LastTimestamp = &ts
	}
	info.Fresh = oracle.IsFresh(h.now(), ts, h.freshness)
	writeJSON(w, http.StatusOK, info)
}

// Assets lists the quoted assets.
// GET /api/oracle/assets
func (h *OracleHandler) Assets(w http.ResponseWriter, r *http.Request) {
	assets, err := h.oracle.Assets(r.Context())
	if err != nil {
		h.oracleFailure(w, r, "oracle assets", err)
		return
	}
	if assets == nil {
		assets = []domain.Asset{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"assets": assets})
}

type priceResponse struct {
	Asset     domain.Asset `json:"asset"`
	Price     int64        `json:"price"`
	Display   string       `json:"display"`
	Timestamp time.Time    `json:"timestamp"`
	Fresh     bool         `json:"fresh"`
}

// Price returns the latest quote for {asset}.
// GET /api/oracle/prices/{asset}
func (h *OracleHandler) Price(w http.ResponseWriter, r *http.Request) {
	asset, err := domain.ParseAsset(r.PathValue("asset"))
	if err != nil {
		writeLedgerError(w, r, h.logger, "oracle price", err)
		return
	}
	pd, ok, err := h.oracle.LastPrice(r.Context(), asset)
	if err != nil {
		h.oracleFailure(w, r, "oracle price", err)
		return
	}
	if !ok {
		writeLedgerError(w, r, h.logger, "oracle price", fmt.Errorf("%w: no price for %s", domain.ErrNotFound, asset))
		return
	}
	writeJSON(w, http.StatusOK, h.price(r.Context(), asset, pd))
}

// TWAP averages the newest N records for {asset}.
// GET /api/oracle/twap/{asset}?records=N
func (h *OracleHandler) TWAP(w http.ResponseWriter, r *http.Request) {
	asset, err := domain.ParseAsset(r.PathValue("asset"))
	if err != nil {
		writeLedgerError(w, r, h.logger, "oracle twap", err)
		return
	}
	records, err := strconv.ParseUint(r.URL.Query().Get("records"), 10, 32)
	if err != nil || records == 0 {
		writeLedgerError(w, r, h.logger, "oracle twap", fmt.Errorf("%w: records must be a positive integer", domain.ErrInvalidInput))
		return
	}
	twap, ok, err := h.oracle.TWAP(r.Context(), asset, uint32(records))
	if err != nil {
		h.oracleFailure(w, r, "oracle twap", err)
		return
	}
	if !ok {
		writeLedgerError(w, r, h.logger, "oracle twap",
			fmt.Errorf("%w: fewer than %d records for %s", domain.ErrNotFound, records, asset))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"asset": asset, "records": records, "twap": twap})
}

// Cross prices base in units of quote.
// GET /api/oracle/cross?base=&quote=
func (h *OracleHandler) Cross(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	base, err := domain.ParseAsset(q.Get("base"))
	if err != nil {
		writeLedgerError(w, r, h.logger, "cross price", err)
		return
	}
	quote, err := domain.ParseAsset(q.Get("quote"))
	if err != nil {
		writeLedgerError(w, r, h.logger, "cross price", err)
		return
	}
	pd, ok, err := oracle.CrossPrice(r.Context(), h.oracle, base, quote)
	if err != nil {
		h.oracleFailure(w, r, "cross price", err)
		return
	}
	if !ok {
		writeLedgerError(w, r, h.logger, "cross price",
			fmt.Errorf("%w: no cross price for %s/%s", domain.ErrNotFound, base, quote))
		return
	}
	resp := h.price(r.Context(), base, pd)
	writeJSON(w, http.StatusOK, map[string]any{
		"base":      base,
		"quote":     quote,
		"price":     resp.Price,
		"display":   resp.Display,
		"timestamp": resp.Timestamp,
		"fresh":     resp.Fresh,
	})
}

func (h *OracleHandler) price(ctx context.Context, asset domain.Asset, pd domain.PriceData) priceResponse {
	decimals, err := h.oracle.Decimals(ctx)
	if err != nil {
		decimals = 0
	}
	return priceResponse{
		Asset:     asset,
		Price:     pd.Price,
		Display:   oracle.Display(pd.Price, decimals),
		Timestamp: pd.Timestamp,
		Fresh:     oracle.IsFresh(h.now(), pd.Timestamp, h.freshness),
	}
}

// webhookPayload is the subset of an oracle price push that is used.
type webhookPayload struct {
	Update struct {
		Event *struct {
			Base struct {
				Asset string `json:"asset"`
			} `json:"base"`
			Quote struct {
				Asset string `json:"asset"`
			} `json:"quote"`
			Decimals  *uint32 `json:"decimals"`
			Price     string  `json:"price"`
			Timestamp int64   `json:"timestamp"`
		} `json:"event"`
	} `json:"update"`
}

// OracleEvent is published on the oracle channel for each accepted push.
type OracleEvent struct {
	Type      string    `json:"event"`
	Asset     string    `json:"asset"`
	Quote     string    `json:"quote,omitempty"`
	Price     int64     `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// Webhook ingests one price push.
// POST /api/oracle/webhook
func (h *OracleHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	if h.sink == nil || h.secret == "" {
		writeError(w, http.StatusNotImplemented, "price ingestion is not configured")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if !crypto.VerifyWebhook(h.secret, body, r.Header.Get(WebhookSignatureHeader)) {
		h.logger.WarnContext(r.Context(), "handler: webhook signature rejected")
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil || payload.Update.Event == nil {
		writeError(w, http.StatusBadRequest, "invalid webhook payload")
		return
	}
	ev := payload.Update.Event

	asset, err := domain.ParseAsset(ev.Base.Asset)
	if err != nil {
		writeLedgerError(w, r, h.logger, "webhook", err)
		return
	}
	raw, err := strconv.ParseInt(ev.Price, 10, 64)
	if err != nil || raw <= 0 {
		writeLedgerError(w, r, h.logger, "webhook", fmt.Errorf("%w: price must be a positive integer string", domain.ErrInvalidInput))
		return
	}
	decimals, err := h.oracle.Decimals(r.Context())
	if err != nil {
		h.oracleFailure(w, r, "webhook", err)
		return
	}
	price := raw
	if ev.Decimals != nil {
		if price, err = oracle.Rescale(raw, *ev.Decimals, decimals); err != nil {
			writeLedgerError(w, r, h.logger, "webhook", err)
			return
		}
	}
	ts := eventTime(ev.Timestamp, h.now())

	if err := h.sink.SetPrice(r.Context(), asset.Key(), price, ts); err != nil {
		h.oracleFailure(w, r, "webhook", err)
		return
	}
	h.logger.InfoContext(r.Context(), "handler: oracle price ingested",
		slog.String("asset", asset.Key()),
		slog.Int64("price", price),
		slog.Time("timestamp", ts),
	)

	evt := OracleEvent{Type: "oracle_price", Asset: asset.Key(), Quote: ev.Quote.Asset, Price: price, Timestamp: ts}
	h.publish(r.Context(), evt)
	writeJSON(w, http.StatusOK, evt)
}

func (h *OracleHandler) publish(ctx context.Context, evt OracleEvent) {
	if h.bus == nil {
		return
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	if err := h.bus.Publish(ctx, domain.ChannelOracle, data); err != nil {
		h.logger.WarnContext(ctx, "handler: publish oracle event failed", slog.String("error", err.Error()))
	}
}

// oracleFailure answers 503 for transport errors and the usual kind mapping
// for everything else.
func (h *OracleHandler) oracleFailure(w http.ResponseWriter, r *http.Request, op string, err error) {
	if domain.KindOf(err) == domain.KindInternal {
		err = fmt.Errorf("%w: %v", domain.ErrOracleUnavailable, err)
	}
	writeLedgerError(w, r, h.logger, op, err)
}

// eventTime reads a push timestamp given in seconds or milliseconds. Zero
// means now.
func eventTime(ts int64, now time.Time) time.Time {
	switch {
	case ts <= 0:
		return now.UTC()
	case ts > 1e12:
		return time.UnixMilli(ts).UTC()
	default:
		return time.Unix(ts, 0).UTC()
	}
}
