package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpledger/internal/crypto"
	"github.com/alanyoungcy/perpledger/internal/custody"
	"github.com/alanyoungcy/perpledger/internal/domain"
	"github.com/alanyoungcy/perpledger/internal/ledger"
	"github.com/alanyoungcy/perpledger/internal/metrics"
	"github.com/alanyoungcy/perpledger/internal/oracle"
	"github.com/alanyoungcy/perpledger/internal/server/handler"
	"github.com/alanyoungcy/perpledger/internal/server/middleware"
	"github.com/alanyoungcy/perpledger/internal/server/ws"
	"github.com/alanyoungcy/perpledger/internal/store/memory"
)

const (
	apiKey  = "test-key"
	testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
)

type harness struct {
	srv    *httptest.Server
	bus    *memory.SignalBus
	signer *crypto.Signer
}

func newHarness(t *testing.T, requireSig bool) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	bus := memory.NewSignalBus()
	prices := oracle.NewStatic(oracle.StaticConfig{
		Assets:   []domain.Asset{domain.OtherAsset("XLM")},
		Price:    10_000_000,
		Decimals: 7,
	})
	m := metrics.NewLedger(metrics.DefaultNamespace)
	l := ledger.New(ledger.DefaultConfig(), memory.NewLedgerStore(), prices,
		custody.NewSimulated(logger), logger,
		ledger.WithEvents(bus),
		ledger.WithObserver(m),
	)

	hub := ws.NewHub(bus, ws.Config{
		Mode: "serve",
		Status: func(ctx context.Context) (any, error) {
			return l.GetStats(ctx)
		},
	}, logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = hub.Run(ctx) }()

	s := NewServer(Config{
		Auth:       middleware.AuthConfig{APIKey: apiKey},
		Identity:   middleware.IdentityConfig{Required: requireSig, MaxAge: time.Minute},
		Limiter:    middleware.NewLocalLimiter(),
		RateLimit:  1000,
		RateWindow: time.Minute,
	}, Handlers{
		Health:   handler.NewHealthHandler(nil, logger),
		Ledger:   handler.NewLedgerHandler(l, ledger.PriceDecimals, logger),
		Admin:    handler.NewAdminHandler(l, l, logger),
		Oracle:   handler.NewOracleHandler(prices, time.Minute, logger),
		Funding:  handler.NewFundingHandler(l, logger),
		Metrics:  m.Handler(),
		Observer: m,
	}, hub, logger)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	signer, err := crypto.NewSigner(testKey)
	require.NoError(t, err)
	return &harness{srv: ts, bus: bus, signer: signer}
}

func (h *harness) request(t *testing.T, method, path, body string, key string, sign bool) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, h.srv.URL+path, bytes.NewBufferString(body))
	require.NoError(t, err)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	if sign {
		headers, err := h.signer.SignRequest(method, path, []byte(body), time.Now())
		require.NoError(t, err)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}
	resp, err := h.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestAuthAndPublicRoutes(t *testing.T) {
	h := newHarness(t, false)

	resp := h.request(t, http.MethodGet, "/api/health", "", "", false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(middleware.RequestIDHeader))

	resp = h.request(t, http.MethodGet, "/api/ledger/stats", "", "", false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = h.request(t, http.MethodGet, "/api/ledger/stats", "", apiKey, false)
	assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)

	resp = h.request(t, http.MethodGet, "/metrics", "", "", false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `route="GET /api/ledger/stats"`)
}

func TestSignedTradingFlow(t *testing.T) {
	h := newHarness(t, true)
	addr := h.signer.Address()

	open := `{"trader":"` + addr + `","margin":10000000,"leverage":2,"is_long":true}`
	resp := h.request(t, http.MethodPost, "/api/positions", open, apiKey, false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = h.request(t, http.MethodPost, "/api/ledger/initialize",
		`{"admin":"`+addr+`","oracle_address":"CORACLE"}`, apiKey, true)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = h.request(t, http.MethodPost, "/api/positions", open, apiKey, true)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	other := `{"trader":"GALICE","margin":10000000,"leverage":2,"is_long":true}`
	resp = h.request(t, http.MethodPost, "/api/positions", other, apiKey, true)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = h.request(t, http.MethodPost, "/api/positions/1/close", `{"trader":"`+addr+`"}`, apiKey, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res domain.CloseResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, int64(10_000_000), res.Payout)
}

func TestWebSocketRelaysLedgerEvents(t *testing.T) {
	h := newHarness(t, false)
	require.Eventually(t, func() bool {
		return h.bus.Subscribers(domain.ChannelLedger) == 1
	}, time.Second, 10*time.Millisecond)

	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"X-API-Key": []string{apiKey}})
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var frame struct {
		Channel string          `json:"channel"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "status", frame.Channel)
	assert.Contains(t, string(frame.Data), `"mode":"serve"`)

	resp := h.request(t, http.MethodPost, "/api/ledger/initialize",
		`{"admin":"GADMIN","oracle_address":"CORACLE"}`, apiKey, false)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, domain.ChannelLedger, frame.Channel)
	assert.Contains(t, string(frame.Data), ledger.EventInitialized)
}
