package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpledger/internal/domain"
)

func scrape(t *testing.T, m *Ledger) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestObserveOperation(t *testing.T) {
	m := NewLedger("")

	m.ObserveOperation("open_position", "", time.Millisecond)
	m.ObserveOperation("open_position", "", time.Millisecond)
	m.ObserveOperation("open_position", domain.KindInvalidInput, time.Millisecond)

	body := scrape(t, m)
	assert.Contains(t, body, `perpledger_operations_total{op="open_position",result="ok"} 2`)
	assert.Contains(t, body, `perpledger_operations_total{op="open_position",result="InvalidInput"} 1`)
	assert.Contains(t, body, `perpledger_operation_duration_seconds_count{op="open_position"} 3`)
}

func TestGauges(t *testing.T) {
	m := NewLedger("test")

	m.SetBalance(1000)
	m.AddOpenPositions(2)
	m.AddOpenPositions(-1)
	m.SetOracleAge("XLM", 30*time.Second)

	body := scrape(t, m)
	assert.Contains(t, body, "test_balance 1000")
	assert.Contains(t, body, "test_open_positions 1")
	assert.Contains(t, body, `test_oracle_price_age_seconds{asset="XLM"} 30`)
}

func TestHandlerExposesHTTPAndRuntime(t *testing.T) {
	m := NewLedger("")
	m.ObserveHTTP(http.MethodGet, "/health", http.StatusOK, time.Millisecond)

	body := scrape(t, m)
	assert.Contains(t, body, `perpledger_http_requests_total{method="GET",route="/health",status="200"} 1`)
	assert.Contains(t, body, "go_goroutines")
}
