package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyNamespacing(t *testing.T) {
	c := Wrap(nil, "")
	assert.Equal(t, "perpledger:price:other:XLM", c.Key("price", "other:XLM"))

	c = Wrap(nil, "staging")
	assert.Equal(t, "staging:lock:oracle-monitor", c.Key("lock", "oracle-monitor"))
}

func TestObservationRoundTrip(t *testing.T) {
	ts := time.Date(2026, 6, 1, 0, 0, 0, 123, time.UTC)
	pd, err := decodeObservation(encodeObservation(-42, ts.UnixNano()))
	require.NoError(t, err)
	assert.Equal(t, int64(-42), pd.Price)
	assert.True(t, ts.Equal(pd.Timestamp))

	for _, bad := range []string{"", "12", "x:1", "1:y"} {
		_, err := decodeObservation(bad)
		assert.Error(t, err, bad)
	}
}

func TestHasPattern(t *testing.T) {
	assert.False(t, hasPattern("ledger"))
	assert.True(t, hasPattern("ledger*"))
	assert.True(t, hasPattern("orac?e"))
}

func TestPayloadBytes(t *testing.T) {
	b, ok := payloadBytes("abc")
	assert.True(t, ok)
	assert.Equal(t, []byte("abc"), b)

	_, ok = payloadBytes(12)
	assert.False(t, ok)
}
