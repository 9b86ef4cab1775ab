package crypto

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known throwaway key; never funded.
const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestSignAndRecover(t *testing.T) {
	s, err := NewSigner("0x" + testKey)
	require.NoError(t, err)

	msg := []byte("hello ledger")
	sig, err := s.SignMessage(msg)
	require.NoError(t, err)

	addr, err := RecoverAddress(msg, sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), addr)

	require.NoError(t, VerifyMessage(msg, sig, s.Address()))
	assert.ErrorIs(t, VerifyMessage([]byte("tampered"), sig, s.Address()), ErrBadSignature)
	assert.ErrorIs(t, VerifyMessage(msg, sig, "not-an-address"), ErrBadSignature)

	_, err = RecoverAddress(msg, "0x1234")
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestVerifyRequest(t *testing.T) {
	s, err := NewSigner(testKey)
	require.NoError(t, err)
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	body := []byte(`{"trader":"x"}`)

	h, err := s.SignRequest("post", "/api/positions", body, now)
	require.NoError(t, err)

	addr, err := VerifyRequest("POST", "/api/positions", body,
		h[HeaderAddress], h[HeaderTimestamp], h[HeaderSignature], now.Add(time.Minute), 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), addr)

	tests := []struct {
		name   string
		path   string
		body   []byte
		at     time.Time
		header map[string]string
	}{
		{"different path", "/api/admin/withdraw", body, now, h},
		{"different body", "/api/positions", []byte(`{}`), now, h},
		{"expired", "/api/positions", body, now.Add(6 * time.Minute), h},
		{"from the future", "/api/positions", body, now.Add(-6 * time.Minute), h},
		{"missing signature", "/api/positions", body, now, map[string]string{
			HeaderAddress: h[HeaderAddress], HeaderTimestamp: h[HeaderTimestamp],
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := VerifyRequest("POST", tt.path, tt.body,
				tt.header[HeaderAddress], tt.header[HeaderTimestamp], tt.header[HeaderSignature], tt.at, 5*time.Minute)
			assert.ErrorIs(t, err, ErrBadSignature)
		})
	}
}

func TestWebhookHMAC(t *testing.T) {
	body := []byte(`{"update":{}}`)
	sig := SignWebhook("s3cret", body)

	assert.True(t, VerifyWebhook("s3cret", body, sig))
	assert.True(t, VerifyWebhook("s3cret", body, "sha256="+sig))
	assert.False(t, VerifyWebhook("other", body, sig))
	assert.False(t, VerifyWebhook("s3cret", []byte(`{}`), sig))
	assert.False(t, VerifyWebhook("s3cret", body, "zz"))
}

func TestKeyFileRoundTrip(t *testing.T) {
	data, err := EncryptKey("0x"+testKey, "pw", 1000)
	require.NoError(t, err)

	got, err := DecryptKey(data, "pw")
	require.NoError(t, err)
	assert.Equal(t, testKey, got)

	_, err = DecryptKey(data, "wrong")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "operator.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	got, err = LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	require.NoError(t, err)
	assert.Equal(t, testKey, got)

	got, err = LoadKey(KeyConfig{RawPrivateKey: "0x" + testKey, EncryptedKeyPath: "/nonexistent"})
	require.NoError(t, err)
	assert.Equal(t, testKey, got)

	_, err = LoadKey(KeyConfig{})
	assert.ErrorIs(t, err, ErrNoKey)

	_, err = EncryptKey("abcd", "pw", 1000)
	assert.Error(t, err)
}
