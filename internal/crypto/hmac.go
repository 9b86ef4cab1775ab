package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignWebhook returns the hex HMAC-SHA256 of body under secret, the value
// oracle pushes carry in their signature header.
func SignWebhook(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhook reports whether sigHex is the HMAC of body under secret. An
// optional "sha256=" prefix is accepted. The comparison is constant time.
func VerifyWebhook(secret string, body []byte, sigHex string) bool {
	sigHex = strings.TrimPrefix(strings.TrimSpace(sigHex), "sha256=")
	got, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
