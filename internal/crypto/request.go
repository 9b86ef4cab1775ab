package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Headers carrying a signed caller identity.
const (
	HeaderAddress   = "X-Perp-Address"
	HeaderTimestamp = "X-Perp-Timestamp"
	HeaderSignature = "X-Perp-Signature"
)

// RequestMessage is the text a caller signs to prove its identity for one
// request:
//
//	perpledger request
//	<METHOD> <path>
//	<unix timestamp>
//	<hex sha256 of body>
func RequestMessage(method, path string, unixTS int64, body []byte) []byte {
	sum := sha256.Sum256(body)
	return []byte(fmt.Sprintf("perpledger request\n%s %s\n%d\n%s",
		strings.ToUpper(method), path, unixTS, hex.EncodeToString(sum[:])))
}

// SignRequest returns the identity headers for a request signed by s.
func (s *Signer) SignRequest(method, path string, body []byte, at time.Time) (map[string]string, error) {
	ts := at.Unix()
	sig, err := s.SignMessage(RequestMessage(method, path, ts, body))
	if err != nil {
		return nil, err
	}
	return map[string]string{
		HeaderAddress:   s.Address(),
		HeaderTimestamp: strconv.FormatInt(ts, 10),
		HeaderSignature: sig,
	}, nil
}

// VerifyRequest checks identity headers against the request and returns the
// checksummed caller address. Timestamps further than maxAge from now in
// either direction are rejected.
func VerifyRequest(method, path string, body []byte, address, timestamp, signature string, now time.Time, maxAge time.Duration) (string, error) {
	if address == "" || timestamp == "" || signature == "" {
		return "", fmt.Errorf("%w: missing identity headers", ErrBadSignature)
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: bad timestamp %q", ErrBadSignature, timestamp)
	}
	skew := now.Sub(time.Unix(ts, 0))
	if skew > maxAge || skew < -maxAge {
		return "", fmt.Errorf("%w: timestamp outside %s window", ErrBadSignature, maxAge)
	}
	if err := VerifyMessage(RequestMessage(method, path, ts, body), signature, address); err != nil {
		return "", err
	}
	return common.HexToAddress(address).Hex(), nil
}
