package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// recoveryIDIndex is the position of V in a 65-byte signature.
const recoveryIDIndex = 64

// ErrBadSignature is returned when a signature is malformed or does not
// recover to the expected address.
var ErrBadSignature = errors.New("crypto: bad signature")

// Signer signs messages with a secp256k1 key using the personal_sign
// (EIP-191) envelope, so any Ethereum wallet can produce or check them.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	return &Signer{privateKey: pk, address: ethcrypto.PubkeyToAddress(pk.PublicKey)}, nil
}

// Address is the checksummed address of the signing key.
func (s *Signer) Address() string {
	return s.address.Hex()
}

// SignMessage returns the 0x-prefixed 65-byte signature of msg with V in
// {27, 28}.
func (s *Signer) SignMessage(msg []byte) (string, error) {
	sig, err := ethcrypto.Sign(accounts.TextHash(msg), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto: sign: %w", err)
	}
	sig[recoveryIDIndex] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// RecoverAddress returns the checksummed address that produced sigHex over
// msg. V may be {0, 1} or {27, 28}.
func RecoverAddress(msg []byte, sigHex string) (string, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil || len(sig) != 65 {
		return "", fmt.Errorf("%w: want 65 hex bytes", ErrBadSignature)
	}
	if sig[recoveryIDIndex] >= 27 {
		sig[recoveryIDIndex] -= 27
	}
	if sig[recoveryIDIndex] > 1 {
		return "", fmt.Errorf("%w: invalid recovery id", ErrBadSignature)
	}

	pub, err := ethcrypto.SigToPub(accounts.TextHash(msg), sig)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub).Hex(), nil
}

// VerifyMessage checks that sigHex over msg was produced by address.
func VerifyMessage(msg []byte, sigHex, address string) error {
	if !common.IsHexAddress(address) {
		return fmt.Errorf("%w: invalid address %q", ErrBadSignature, address)
	}
	got, err := RecoverAddress(msg, sigHex)
	if err != nil {
		return err
	}
	if got != common.HexToAddress(address).Hex() {
		return fmt.Errorf("%w: signed by %s, not %s", ErrBadSignature, got, address)
	}
	return nil
}
