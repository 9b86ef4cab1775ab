package domain

import "errors"

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrAlreadyClosed       = errors.New("position already closed")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrUninitialized       = errors.New("ledger not initialized")
	ErrAlreadyInitialized  = errors.New("ledger already initialized")
	ErrOracleUnavailable   = errors.New("oracle price unavailable")
	ErrPaused              = errors.New("ledger paused")
	ErrLockHeld            = errors.New("lock already held")
)

// ErrorKind is the stable, client-facing name of a ledger error.
type ErrorKind string

const (
	KindInvalidInput        ErrorKind = "InvalidInput"
	KindNotFound            ErrorKind = "NotFound"
	KindUnauthorized        ErrorKind = "Unauthorized"
	KindAlreadyClosed       ErrorKind = "AlreadyClosed"
	KindInsufficientBalance ErrorKind = "InsufficientBalance"
	KindUninitialized       ErrorKind = "Uninitialized"
	KindAlreadyInitialized  ErrorKind = "AlreadyInitialized"
	KindOracleUnavailable   ErrorKind = "OracleUnavailable"
	KindPaused              ErrorKind = "Paused"
	KindInternal            ErrorKind = "Internal"
)

var errorKinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrInvalidInput, KindInvalidInput},
	{ErrNotFound, KindNotFound},
	{ErrUnauthorized, KindUnauthorized},
	{ErrAlreadyClosed, KindAlreadyClosed},
	{ErrInsufficientBalance, KindInsufficientBalance},
	{ErrUninitialized, KindUninitialized},
	{ErrAlreadyInitialized, KindAlreadyInitialized},
	{ErrOracleUnavailable, KindOracleUnavailable},
	{ErrPaused, KindPaused},
}

// KindOf classifies err by the first sentinel it wraps. Errors that wrap none
// of the ledger sentinels are reported as KindInternal.
func KindOf(err error) ErrorKind {
	for _, ek := range errorKinds {
		if errors.Is(err, ek.err) {
			return ek.kind
		}
	}
	return KindInternal
}
