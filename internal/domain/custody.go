package domain

import "context"

// Custody moves value in and out of the ledger's custody. The ledger only
// records the accounting effect and delegates the transfer itself.
type Custody interface {
	// Credit pulls amount from the given party into custody.
	Credit(ctx context.Context, from string, amount int64) error
	// Debit pays amount out of custody to the given party.
	Debit(ctx context.Context, to string, amount int64) error
}
