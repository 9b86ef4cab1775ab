package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// LedgerTx is the view of ledger storage inside a single unit of work. Writes
// made through a LedgerTx become visible to other callers only when the
// enclosing Update returns nil.
type LedgerTx interface {
	// State returns the singleton ledger record, or ErrUninitialized.
	State(ctx context.Context) (LedgerState, error)
	PutState(ctx context.Context, st LedgerState) error

	// Position returns the position with the given id, or ErrNotFound.
	Position(ctx context.Context, id uint64) (Position, error)
	PutPosition(ctx context.Context, pos Position) error

	TraderPositions(ctx context.Context, trader string) ([]uint64, error)
	AppendTraderPosition(ctx context.Context, trader string, id uint64) error
}

// LedgerStore persists the ledger. Update runs fn as one serialized
// transaction: every write made through tx is committed if fn returns nil and
// discarded otherwise. No two Update calls observe each other's partial
// state.
type LedgerStore interface {
	Update(ctx context.Context, fn func(tx LedgerTx) error) error
	View(ctx context.Context, fn func(tx LedgerTx) error) error
	// Positions lists every stored position ordered by id. Used for exports.
	Positions(ctx context.Context, opts ListOpts) ([]Position, error)
	Close() error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
