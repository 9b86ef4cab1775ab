package ledger

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/perpledger/internal/domain"
)

// requireAdmin fails unless caller is exactly the stored admin identity.
func requireAdmin(st domain.LedgerState, caller string) error {
	if caller == "" || caller != st.Admin {
		return fmt.Errorf("%w: caller %q is not the admin", domain.ErrUnauthorized, caller)
	}
	return nil
}

// requireOwner fails unless caller opened pos.
func requireOwner(pos domain.Position, caller string) error {
	if caller == "" || caller != pos.Trader {
		return fmt.Errorf("%w: caller %q does not own position %d", domain.ErrUnauthorized, caller, pos.ID)
	}
	return nil
}

// RequireAdmin fails with ErrUnauthorized unless caller is the ledger admin,
// and with ErrUninitialized before Initialize.
func (l *Ledger) RequireAdmin(ctx context.Context, caller string) error {
	st, err := l.state(ctx)
	if err != nil {
		return fmt.Errorf("ledger: require admin: %w", err)
	}
	if err := requireAdmin(st, caller); err != nil {
		return fmt.Errorf("ledger: require admin: %w", err)
	}
	return nil
}
