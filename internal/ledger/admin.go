package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/perpledger/internal/domain"
	"github.com/alanyoungcy/perpledger/internal/oracle"
)

// WithdrawBalance pays amount out of custody to the admin. It fails with
// ErrInsufficientBalance, leaving the balance untouched, when amount exceeds
// the current balance. Withdrawals are allowed while paused.
func (l *Ledger) WithdrawBalance(ctx context.Context, caller string, amount int64) (err error) {
	defer l.observe("withdraw_balance", time.Now(), &err)

	if amount <= 0 {
		return l.reject(ctx, "withdraw balance", fmt.Errorf("%w: amount must be positive, got %d", domain.ErrInvalidInput, amount))
	}

	var remaining int64
	err = l.store.Update(ctx, func(tx domain.LedgerTx) error {
		st, err := tx.State(ctx)
		if err != nil {
			return err
		}
		if err := requireAdmin(st, caller); err != nil {
			return err
		}
		if amount > st.Balance {
			return fmt.Errorf("%w: amount %d exceeds balance %d", domain.ErrInsufficientBalance, amount, st.Balance)
		}

		st.Balance -= amount
		if err := tx.PutState(ctx, st); err != nil {
			return err
		}
		if err := l.custody.Debit(ctx, caller, amount); err != nil {
			return fmt.Errorf("custody debit: %w", err)
		}
		remaining = st.Balance
		return nil
	})
	if err != nil {
		return l.reject(ctx, "withdraw balance", err)
	}

	l.logger.InfoContext(ctx, "ledger: balance withdrawn",
		slog.String("admin", caller),
		slog.Int64("amount", amount),
		slog.Int64("balance", remaining),
	)
	l.emit(ctx, Event{Type: EventBalanceWithdrawn, Data: map[string]any{
		"admin":   caller,
		"amount":  amount,
		"balance": remaining,
	}})
	l.alert(ctx, EventBalanceWithdrawn, "Ledger withdrawal",
		fmt.Sprintf("admin %s withdrew %s, remaining balance %s",
			caller,
			oracle.Display(amount, l.cfg.PriceDecimals),
			oracle.Display(remaining, l.cfg.PriceDecimals)))
	l.obs.SetBalance(remaining)
	return nil
}

// Pause deactivates trading. Admin only.
func (l *Ledger) Pause(ctx context.Context, caller string) (err error) {
	defer l.observe("pause", time.Now(), &err)
	return l.setActive(ctx, caller, false)
}

// Resume reactivates trading. Admin only.
func (l *Ledger) Resume(ctx context.Context, caller string) (err error) {
	defer l.observe("resume", time.Now(), &err)
	return l.setActive(ctx, caller, true)
}

func (l *Ledger) setActive(ctx context.Context, caller string, active bool) error {
	op, evt, title := "pause", EventPaused, "Ledger paused"
	if active {
		op, evt, title = "resume", EventResumed, "Ledger resumed"
	}
	msg := "ledger: " + op + "d"

	err := l.store.Update(ctx, func(tx domain.LedgerTx) error {
		st, err := tx.State(ctx)
		if err != nil {
			return err
		}
		if err := requireAdmin(st, caller); err != nil {
			return err
		}
		st.Active = active
		return tx.PutState(ctx, st)
	})
	if err != nil {
		return l.reject(ctx, op, err)
	}

	l.logger.InfoContext(ctx, msg,
		slog.String("admin", caller),
	)
	l.emit(ctx, Event{Type: evt, Data: map[string]any{"admin": caller}})
	l.alert(ctx, evt, title, fmt.Sprintf("%s by %s", title, caller))
	return nil
}
