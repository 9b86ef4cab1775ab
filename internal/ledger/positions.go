package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/perpledger/internal/domain"
	"github.com/alanyoungcy/perpledger/internal/oracle"
	"github.com/alanyoungcy/perpledger/internal/pricing"
)

// OpenPosition opens a margined position for trader at the current oracle
// price and returns its id. The margin is credited from the trader into
// custody as part of the same unit of work.
func (l *Ledger) OpenPosition(ctx context.Context, trader string, margin, leverage int64, isLong bool) (id uint64, err error) {
	defer l.observe("open_position", time.Now(), &err)

	if err := l.validateOpen(trader, margin, leverage); err != nil {
		return 0, l.reject(ctx, "open position", err)
	}
	size, err := pricing.Size(margin, leverage)
	if err != nil {
		return 0, l.reject(ctx, "open position", err)
	}

	var pos domain.Position
	err = l.store.Update(ctx, func(tx domain.LedgerTx) error {
		st, err := tx.State(ctx)
		if err != nil {
			return err
		}
		if err := l.checkActive(st); err != nil {
			return err
		}

		price, err := l.referencePrice(ctx)
		if err != nil {
			return err
		}

		balance, ok := addBalance(st.Balance, margin)
		if !ok {
			return fmt.Errorf("%w: balance overflow", domain.ErrInvalidInput)
		}

		pos = domain.Position{
			ID:         st.NextPositionID,
			Trader:     trader,
			Margin:     margin,
			Leverage:   leverage,
			Size:       size,
			Side:       domain.SideFromBool(isLong),
			EntryPrice: price,
			OpenTime:   l.now().UTC(),
			Status:     domain.PositionStatusOpen,
		}
		if err := tx.PutPosition(ctx, pos); err != nil {
			return err
		}
		if err := tx.AppendTraderPosition(ctx, trader, pos.ID); err != nil {
			return err
		}

		st.NextPositionID++
		st.Balance = balance
		if err := tx.PutState(ctx, st); err != nil {
			return err
		}

		// The transfer runs last so a custody failure rolls back every
		// write above.
		if err := l.custody.Credit(ctx, trader, margin); err != nil {
			return fmt.Errorf("custody credit: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, l.reject(ctx, "open position", err)
	}

	l.logger.InfoContext(ctx, "ledger: position opened",
		slog.Uint64("position_id", pos.ID),
		slog.String("trader", trader),
		slog.String("side", string(pos.Side)),
		slog.Int64("margin", margin),
		slog.Int64("leverage", leverage),
		slog.Int64("entry_price", pos.EntryPrice),
	)
	l.emit(ctx, Event{Type: EventPositionOpened, Data: map[string]any{
		"position_id": pos.ID,
		"trader":      trader,
		"side":        string(pos.Side),
		"margin":      margin,
		"leverage":    leverage,
		"size":        size,
		"entry_price": pos.EntryPrice,
	}})
	l.obs.AddOpenPositions(1)
	l.refreshBalance(ctx)

	return pos.ID, nil
}

// ClosePosition closes the caller's open position at the current oracle price
// and returns the realized PnL together with the payout. The payout is
// margin+pnl when positive and the bare margin otherwise, so it does not
// always equal margin+pnl.
func (l *Ledger) ClosePosition(ctx context.Context, trader string, id uint64) (res domain.CloseResult, err error) {
	defer l.observe("close_position", time.Now(), &err)

	var pos domain.Position
	err = l.store.Update(ctx, func(tx domain.LedgerTx) error {
		st, err := tx.State(ctx)
		if err != nil {
			return err
		}
		if err := l.checkActive(st); err != nil {
			return err
		}

		pos, err = tx.Position(ctx, id)
		if err != nil {
			return err
		}
		if !pos.IsOpen() {
			return fmt.Errorf("position %d: %w", id, domain.ErrAlreadyClosed)
		}
		if err := requireOwner(pos, trader); err != nil {
			return err
		}

		price, err := l.referencePrice(ctx)
		if err != nil {
			return err
		}
		pnl, err := pricing.PnL(pos.EntryPrice, price, pos.Size, pos.Side)
		if err != nil {
			return err
		}
		payout, err := pricing.Payout(pos.Margin, pnl)
		if err != nil {
			return err
		}

		closedAt := l.now().UTC()
		pos.Status = domain.PositionStatusClosed
		pos.ClosePrice = &price
		pos.CloseTime = &closedAt
		pos.RealizedPnL = &pnl
		if err := tx.PutPosition(ctx, pos); err != nil {
			return err
		}

		// Closes are not gated on the balance; only withdrawals are.
		balance, ok := addBalance(st.Balance, -payout)
		if !ok {
			return fmt.Errorf("%w: balance overflow", domain.ErrInvalidInput)
		}
		if balance < 0 {
			l.logger.WarnContext(ctx, "ledger: payout exceeds custody balance",
				slog.Uint64("position_id", id),
				slog.Int64("payout", payout),
				slog.Int64("balance", st.Balance),
			)
		}
		st.Balance = balance
		if err := tx.PutState(ctx, st); err != nil {
			return err
		}

		if err := l.custody.Debit(ctx, trader, payout); err != nil {
			return fmt.Errorf("custody debit: %w", err)
		}

		res = domain.CloseResult{PositionID: id, PnL: pnl, Payout: payout, ClosePrice: price}
		return nil
	})
	if err != nil {
		return domain.CloseResult{}, l.reject(ctx, "close position", err)
	}

	l.logger.InfoContext(ctx, "ledger: position closed",
		slog.Uint64("position_id", id),
		slog.String("trader", trader),
		slog.Int64("close_price", res.ClosePrice),
		slog.Int64("pnl", res.PnL),
		slog.Int64("payout", res.Payout),
	)
	l.emit(ctx, Event{Type: EventPositionClosed, Data: map[string]any{
		"position_id": id,
		"trader":      trader,
		"side":        string(pos.Side),
		"entry_price": pos.EntryPrice,
		"close_price": res.ClosePrice,
		"pnl":         res.PnL,
		"payout":      res.Payout,
	}})
	l.obs.AddOpenPositions(-1)
	l.refreshBalance(ctx)

	return res, nil
}

func (l *Ledger) validateOpen(trader string, margin, leverage int64) error {
	if trader == "" {
		return fmt.Errorf("%w: empty trader", domain.ErrInvalidInput)
	}
	if leverage < 1 || leverage > l.cfg.MaxLeverage {
		return fmt.Errorf("%w: leverage %d outside [1, %d]", domain.ErrInvalidInput, leverage, l.cfg.MaxLeverage)
	}
	if margin < l.cfg.MinMargin {
		return fmt.Errorf("%w: margin %d below minimum %d", domain.ErrInvalidInput, margin, l.cfg.MinMargin)
	}
	return nil
}

// referencePrice fetches the configured asset's quote and converts it to the
// ledger's price scale.
func (l *Ledger) referencePrice(ctx context.Context) (int64, error) {
	pd, ok, err := l.oracle.LastPrice(ctx, l.cfg.Asset)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", domain.ErrOracleUnavailable, l.cfg.Asset, err)
	}
	if !ok {
		return 0, fmt.Errorf("%w: no price for %s", domain.ErrOracleUnavailable, l.cfg.Asset)
	}
	if l.cfg.RequireFreshPrice && !oracle.IsFresh(l.now(), pd.Timestamp, l.cfg.Freshness) {
		return 0, fmt.Errorf("%w: stale price for %s at %s", domain.ErrOracleUnavailable, l.cfg.Asset, pd.Timestamp.Format(time.RFC3339))
	}

	decimals, err := l.oracle.Decimals(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: decimals: %v", domain.ErrOracleUnavailable, err)
	}
	price, err := oracle.Rescale(pd.Price, decimals, l.cfg.PriceDecimals)
	if err != nil {
		return 0, err
	}
	if price <= 0 {
		return 0, fmt.Errorf("%w: non-positive reference price %d", domain.ErrInvalidInput, price)
	}
	return price, nil
}

func (l *Ledger) checkActive(st domain.LedgerState) error {
	if l.cfg.EnforcePause && !st.Active {
		return domain.ErrPaused
	}
	return nil
}

func (l *Ledger) refreshBalance(ctx context.Context) {
	if bal, err := l.GetBalance(ctx); err == nil {
		l.obs.SetBalance(bal)
	}
}

func addBalance(a, b int64) (int64, bool) {
	s := a + b
	if (b > 0 && s < a) || (b < 0 && s > a) {
		return 0, false
	}
	return s, true
}
