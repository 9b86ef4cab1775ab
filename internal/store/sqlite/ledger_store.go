package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/perpledger/internal/domain"
)

// LedgerStore implements domain.LedgerStore on SQLite.
type LedgerStore struct {
	db *sql.DB
}

// NewLedgerStore creates a LedgerStore over an open DB.
func NewLedgerStore(d *DB) *LedgerStore {
	return &LedgerStore{db: d.db}
}

func (s *LedgerStore) Update(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	return s.run(ctx, false, fn)
}

func (s *LedgerStore) View(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	return s.run(ctx, true, fn)
}

func (s *LedgerStore) run(ctx context.Context, readOnly bool, fn func(tx domain.LedgerTx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	if err := fn(&ledgerTx{tx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if readOnly {
		return sqlTx.Rollback()
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

const positionColumns = `id, trader, margin, leverage, size, side, entry_price, open_time,
	status, close_price, close_time, realized_pnl`

func (s *LedgerStore) Positions(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE 1=1`
	var args []any
	if opts.Since != nil {
		query += ` AND open_time >= ?`
		args = append(args, opts.Since.UnixNano())
	}
	if opts.Until != nil {
		query += ` AND open_time < ?`
		args = append(args, opts.Until.UnixNano())
	}
	query += ` ORDER BY id`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	} else if opts.Offset > 0 {
		query += ` LIMIT -1`
	}
	if opts.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan position: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list positions: %w", err)
	}
	return out, nil
}

// Close is a no-op; the owning DB is closed separately.
func (s *LedgerStore) Close() error { return nil }

type ledgerTx struct {
	tx *sql.Tx
}

func (t *ledgerTx) State(ctx context.Context) (domain.LedgerState, error) {
	var st domain.LedgerState
	err := t.tx.QueryRowContext(ctx, `
		SELECT admin, oracle_address, next_position_id, balance, is_active
		FROM ledger_state WHERE id = 1`,
	).Scan(&st.Admin, &st.OracleAddress, &st.NextPositionID, &st.Balance, &st.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.LedgerState{}, domain.ErrUninitialized
	}
	if err != nil {
		return domain.LedgerState{}, fmt.Errorf("sqlite: get state: %w", err)
	}
	return st, nil
}

func (t *ledgerTx) PutState(ctx context.Context, st domain.LedgerState) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO ledger_state (id, admin, oracle_address, next_position_id, balance, is_active)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			admin = excluded.admin,
			oracle_address = excluded.oracle_address,
			next_position_id = excluded.next_position_id,
			balance = excluded.balance,
			is_active = excluded.is_active`,
		st.Admin, st.OracleAddress, int64(st.NextPositionID), st.Balance, st.Active,
	)
	if err != nil {
		return fmt.Errorf("sqlite: put state: %w", err)
	}
	return nil
}

func (t *ledgerTx) Position(ctx context.Context, id uint64) (domain.Position, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+positionColumns+` FROM positions WHERE id = ?`, int64(id))
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Position{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("sqlite: get position %d: %w", id, err)
	}
	return p, nil
}

func (t *ledgerTx) PutPosition(ctx context.Context, p domain.Position) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO positions (`+positionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			close_price = excluded.close_price,
			close_time = excluded.close_time,
			realized_pnl = excluded.realized_pnl`,
		int64(p.ID), p.Trader, p.Margin, p.Leverage, p.Size, string(p.Side), p.EntryPrice,
		p.OpenTime.UnixNano(), string(p.Status),
		nullInt64(p.ClosePrice), nullTime(p.CloseTime), nullInt64(p.RealizedPnL),
	)
	if err != nil {
		return fmt.Errorf("sqlite: put position %d: %w", p.ID, err)
	}
	return nil
}

func (t *ledgerTx) TraderPositions(ctx context.Context, trader string) ([]uint64, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT position_id FROM trader_positions WHERE trader = ? ORDER BY seq`, trader)
	if err != nil {
		return nil, fmt.Errorf("sqlite: trader positions: %w", err)
	}
	defer rows.Close()

	var ids []uint64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: scan trader position: %w", err)
		}
		ids = append(ids, uint64(id))
	}
	return ids, rows.Err()
}

func (t *ledgerTx) AppendTraderPosition(ctx context.Context, trader string, id uint64) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO trader_positions (trader, position_id) VALUES (?, ?)`, trader, int64(id))
	if err != nil {
		return fmt.Errorf("sqlite: append trader position: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPosition(row scanner) (domain.Position, error) {
	var (
		p               domain.Position
		id              int64
		side, status    string
		openNanos       int64
		closePrice, pnl sql.NullInt64
		closeNanos      sql.NullInt64
	)
	err := row.Scan(&id, &p.Trader, &p.Margin, &p.Leverage, &p.Size, &side, &p.EntryPrice,
		&openNanos, &status, &closePrice, &closeNanos, &pnl)
	if err != nil {
		return domain.Position{}, err
	}
	p.ID = uint64(id)
	p.Side = domain.Side(side)
	p.Status = domain.PositionStatus(status)
	p.OpenTime = time.Unix(0, openNanos).UTC()
	if closePrice.Valid {
		v := closePrice.Int64
		p.ClosePrice = &v
	}
	if closeNanos.Valid {
		ts := time.Unix(0, closeNanos.Int64).UTC()
		p.CloseTime = &ts
	}
	if pnl.Valid {
		v := pnl.Int64
		p.RealizedPnL = &v
	}
	return p, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

var _ domain.LedgerStore = (*LedgerStore)(nil)
