package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/perpledger/internal/domain"
)

// ledgerLockKey is the transaction-scoped advisory lock every Update takes
// before touching ledger rows.
const ledgerLockKey int64 = 0x7065_7270_6c65_6467

// LedgerStore implements domain.LedgerStore using PostgreSQL. Each Update is
// one transaction holding ledgerLockKey, so mutations run one at a time even
// across instances sharing the database.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a new LedgerStore backed by the given connection
// pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

func (s *LedgerStore) Update(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", ledgerLockKey); err != nil {
		return fmt.Errorf("postgres: lock ledger: %w", err)
	}
	if err := fn(&ledgerTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func (s *LedgerStore) View(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("postgres: begin read: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	return fn(&ledgerTx{tx: tx})
}

const positionColumns = `id, trader, margin, leverage, size, side, entry_price, open_time,
	status, close_price, close_time, realized_pnl`

func (s *LedgerStore) Positions(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND open_time >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND open_time < $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}
	query += " ORDER BY id"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list positions rows: %w", err)
	}
	return out, nil
}

// Close is a no-op; the pool belongs to the Client.
func (s *LedgerStore) Close() error { return nil }

type ledgerTx struct {
	tx pgx.Tx
}

func (t *ledgerTx) State(ctx context.Context) (domain.LedgerState, error) {
	var (
		st     domain.LedgerState
		nextID int64
	)
	err := t.tx.QueryRow(ctx, `
		SELECT admin, oracle_address, next_position_id, balance, is_active
		FROM ledger_state WHERE id = 1`,
	).Scan(&st.Admin, &st.OracleAddress, &nextID, &st.Balance, &st.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.LedgerState{}, domain.ErrUninitialized
	}
	if err != nil {
		return domain.LedgerState{}, fmt.Errorf("postgres: get ledger state: %w", err)
	}
	st.NextPositionID = uint64(nextID)
	return st, nil
}

func (t *ledgerTx) PutState(ctx context.Context, st domain.LedgerState) error {
	const query = `
		INSERT INTO ledger_state (id, admin, oracle_address, next_position_id, balance, is_active, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, NOW())
		ON CONFLICT (id) DO UPDATE SET
			admin = EXCLUDED.admin,
			oracle_address = EXCLUDED.oracle_address,
			next_position_id = EXCLUDED.next_position_id,
			balance = EXCLUDED.balance,
			is_active = EXCLUDED.is_active,
			updated_at = NOW()`
	_, err := t.tx.Exec(ctx, query, st.Admin, st.OracleAddress, int64(st.NextPositionID), st.Balance, st.Active)
	if err != nil {
		return fmt.Errorf("postgres: put ledger state: %w", err)
	}
	return nil
}

func (t *ledgerTx) Position(ctx context.Context, id uint64) (domain.Position, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+positionColumns+` FROM positions WHERE id = $1`, int64(id))
	p, err := scanPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Position{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: get position %d: %w", id, err)
	}
	return p, nil
}

func (t *ledgerTx) PutPosition(ctx context.Context, p domain.Position) error {
	query := `
		INSERT INTO positions (` + positionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			close_price = EXCLUDED.close_price,
			close_time = EXCLUDED.close_time,
			realized_pnl = EXCLUDED.realized_pnl`
	_, err := t.tx.Exec(ctx, query,
		int64(p.ID), p.Trader, p.Margin, p.Leverage, p.Size, string(p.Side), p.EntryPrice,
		p.OpenTime, string(p.Status), p.ClosePrice, p.CloseTime, p.RealizedPnL,
	)
	if err != nil {
		return fmt.Errorf("postgres: put position %d: %w", p.ID, err)
	}
	return nil
}

func (t *ledgerTx) TraderPositions(ctx context.Context, trader string) ([]uint64, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT position_id FROM trader_positions WHERE trader = $1 ORDER BY seq`, trader)
	if err != nil {
		return nil, fmt.Errorf("postgres: trader positions: %w", err)
	}
	defer rows.Close()

	var ids []uint64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan trader position: %w", err)
		}
		ids = append(ids, uint64(id))
	}
	return ids, rows.Err()
}

func (t *ledgerTx) AppendTraderPosition(ctx context.Context, trader string, id uint64) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO trader_positions (trader, position_id) VALUES ($1, $2)`, trader, int64(id))
	if err != nil {
		return fmt.Errorf("postgres: append trader position: %w", err)
	}
	return nil
}

func scanPosition(row pgx.Row) (domain.Position, error) {
	var (
		p            domain.Position
		id           int64
		side, status string
		closeTime    *time.Time
	)
	err := row.Scan(&id, &p.Trader, &p.Margin, &p.Leverage, &p.Size, &side, &p.EntryPrice,
		&p.OpenTime, &status, &p.ClosePrice, &closeTime, &p.RealizedPnL)
	if err != nil {
		return domain.Position{}, err
	}
	p.ID = uint64(id)
	p.Side = domain.Side(side)
	p.Status = domain.PositionStatus(status)
	p.OpenTime = p.OpenTime.UTC()
	if closeTime != nil {
		ts := closeTime.UTC()
		p.CloseTime = &ts
	}
	return p, nil
}

var _ domain.LedgerStore = (*LedgerStore)(nil)
