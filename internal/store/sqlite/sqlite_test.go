package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpledger/internal/domain"
)

func openTestDB(t *testing.T, path string) *DB {
	t.Helper()
	db, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestLedgerStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")
	opened := time.Date(2026, 2, 3, 4, 5, 6, 7, time.UTC)

	db, err := Open(path)
	require.NoError(t, err)
	s := NewLedgerStore(db)

	err = s.View(ctx, func(tx domain.LedgerTx) error {
		_, err := tx.State(ctx)
		return err
	})
	require.ErrorIs(t, err, domain.ErrUninitialized)

	require.NoError(t, s.Update(ctx, func(tx domain.LedgerTx) error {
		if err := tx.PutState(ctx, domain.LedgerState{
			Admin: "GADMIN", OracleAddress: "CORACLE", NextPositionID: 2, Balance: 10_000_000, Active: true,
		}); err != nil {
			return err
		}
		if err := tx.PutPosition(ctx, domain.Position{
			ID: 1, Trader: "GALICE", Margin: 10_000_000, Leverage: 5, Size: 50_000_000,
			Side: domain.SideLong, EntryPrice: 10_000_000, OpenTime: opened, Status: domain.PositionStatusOpen,
		}); err != nil {
			return err
		}
		return tx.AppendTraderPosition(ctx, "GALICE", 1)
	}))
	require.NoError(t, db.Close())

	db = openTestDB(t, path)
	s = NewLedgerStore(db)
	require.NoError(t, s.View(ctx, func(tx domain.LedgerTx) error {
		st, err := tx.State(ctx)
		require.NoError(t, err)
		assert.Equal(t, domain.LedgerState{
			Admin: "GADMIN", OracleAddress: "CORACLE", NextPositionID: 2, Balance: 10_000_000, Active: true,
		}, st)

		p, err := tx.Position(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "GALICE", p.Trader)
		assert.Equal(t, int64(50_000_000), p.Size)
		assert.Equal(t, domain.SideLong, p.Side)
		assert.True(t, opened.Equal(p.OpenTime))
		assert.True(t, p.IsOpen())
		assert.Nil(t, p.ClosePrice)

		ids, err := tx.TraderPositions(ctx, "GALICE")
		require.NoError(t, err)
		assert.Equal(t, []uint64{1}, ids)
		return nil
	}))
}

func TestLedgerStoreClosesPosition(t *testing.T) {
	ctx := context.Background()
	s := NewLedgerStore(openTestDB(t, filepath.Join(t.TempDir(), "ledger.db")))
	closed := time.Date(2026, 2, 3, 5, 0, 0, 0, time.UTC)

	pos := domain.Position{ID: 7, Trader: "GBOB", Margin: 1, Leverage: 1, Size: 1,
		Side: domain.SideShort, EntryPrice: 5, OpenTime: closed.Add(-time.Hour), Status: domain.PositionStatusOpen}
	require.NoError(t, s.Update(ctx, func(tx domain.LedgerTx) error { return tx.PutPosition(ctx, pos) }))

	price, pnl := int64(4), int64(-3)
	pos.Status = domain.PositionStatusClosed
	pos.ClosePrice, pos.CloseTime, pos.RealizedPnL = &price, &closed, &pnl
	require.NoError(t, s.Update(ctx, func(tx domain.LedgerTx) error { return tx.PutPosition(ctx, pos) }))

	require.NoError(t, s.View(ctx, func(tx domain.LedgerTx) error {
		got, err := tx.Position(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, domain.PositionStatusClosed, got.Status)
		require.NotNil(t, got.ClosePrice)
		require.NotNil(t, got.RealizedPnL)
		require.NotNil(t, got.CloseTime)
		assert.Equal(t, int64(4), *got.ClosePrice)
		assert.Equal(t, int64(-3), *got.RealizedPnL)
		assert.True(t, closed.Equal(*got.CloseTime))

		_, err = tx.Position(ctx, 8)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		return nil
	}))
}

func TestLedgerStoreRollsBack(t *testing.T) {
	ctx := context.Background()
	s := NewLedgerStore(openTestDB(t, filepath.Join(t.TempDir(), "ledger.db")))

	boom := errors.New("boom")
	err := s.Update(ctx, func(tx domain.LedgerTx) error {
		require.NoError(t, tx.PutState(ctx, domain.LedgerState{Admin: "GADMIN", NextPositionID: 1}))
		require.NoError(t, tx.PutPosition(ctx, domain.Position{ID: 1, Trader: "GALICE", Status: domain.PositionStatusOpen}))
		require.NoError(t, tx.AppendTraderPosition(ctx, "GALICE", 1))
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = s.View(ctx, func(tx domain.LedgerTx) error {
		ids, err := tx.TraderPositions(ctx, "GALICE")
		require.NoError(t, err)
		assert.Empty(t, ids)
		_, err = tx.State(ctx)
		return err
	})
	assert.ErrorIs(t, err, domain.ErrUninitialized)

	positions, err := s.Positions(ctx, domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestLedgerStorePositionsPaged(t *testing.T) {
	ctx := context.Background()
	s := NewLedgerStore(openTestDB(t, filepath.Join(t.TempDir(), "ledger.db")))
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Update(ctx, func(tx domain.LedgerTx) error {
		for id := uint64(1); id <= 5; id++ {
			err := tx.PutPosition(ctx, domain.Position{ID: id, Trader: "GALICE", Side: domain.SideLong,
				OpenTime: base.Add(time.Duration(id) * time.Hour), Status: domain.PositionStatusOpen})
			if err != nil {
				return err
			}
		}
		return nil
	}))

	got, err := s.Positions(ctx, domain.ListOpts{Offset: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(2), got[0].ID)
	assert.Equal(t, uint64(3), got[1].ID)

	got, err = s.Positions(ctx, domain.ListOpts{Offset: 3})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	until := base.Add(3 * time.Hour)
	got, err = s.Positions(ctx, domain.ListOpts{Until: &until})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestAuditStore(t *testing.T) {
	ctx := context.Background()
	a := NewAuditStore(openTestDB(t, filepath.Join(t.TempDir(), "ledger.db")))

	require.NoError(t, a.Log(ctx, "position_opened", map[string]any{"position_id": 1}))
	require.NoError(t, a.Log(ctx, "ledger_paused", map[string]any{"admin": "GADMIN"}))

	entries, err := a.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "ledger_paused", entries[0].Event)
	assert.Equal(t, "GADMIN", entries[0].Detail["admin"])
	assert.Equal(t, float64(1), entries[1].Detail["position_id"])

	entries, err = a.List(ctx, domain.ListOpts{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "position_opened", entries[0].Event)
}

func TestLedgerStoreRejectsLeverageOutOfRange(t *testing.T) {
	ctx := context.Background()
	s := NewLedgerStore(openTestDB(t, filepath.Join(t.TempDir(), "ledger.db")))

	pos := domain.Position{ID: 1, Trader: "GALICE", Margin: 10_000_000, Leverage: 11, Size: 110_000_000,
		Side: domain.SideLong, EntryPrice: 10_000_000, OpenTime: time.Unix(0, 0).UTC(), Status: domain.PositionStatusOpen}
	err := s.Update(ctx, func(tx domain.LedgerTx) error { return tx.PutPosition(ctx, pos) })
	require.Error(t, err)

	err = s.View(ctx, func(tx domain.LedgerTx) error {
		_, err := tx.Position(ctx, 1)
		return err
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
