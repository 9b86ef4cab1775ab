package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpledger/internal/domain"
)

func TestLedgerStoreRollsBackFailedUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewLedgerStore()

	require.NoError(t, s.Update(ctx, func(tx domain.LedgerTx) error {
		return tx.PutState(ctx, domain.LedgerState{Admin: "admin", NextPositionID: 1, Active: true})
	}))

	boom := errors.New("boom")
	err := s.Update(ctx, func(tx domain.LedgerTx) error {
		st, err := tx.State(ctx)
		require.NoError(t, err)
		st.Balance = 99
		st.NextPositionID = 2
		require.NoError(t, tx.PutState(ctx, st))
		require.NoError(t, tx.PutPosition(ctx, domain.Position{ID: 1, Trader: "alice"}))
		require.NoError(t, tx.AppendTraderPosition(ctx, "alice", 1))

		// Staged writes are visible inside the transaction.
		got, err := tx.State(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(99), got.Balance)
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, s.View(ctx, func(tx domain.LedgerTx) error {
		st, err := tx.State(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), st.Balance)
		assert.Equal(t, uint64(1), st.NextPositionID)

		_, err = tx.Position(ctx, 1)
		assert.ErrorIs(t, err, domain.ErrNotFound)

		ids, err := tx.TraderPositions(ctx, "alice")
		require.NoError(t, err)
		assert.Empty(t, ids)
		return nil
	}))
}

func TestLedgerStoreUninitialized(t *testing.T) {
	ctx := context.Background()
	s := NewLedgerStore()
	err := s.View(ctx, func(tx domain.LedgerTx) error {
		_, err := tx.State(ctx)
		return err
	})
	assert.ErrorIs(t, err, domain.ErrUninitialized)
}

func TestLedgerStoreViewIsReadOnly(t *testing.T) {
	ctx := context.Background()
	s := NewLedgerStore()
	err := s.View(ctx, func(tx domain.LedgerTx) error {
		return tx.PutState(ctx, domain.LedgerState{})
	})
	assert.Error(t, err)
}

func TestLedgerStorePositionsOrderedAndPaged(t *testing.T) {
	ctx := context.Background()
	s := NewLedgerStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Update(ctx, func(tx domain.LedgerTx) error {
		for _, id := range []uint64{3, 1, 2} {
			pos := domain.Position{ID: id, Trader: "alice", OpenTime: base.Add(time.Duration(id) * time.Hour)}
			if err := tx.PutPosition(ctx, pos); err != nil {
				return err
			}
			if err := tx.AppendTraderPosition(ctx, "alice", id); err != nil {
				return err
			}
		}
		return nil
	}))

	all, err := s.Positions(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []uint64{1, 2, 3}, []uint64{all[0].ID, all[1].ID, all[2].ID})

	paged, err := s.Positions(ctx, domain.ListOpts{Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, uint64(2), paged[0].ID)

	since := base.Add(2 * time.Hour)
	recent, err := s.Positions(ctx, domain.ListOpts{Since: &since})
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	require.NoError(t, s.View(ctx, func(tx domain.LedgerTx) error {
		ids, err := tx.TraderPositions(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, []uint64{3, 1, 2}, ids, "trader index keeps insertion order")
		return nil
	}))
}

func TestAuditStoreNewestFirst(t *testing.T) {
	ctx := context.Background()
	a := NewAuditStore()
	require.NoError(t, a.Log(ctx, "first", map[string]any{"n": 1}))
	require.NoError(t, a.Log(ctx, "second", nil))

	entries, err := a.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "second", entries[0].Event)
	assert.Equal(t, "first", entries[1].Event)

	entries, err = a.List(ctx, domain.ListOpts{Limit: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestLedgerStoreClosedPositionIsolated(t *testing.T) {
	ctx := context.Background()
	s := NewLedgerStore()

	closePrice, pnl := int64(12_000_000), int64(4_000_000)
	closedAt := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	pos := domain.Position{
		ID:          1,
		Trader:      "alice",
		Status:      domain.PositionStatusClosed,
		ClosePrice:  &closePrice,
		CloseTime:   &closedAt,
		RealizedPnL: &pnl,
	}
	require.NoError(t, s.Update(ctx, func(tx domain.LedgerTx) error {
		return tx.PutPosition(ctx, pos)
	}))

	// The caller's values were copied on put.
	pnl, closePrice = -1, -1
	closedAt = closedAt.Add(time.Hour)

	var got domain.Position
	require.NoError(t, s.View(ctx, func(tx domain.LedgerTx) error {
		var err error
		got, err = tx.Position(ctx, 1)
		return err
	}))
	*got.RealizedPnL = -2
	*got.ClosePrice = -2

	listed, err := s.Positions(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	*listed[0].RealizedPnL = -3

	require.NoError(t, s.View(ctx, func(tx domain.LedgerTx) error {
		p, err := tx.Position(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(4_000_000), *p.RealizedPnL)
		assert.Equal(t, int64(12_000_000), *p.ClosePrice)
		assert.Equal(t, time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC), *p.CloseTime)
		return nil
	}))
}
