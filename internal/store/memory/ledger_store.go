// Package memory provides in-process implementations of the ledger stores.
// Writes are staged per transaction and applied only on success, so a failed
// Update leaves the store exactly as it was.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/alanyoungcy/perpledger/internal/domain"
)

var errReadOnly = errors.New("memory: write in read-only transaction")

// LedgerStore implements domain.LedgerStore behind a single mutex. Update
// holds the write lock for the whole unit of work, which serializes every
// mutating operation.
type LedgerStore struct {
	mu        sync.RWMutex
	state     *domain.LedgerState
	positions map[uint64]domain.Position
	traders   map[string][]uint64
}

// NewLedgerStore returns an empty, uninitialized store.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		positions: make(map[uint64]domain.Position),
		traders:   make(map[string][]uint64),
	}
}

func (s *LedgerStore) Update(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.begin(false)
	if err := fn(t); err != nil {
		return err
	}
	t.commit()
	return nil
}

func (s *LedgerStore) View(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.begin(true))
}

func (s *LedgerStore) Positions(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]uint64, 0, len(s.positions))
	for id := range s.positions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]domain.Position, 0, len(ids))
	for _, id := range ids {
		p := s.positions[id]
		if opts.Since != nil && p.OpenTime.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && !p.OpenTime.Before(*opts.Until) {
			continue
		}
		out = append(out, clonePosition(p))
	}
	return page(out, opts), nil
}

func (s *LedgerStore) Close() error { return nil }

func (s *LedgerStore) begin(readOnly bool) *tx {
	return &tx{
		s:         s,
		readOnly:  readOnly,
		positions: make(map[uint64]domain.Position),
		traders:   make(map[string][]uint64),
	}
}

// tx stages writes over the committed maps.
type tx struct {
	s         *LedgerStore
	readOnly  bool
	state     *domain.LedgerState
	positions map[uint64]domain.Position
	traders   map[string][]uint64
}

func (t *tx) State(_ context.Context) (domain.LedgerState, error) {
	if t.state != nil {
		return *t.state, nil
	}
	if t.s.state == nil {
		return domain.LedgerState{}, domain.ErrUninitialized
	}
	return *t.s.state, nil
}

func (t *tx) PutState(_ context.Context, st domain.LedgerState) error {
	if t.readOnly {
		return errReadOnly
	}
	t.state = &st
	return nil
}

func (t *tx) Position(_ context.Context, id uint64) (domain.Position, error) {
	if p, ok := t.positions[id]; ok {
		return clonePosition(p), nil
	}
	if p, ok := t.s.positions[id]; ok {
		return clonePosition(p), nil
	}
	return domain.Position{}, domain.ErrNotFound
}

func (t *tx) PutPosition(_ context.Context, pos domain.Position) error {
	if t.readOnly {
		return errReadOnly
	}
	t.positions[pos.ID] = clonePosition(pos)
	return nil
}

func (t *tx) TraderPositions(_ context.Context, trader string) ([]uint64, error) {
	ids, ok := t.traders[trader]
	if !ok {
		ids = t.s.traders[trader]
	}
	return append([]uint64(nil), ids...), nil
}

func (t *tx) AppendTraderPosition(ctx context.Context, trader string, id uint64) error {
	if t.readOnly {
		return errReadOnly
	}
	ids, _ := t.TraderPositions(ctx, trader)
	t.traders[trader] = append(ids, id)
	return nil
}

func (t *tx) commit() {
	if t.state != nil {
		st := *t.state
		t.s.state = &st
	}
	for id, p := range t.positions {
		t.s.positions[id] = p
	}
	for trader, ids := range t.traders {
		t.s.traders[trader] = ids
	}
}

func page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return items[:0]
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}

var _ domain.LedgerStore = (*LedgerStore)(nil)

// clonePosition copies the close fields so no caller shares memory with a
// stored record.
func clonePosition(p domain.Position) domain.Position {
	if p.ClosePrice != nil {
		v := *p.ClosePrice
		p.ClosePrice = &v
	}
	if p.CloseTime != nil {
		v := *p.CloseTime
		p.CloseTime = &v
	}
	if p.RealizedPnL != nil {
		v := *p.RealizedPnL
		p.RealizedPnL = &v
	}
	return p
}
