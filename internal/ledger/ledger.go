// Package ledger implements the position ledger: margined long/short
// positions priced against an oracle, the aggregate custody balance, and the
// admin-guarded lifecycle controls. Every public operation runs as a single
// LedgerStore.Update so it either commits fully or leaves no trace.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/perpledger/internal/domain"
	"github.com/alanyoungcy/perpledger/internal/oracle"
)

const (
	// MinMargin is one whole unit of the base asset in 7-decimal fixed point.
	MinMargin int64 = 10_000_000
	// MaxLeverage is the highest accepted leverage multiplier.
	MaxLeverage int64 = 10
	// PriceDecimals is the fixed-point scale of stored entry and close prices.
	PriceDecimals uint32 = 7
)

// Config holds the ledger's policy knobs.
type Config struct {
	// Asset is the oracle asset positions are priced against.
	Asset         domain.Asset
	PriceDecimals uint32
	MinMargin     int64
	MaxLeverage   int64
	// EnforcePause rejects open and close while the ledger is paused.
	EnforcePause bool
	// RequireFreshPrice rejects open and close when the quote is older than
	// Freshness.
	RequireFreshPrice bool
	Freshness         time.Duration
}

// DefaultConfig returns the stock policy: XLM, 7 decimals, pause enforced,
// freshness reported but not enforced.
func DefaultConfig() Config {
	return Config{
		Asset:         domain.OtherAsset("XLM"),
		PriceDecimals: PriceDecimals,
		MinMargin:     MinMargin,
		MaxLeverage:   MaxLeverage,
		EnforcePause:  true,
		Freshness:     oracle.DefaultFreshness,
	}
}

// Observer receives operation telemetry. metrics.Ledger implements it.
type Observer interface {
	ObserveOperation(op string, kind domain.ErrorKind, elapsed time.Duration)
	SetBalance(balance int64)
	AddOpenPositions(delta int)
}

// Alerter delivers operator notifications. notify.Notifier implements it.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Option customises a Ledger.
type Option func(*Ledger)

// WithEvents publishes ledger events on bus after each committed mutation.
func WithEvents(bus domain.SignalBus) Option {
	return func(l *Ledger) { l.bus = bus }
}

// WithAudit appends ledger events to the audit log.
func WithAudit(audit domain.AuditStore) Option {
	return func(l *Ledger) { l.audit = audit }
}

// WithObserver reports operation telemetry to obs.
func WithObserver(obs Observer) Option {
	return func(l *Ledger) { l.obs = obs }
}

// WithAlerter sends admin actions to the operators.
func WithAlerter(a Alerter) Option {
	return func(l *Ledger) { l.alerter = a }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// Ledger is the position ledger.
type Ledger struct {
	cfg     Config
	store   domain.LedgerStore
	oracle  domain.Oracle
	custody domain.Custody
	logger  *slog.Logger

	bus     domain.SignalBus
	audit   domain.AuditStore
	obs     Observer
	alerter Alerter
	now     func() time.Time
}

// New creates a Ledger over its required collaborators. Limits outside the
// position policy (leverage 1..MaxLeverage, margin >= MinMargin) are clamped
// back to it.
func New(
	cfg Config,
	store domain.LedgerStore,
	prices domain.Oracle,
	custody domain.Custody,
	logger *slog.Logger,
	opts ...Option,
) *Ledger {
	if cfg.MaxLeverage < 1 || cfg.MaxLeverage > MaxLeverage {
		cfg.MaxLeverage = MaxLeverage
	}
	if cfg.MinMargin < MinMargin {
		cfg.MinMargin = MinMargin
	}
	l := &Ledger{
		cfg:     cfg,
		store:   store,
		oracle:  prices,
		custody: custody,
		logger:  logger,
		obs:     nopObserver{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Initialize records the admin and oracle references, seeds the id counter at
// 1 and the balance at 0, and activates the ledger. It can run only once.
func (l *Ledger) Initialize(ctx context.Context, admin, oracleAddress string) (err error) {
	defer l.observe("initialize", time.Now(), &err)

	if admin == "" {
		return fmt.Errorf("ledger: initialize: %w: empty admin", domain.ErrInvalidInput)
	}

	err = l.store.Update(ctx, func(tx domain.LedgerTx) error {
		_, err := tx.State(ctx)
		switch {
		case err == nil:
			return domain.ErrAlreadyInitialized
		case !errors.Is(err, domain.ErrUninitialized):
			return err
		}
		return tx.PutState(ctx, domain.LedgerState{
			Admin:          admin,
			OracleAddress:  oracleAddress,
			NextPositionID: 1,
			Active:         true,
		})
	})
	if err != nil {
		return l.reject(ctx, "initialize", err)
	}

	l.logger.InfoContext(ctx, "ledger: initialized",
		slog.String("admin", admin),
		slog.String("oracle", oracleAddress),
	)
	l.emit(ctx, Event{Type: EventInitialized, Data: map[string]any{
		"admin":          admin,
		"oracle_address": oracleAddress,
	}})
	l.obs.SetBalance(0)
	return nil
}

// GetBalance returns the aggregate custody balance.
func (l *Ledger) GetBalance(ctx context.Context) (int64, error) {
	st, err := l.state(ctx)
	if err != nil {
		return 0, fmt.Errorf("ledger: get balance: %w", err)
	}
	return st.Balance, nil
}

// GetStats returns the balance, the next position id and the pause flag.
func (l *Ledger) GetStats(ctx context.Context) (domain.Stats, error) {
	st, err := l.state(ctx)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("ledger: get stats: %w", err)
	}
	return domain.Stats{
		Balance:        st.Balance,
		NextPositionID: st.NextPositionID,
		Active:         st.Active,
	}, nil
}

// GetPosition returns the position with the given id.
func (l *Ledger) GetPosition(ctx context.Context, id uint64) (domain.Position, error) {
	var pos domain.Position
	err := l.store.View(ctx, func(tx domain.LedgerTx) error {
		var err error
		pos, err = tx.Position(ctx, id)
		return err
	})
	if err != nil {
		return domain.Position{}, fmt.Errorf("ledger: get position %d: %w", id, err)
	}
	return pos, nil
}

// GetTraderPositions returns every position id the trader has opened, oldest
// first. A trader with no positions gets an empty slice.
func (l *Ledger) GetTraderPositions(ctx context.Context, trader string) ([]uint64, error) {
	var ids []uint64
	err := l.store.View(ctx, func(tx domain.LedgerTx) error {
		var err error
		ids, err = tx.TraderPositions(ctx, trader)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: trader positions: %w", err)
	}
	if ids == nil {
		ids = []uint64{}
	}
	return ids, nil
}

// Positions lists stored positions ordered by id.
func (l *Ledger) Positions(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	ps, err := l.store.Positions(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("ledger: list positions: %w", err)
	}
	return ps, nil
}

const syncPageSize = 500

// SyncObserver seeds the observer from stored state: the current balance and
// the number of open positions. Call it once at startup, before any
// mutation, so the open-positions gauge does not drift across restarts. An
// uninitialized ledger has nothing to seed.
func (l *Ledger) SyncObserver(ctx context.Context) error {
	st, err := l.state(ctx)
	if errors.Is(err, domain.ErrUninitialized) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("ledger: sync observer: %w", err)
	}

	open := 0
	for offset := 0; ; offset += syncPageSize {
		page, err := l.store.Positions(ctx, domain.ListOpts{Limit: syncPageSize, Offset: offset})
		if err != nil {
			return fmt.Errorf("ledger: sync observer: %w", err)
		}
		for _, p := range page {
			if p.Status == domain.PositionStatusOpen {
				open++
			}
		}
		if len(page) < syncPageSize {
			break
		}
	}

	l.obs.SetBalance(st.Balance)
	l.obs.AddOpenPositions(open)
	l.logger.InfoContext(ctx, "ledger: observer seeded",
		slog.Int64("balance", st.Balance),
		slog.Int("open_positions", open),
	)
	return nil
}

func (l *Ledger) state(ctx context.Context) (domain.LedgerState, error) {
	var st domain.LedgerState
	err := l.store.View(ctx, func(tx domain.LedgerTx) error {
		var err error
		st, err = tx.State(ctx)
		return err
	})
	return st, err
}

// reject logs a failed mutation and wraps err with the operation name.
func (l *Ledger) reject(ctx context.Context, op string, err error) error {
	kind := domain.KindOf(err)
	level := slog.LevelWarn
	if kind == domain.KindInternal {
		level = slog.LevelError
	}
	l.logger.Log(ctx, level, "ledger: operation rejected",
		slog.String("op", op),
		slog.String("kind", string(kind)),
		slog.String("error", err.Error()),
	)
	return fmt.Errorf("ledger: %s: %w", op, err)
}

func (l *Ledger) observe(op string, start time.Time, errp *error) {
	kind := domain.ErrorKind("")
	if *errp != nil {
		kind = domain.KindOf(*errp)
	}
	l.obs.ObserveOperation(op, kind, time.Since(start))
}

type nopObserver struct{}

func (nopObserver) ObserveOperation(string, domain.ErrorKind, time.Duration) {}
func (nopObserver) SetBalance(int64)                                         {}
func (nopObserver) AddOpenPositions(int)                                     {}
