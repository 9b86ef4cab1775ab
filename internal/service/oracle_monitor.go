// Package service holds the background workers that run beside the ledger.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/perpledger/internal/domain"
)

// Events published on the oracle channel by the monitor.
const (
	EventOracleStale     = "oracle_stale"
	EventOracleRecovered = "oracle_recovered"
)

const monitorLockKey = "oracle_monitor"

// OracleStatus is the part of the ledger the monitor polls.
type OracleStatus interface {
	OracleFresh(ctx context.Context) (bool, error)
	Oracle() domain.Oracle
}

// Alerter delivers operator notifications.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// AgeObserver records how old each quote is.
type AgeObserver interface {
	SetOracleAge(asset string, age time.Duration)
}

// MonitorConfig configures an OracleMonitor.
type MonitorConfig struct {
	Interval time.Duration
	LockTTL  time.Duration
}

// OracleMonitor polls oracle freshness and reports fresh/stale transitions.
// With a LockManager only the instance holding the lock checks on a tick.
type OracleMonitor struct {
	status  OracleStatus
	bus     domain.SignalBus   // optional
	locks   domain.LockManager // optional
	alerter Alerter            // optional
	ages    AgeObserver        // optional
	cfg     MonitorConfig
	now     func() time.Time
	logger  *slog.Logger

	stale bool
}

// NewOracleMonitor creates an OracleMonitor. Any of bus, locks, alerter and
// ages may be nil.
func NewOracleMonitor(
	status OracleStatus,
	bus domain.SignalBus,
	locks domain.LockManager,
	alerter Alerter,
	ages AgeObserver,
	cfg MonitorConfig,
	logger *slog.Logger,
) *OracleMonitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = cfg.Interval
	}
	return &OracleMonitor{
		status:  status,
		bus:     bus,
		locks:   locks,
		alerter: alerter,
		ages:    ages,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "oracle_monitor")),
	}
}

// MonitorEvent is the payload published on a transition.
type MonitorEvent struct {
	Type          string     `json:"event"`
	LastTimestamp *time.Time `json:"last_timestamp,omitempty"`
	AgeSeconds    int64      `json:"age_seconds"`
	Error         string     `json:"error,omitempty"`
	At            time.Time  `json:"at"`
}

// Run checks once immediately and then every interval until ctx is done.
func (m *OracleMonitor) Run(ctx context.Context) error {
	m.logger.InfoContext(ctx, "oracle monitor: started", slog.Duration("interval", m.cfg.Interval))
	m.tick(ctx)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *OracleMonitor) tick(ctx context.Context) {
	if m.locks != nil {
		unlock, err := m.locks.Acquire(ctx, monitorLockKey, m.cfg.LockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			return
		}
		if err != nil {
			m.logger.WarnContext(ctx, "oracle monitor: acquire lock", slog.String("error", err.Error()))
			return
		}
		defer unlock()
	}
	m.Check(ctx)
}

// Check evaluates freshness once and reports a transition if there is one.
// It returns whether the oracle is currently stale.
func (m *OracleMonitor) Check(ctx context.Context) bool {
	now := m.now().UTC()
	fresh, err := m.status.OracleFresh(ctx)

	evt := MonitorEvent{At: now}
	if err != nil {
		evt.Error = err.Error()
	}
	if last, lerr := m.status.Oracle().LastTimestamp(ctx); lerr == nil && !last.IsZero() {
		evt.LastTimestamp = &last
		evt.AgeSeconds = int64(now.Sub(last).Seconds())
	}
	m.recordAges(ctx, now)

	stale := err != nil || !fresh
	switch {
	case stale && !m.stale:
		evt.Type = EventOracleStale
		m.logger.WarnContext(ctx, "oracle monitor: oracle is stale",
			slog.Int64("age_seconds", evt.AgeSeconds),
			slog.String("error", evt.Error),
		)
		m.report(ctx, evt, "Oracle stale", staleMessage(evt))
	case !stale && m.stale:
		evt.Type = EventOracleRecovered
		m.logger.InfoContext(ctx, "oracle monitor: oracle recovered", slog.Int64("age_seconds", evt.AgeSeconds))
		m.report(ctx, evt, "Oracle recovered", "Oracle prices are fresh again.")
	}
	m.stale = stale
	return stale
}

func (m *OracleMonitor) recordAges(ctx context.Context, now time.Time) {
	if m.ages == nil {
		return
	}
	o := m.status.Oracle()
	assets, err := o.Assets(ctx)
	if err != nil {
		return
	}
	for _, a := range assets {
		pd, ok, err := o.LastPrice(ctx, a)
		if err != nil || !ok {
			continue
		}
		m.ages.SetOracleAge(a.Key(), now.Sub(pd.Timestamp))
	}
}

func (m *OracleMonitor) report(ctx context.Context, evt MonitorEvent, title, message string) {
	if m.bus != nil {
		if data, err := json.Marshal(evt); err == nil {
			if err := m.bus.Publish(ctx, domain.ChannelOracle, data); err != nil {
				m.logger.WarnContext(ctx, "oracle monitor: publish failed", slog.String("error", err.Error()))
			}
		}
	}
	if m.alerter != nil {
		if err := m.alerter.Notify(ctx, evt.Type, title, message); err != nil {
			m.logger.WarnContext(ctx, "oracle monitor: notify failed", slog.String("error", err.Error()))
		}
	}
}

func staleMessage(evt MonitorEvent) string {
	if evt.Error != "" {
		return "Oracle unavailable: " + evt.Error
	}
	if evt.LastTimestamp == nil {
		return "Oracle has no prices."
	}
	return fmt.Sprintf("Last oracle update %s (%ds ago).", evt.LastTimestamp.Format(time.RFC3339), evt.AgeSeconds)
}
