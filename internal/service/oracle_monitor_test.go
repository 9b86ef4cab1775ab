package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpledger/internal/domain"
	"github.com/alanyoungcy/perpledger/internal/oracle"
	"github.com/alanyoungcy/perpledger/internal/store/memory"
)

var (
	xlm = domain.OtherAsset("XLM")
	t0  = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
)

type fakeStatus struct {
	o      *oracle.Static
	now    *time.Time
	window time.Duration
	err    error
}

func (f *fakeStatus) OracleFresh(ctx context.Context) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return oracle.Fresh(ctx, f.o, *f.now, f.window)
}

func (f *fakeStatus) Oracle() domain.Oracle { return f.o }

type recordAlerter struct {
	mu     sync.Mutex
	events []string
}

func (a *recordAlerter) Notify(_ context.Context, event, _, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

type recordAges map[string]time.Duration

func (r recordAges) SetOracleAge(asset string, age time.Duration) { r[asset] = age }

type heldLocks struct{}

func (heldLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

func newMonitor(t *testing.T, locks domain.LockManager) (*OracleMonitor, *fakeStatus, *recordAlerter, *memory.SignalBus, recordAges) {
	t.Helper()
	now := t0
	o := oracle.NewStatic(oracle.StaticConfig{Assets: []domain.Asset{xlm}, Price: 10_000_000, Decimals: 7})
	o.Set(xlm, domain.PriceData{Price: 10_000_000, Timestamp: t0})

	status := &fakeStatus{o: o, now: &now, window: 5 * time.Minute}
	alerter := &recordAlerter{}
	bus := memory.NewSignalBus()
	ages := recordAges{}
	m := NewOracleMonitor(status, bus, locks, alerter, ages,
		MonitorConfig{Interval: time.Minute}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	m.now = func() time.Time { return *status.now }
	return m, status, alerter, bus, ages
}

func TestMonitorReportsTransitions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m, status, alerter, bus, ages := newMonitor(t, nil)
	events, err := bus.Subscribe(ctx, domain.ChannelOracle)
	require.NoError(t, err)

	assert.False(t, m.Check(ctx))
	assert.Empty(t, alerter.events)
	assert.Equal(t, time.Duration(0), ages[xlm.Key()])

	*status.now = t0.Add(10 * time.Minute)
	assert.True(t, m.Check(ctx))
	assert.True(t, m.Check(ctx), "stays stale without a second report")
	assert.Equal(t, []string{EventOracleStale}, alerter.events)
	assert.Equal(t, 10*time.Minute, ages[xlm.Key()])

	var evt MonitorEvent
	require.NoError(t, json.Unmarshal(<-events, &evt))
	assert.Equal(t, EventOracleStale, evt.Type)
	assert.Equal(t, int64(600), evt.AgeSeconds)

	status.o.Set(xlm, domain.PriceData{Price: 11_000_000, Timestamp: *status.now})
	assert.False(t, m.Check(ctx))
	assert.Equal(t, []string{EventOracleStale, EventOracleRecovered}, alerter.events)
	require.NoError(t, json.Unmarshal(<-events, &evt))
	assert.Equal(t, EventOracleRecovered, evt.Type)
}

func TestMonitorTreatsErrorsAsStale(t *testing.T) {
	m, status, alerter, _, _ := newMonitor(t, nil)
	status.err = errors.New("oracle: connection refused")

	assert.True(t, m.Check(context.Background()))
	assert.Equal(t, []string{EventOracleStale}, alerter.events)
}

func TestMonitorSkipsWhenLockHeld(t *testing.T) {
	m, status, alerter, _, _ := newMonitor(t, heldLocks{})
	*status.now = t0.Add(time.Hour)

	m.tick(context.Background())
	assert.Empty(t, alerter.events)
}
