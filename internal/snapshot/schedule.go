package snapshot

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alanyoungcy/perpledger/internal/domain"
)

const lockKey = "snapshot"

// Run exports a snapshot every interval until ctx is done. When locks is not
// nil only the instance holding the lock exports on a given tick.
func (e *Exporter) Run(ctx context.Context, interval time.Duration, locks domain.LockManager) error {
	if interval <= 0 {
		return errors.New("snapshot: interval must be positive")
	}
	e.logger.InfoContext(ctx, "snapshot: scheduler started", slog.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.tick(ctx, interval, locks)
		}
	}
}

func (e *Exporter) tick(ctx context.Context, interval time.Duration, locks domain.LockManager) {
	if locks != nil {
		unlock, err := locks.Acquire(ctx, lockKey, interval)
		if errors.Is(err, domain.ErrLockHeld) {
			e.logger.DebugContext(ctx, "snapshot: another instance holds the lock")
			return
		}
		if err != nil {
			e.logger.WarnContext(ctx, "snapshot: acquire lock", slog.String("error", err.Error()))
			return
		}
		defer unlock()
	}
	if _, err := e.Export(ctx); err != nil {
		e.logger.ErrorContext(ctx, "snapshot: scheduled export failed", slog.String("error", err.Error()))
	}
}
