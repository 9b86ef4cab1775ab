package ledger

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/perpledger/internal/domain"
)

// Ledger event types, published on domain.ChannelLedger and written to the
// audit log.
const (
	EventInitialized      = "ledger_initialized"
	EventPositionOpened   = "position_opened"
	EventPositionClosed   = "position_closed"
	EventBalanceWithdrawn = "balance_withdrawn"
	EventPaused           = "ledger_paused"
	EventResumed          = "ledger_resumed"
)

// Event is a committed ledger mutation.
type Event struct {
	Type string         `json:"event"`
	At   time.Time      `json:"at"`
	Data map[string]any `json:"data"`
}

// emit publishes and audits evt. Both are best effort: the mutation has
// already committed.
func (l *Ledger) emit(ctx context.Context, evt Event) {
	if evt.At.IsZero() {
		evt.At = l.now().UTC()
	}

	if l.bus != nil {
		payload, err := json.Marshal(evt)
		if err == nil {
			err = l.bus.Publish(ctx, domain.ChannelLedger, payload)
		}
		if err != nil {
			l.logger.WarnContext(ctx, "ledger: publish event failed",
				slog.String("event", evt.Type),
				slog.String("error", err.Error()),
			)
		}
	}

	if l.audit != nil {
		if err := l.audit.Log(ctx, evt.Type, evt.Data); err != nil {
			l.logger.WarnContext(ctx, "ledger: audit log failed",
				slog.String("event", evt.Type),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (l *Ledger) alert(ctx context.Context, event, title, message string) {
	if l.alerter == nil {
		return
	}
	if err := l.alerter.Notify(ctx, event, title, message); err != nil {
		l.logger.WarnContext(ctx, "ledger: notify failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
