// Package custody implements the asset-custody collaborator the ledger
// delegates value movement to.
package custody

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/perpledger/internal/domain"
)

// Simulated keeps custody in process: it tallies what each party paid in and
// was paid out, and the net amount held.
type Simulated struct {
	mu       sync.Mutex
	held     int64
	credited map[string]int64
	debited  map[string]int64
	logger   *slog.Logger
}

// NewSimulated returns an empty Simulated custody.
func NewSimulated(logger *slog.Logger) *Simulated {
	return &Simulated{
		credited: make(map[string]int64),
		debited:  make(map[string]int64),
		logger:   logger,
	}
}

func (s *Simulated) Credit(ctx context.Context, from string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("custody: credit %d: %w", amount, domain.ErrInvalidInput)
	}
	s.mu.Lock()
	s.held += amount
	s.credited[from] += amount
	s.mu.Unlock()

	s.logger.DebugContext(ctx, "custody: credited",
		slog.String("from", from),
		slog.Int64("amount", amount),
	)
	return nil
}

func (s *Simulated) Debit(ctx context.Context, to string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("custody: debit %d: %w", amount, domain.ErrInvalidInput)
	}
	s.mu.Lock()
	s.held -= amount
	s.debited[to] += amount
	s.mu.Unlock()

	s.logger.DebugContext(ctx, "custody: debited",
		slog.String("to", to),
		slog.Int64("amount", amount),
	)
	return nil
}

// Held is the net amount currently in custody.
func (s *Simulated) Held() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held
}

// Credited is the total party has paid into custody.
func (s *Simulated) Credited(party string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credited[party]
}

// Debited is the total paid out of custody to party.
func (s *Simulated) Debited(party string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.debited[party]
}

var _ domain.Custody = (*Simulated)(nil)
