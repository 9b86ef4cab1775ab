package custody

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/perpledger/internal/domain"
)

// DefaultStream is the stream transfer instructions are appended to.
const DefaultStream = "custody:transfers"

// Transfer directions.
const (
	DirectionCredit = "credit"
	DirectionDebit  = "debit"
)

// Instruction is one transfer for the settlement worker to carry out. When
// the ledger has an operator key, Signature is the operator's signature over
// the instruction encoded with an empty Signature and Signer is its address.
type Instruction struct {
	ID        string    `json:"id"`
	Direction string    `json:"direction"`
	Party     string    `json:"party"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
	Signer    string    `json:"signer,omitempty"`
	Signature string    `json:"signature,omitempty"`
}

// MessageSigner signs instruction payloads. crypto.Signer implements it.
type MessageSigner interface {
	Address() string
	SignMessage(msg []byte) (string, error)
}

// Stream hands transfers to an external settlement worker by appending
// instructions to a durable stream. A failed append fails the transfer, which
// in turn rolls back the ledger operation that requested it.
type Stream struct {
	bus    domain.SignalBus
	stream string
	signer MessageSigner
	logger *slog.Logger
}

// NewStream creates a Stream custody writing to the named stream. signer may
// be nil, in which case instructions go out unsigned.
func NewStream(bus domain.SignalBus, stream string, signer MessageSigner, logger *slog.Logger) *Stream {
	if stream == "" {
		stream = DefaultStream
	}
	return &Stream{bus: bus, stream: stream, signer: signer, logger: logger}
}

func (s *Stream) Credit(ctx context.Context, from string, amount int64) error {
	return s.append(ctx, DirectionCredit, from, amount)
}

func (s *Stream) Debit(ctx context.Context, to string, amount int64) error {
	return s.append(ctx, DirectionDebit, to, amount)
}

func (s *Stream) append(ctx context.Context, direction, party string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("custody: %s %d: %w", direction, amount, domain.ErrInvalidInput)
	}
	in := Instruction{
		ID:        uuid.New().String(),
		Direction: direction,
		Party:     party,
		Amount:    amount,
		CreatedAt: time.Now().UTC(),
	}
	if s.signer != nil {
		in.Signer = s.signer.Address()
		unsigned, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("custody: marshal instruction: %w", err)
		}
		if in.Signature, err = s.signer.SignMessage(unsigned); err != nil {
			return fmt.Errorf("custody: sign instruction: %w", err)
		}
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("custody: marshal instruction: %w", err)
	}
	if err := s.bus.StreamAppend(ctx, s.stream, payload); err != nil {
		return fmt.Errorf("custody: append %s instruction: %w", direction, err)
	}

	s.logger.InfoContext(ctx, "custody: transfer queued",
		slog.String("id", in.ID),
		slog.String("direction", direction),
		slog.String("party", party),
		slog.Int64("amount", amount),
	)
	return nil
}

var _ domain.Custody = (*Stream)(nil)
