package custody

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpledger/internal/crypto"
	"github.com/alanyoungcy/perpledger/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingBus struct {
	mu      sync.Mutex
	streams map[string][][]byte
	err     error
}

func (b *recordingBus) Publish(context.Context, string, []byte) error { return nil }

func (b *recordingBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

func (b *recordingBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	if b.err != nil {
		return b.err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.streams == nil {
		b.streams = make(map[string][][]byte)
	}
	b.streams[stream] = append(b.streams[stream], payload)
	return nil
}

func (b *recordingBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func TestSimulatedTallies(t *testing.T) {
	ctx := context.Background()
	s := NewSimulated(discardLogger())

	require.NoError(t, s.Credit(ctx, "alice", 30))
	require.NoError(t, s.Credit(ctx, "bob", 20))
	require.NoError(t, s.Debit(ctx, "alice", 45))

	assert.Equal(t, int64(5), s.Held())
	assert.Equal(t, int64(30), s.Credited("alice"))
	assert.Equal(t, int64(45), s.Debited("alice"))
	assert.Zero(t, s.Debited("bob"))

	assert.ErrorIs(t, s.Credit(ctx, "alice", 0), domain.ErrInvalidInput)
	assert.ErrorIs(t, s.Debit(ctx, "alice", -1), domain.ErrInvalidInput)
}

func TestStreamAppendsInstructions(t *testing.T) {
	ctx := context.Background()
	bus := &recordingBus{}
	s := NewStream(bus, "", nil, discardLogger())

	require.NoError(t, s.Credit(ctx, "alice", 10_000_000))
	require.NoError(t, s.Debit(ctx, "alice", 12_000_000))

	msgs := bus.streams[DefaultStream]
	require.Len(t, msgs, 2)

	var in Instruction
	require.NoError(t, json.Unmarshal(msgs[1], &in))
	assert.Equal(t, DirectionDebit, in.Direction)
	assert.Equal(t, "alice", in.Party)
	assert.Equal(t, int64(12_000_000), in.Amount)
	assert.NotEmpty(t, in.ID)
}

func TestStreamPropagatesAppendFailure(t *testing.T) {
	bus := &recordingBus{err: errors.New("redis down")}
	s := NewStream(bus, "transfers", nil, discardLogger())
	err := s.Credit(context.Background(), "alice", 1)
	assert.ErrorContains(t, err, "redis down")
}

func TestStreamSignsInstructions(t *testing.T) {
	signer, err := crypto.NewSigner("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)
	bus := &recordingBus{}
	s := NewStream(bus, "", signer, discardLogger())

	require.NoError(t, s.Debit(context.Background(), "bob", 7))

	var in Instruction
	require.NoError(t, json.Unmarshal(bus.streams[DefaultStream][0], &in))
	assert.Equal(t, signer.Address(), in.Signer)
	require.NotEmpty(t, in.Signature)

	sig := in.Signature
	in.Signature = ""
	unsigned, err := json.Marshal(in)
	require.NoError(t, err)
	assert.NoError(t, crypto.VerifyMessage(unsigned, sig, in.Signer))
}
