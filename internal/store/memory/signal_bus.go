package memory

import (
	"context"
	"slices"
	"strconv"
	"sync"

	"github.com/alanyoungcy/perpledger/internal/domain"
)

const subscriberBuffer = 128

// SignalBus is a single-process domain.SignalBus. Publish drops a payload for
// a subscriber whose buffer is full instead of blocking the publisher.
type SignalBus struct {
	mu      sync.Mutex
	subs    map[string][]chan []byte
	streams map[string][]domain.StreamMessage
	seq     uint64
}

// NewSignalBus returns an empty bus.
func NewSignalBus() *SignalBus {
	return &SignalBus{
		subs:    make(map[string][]chan []byte),
		streams: make(map[string][]domain.StreamMessage),
	}
}

func (b *SignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[channel] {
		select {
		case ch <- slices.Clone(payload):
		default:
		}
	}
	return nil
}

// Subscribe returns a channel closed when ctx is cancelled.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, subscriberBuffer)
	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		b.subs[channel] = slices.DeleteFunc(b.subs[channel], func(c chan []byte) bool { return c == ch })
		close(ch)
	}()
	return ch, nil
}

// Subscribers reports the live subscriptions on channel.
func (b *SignalBus) Subscribers(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[channel])
}

// StreamAppend assigns ids "1", "2", ... in append order.
func (b *SignalBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	b.streams[stream] = append(b.streams[stream], domain.StreamMessage{
		ID:      strconv.FormatUint(b.seq, 10),
		Payload: slices.Clone(payload),
	})
	return nil
}

// StreamRead returns up to count messages with an id greater than lastID.
func (b *SignalBus) StreamRead(_ context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	after, _ := strconv.ParseUint(lastID, 10, 64)

	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.StreamMessage
	for _, m := range b.streams[stream] {
		id, _ := strconv.ParseUint(m.ID, 10, 64)
		if id <= after {
			continue
		}
		out = append(out, m)
		if count > 0 && len(out) == count {
			break
		}
	}
	return out, nil
}

var _ domain.SignalBus = (*SignalBus)(nil)
