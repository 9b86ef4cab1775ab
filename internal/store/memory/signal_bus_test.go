package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalBusPubSub(t *testing.T) {
	bus := NewSignalBus()
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := bus.Subscribe(ctx, "ledger")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), "oracle", []byte("ignored")))
	require.NoError(t, bus.Publish(context.Background(), "ledger", []byte("hello")))

	select {
	case got := <-ch:
		assert.Equal(t, "hello", string(got))
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}
}

func TestSignalBusStreams(t *testing.T) {
	ctx := context.Background()
	bus := NewSignalBus()
	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, bus.StreamAppend(ctx, "custody", []byte(p)))
	}

	msgs, err := bus.StreamRead(ctx, "custody", "0", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", string(msgs[0].Payload))

	msgs, err = bus.StreamRead(ctx, "custody", msgs[1].ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "c", string(msgs[0].Payload))

	msgs, err = bus.StreamRead(ctx, "other", "0", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
