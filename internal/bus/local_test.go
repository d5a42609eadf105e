package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cryptoquant/internal/domain"
)

func receive(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case msg, ok := <-ch:
		require.True(t, ok, "channel closed")
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message")
		return nil
	}
}

func TestLocalExactAndPattern(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := NewLocal()
	books, err := b.Subscribe(ctx, domain.ChannelBookPrefix+"*")
	require.NoError(t, err)
	orders, err := b.Subscribe(ctx, domain.ChannelOrder)
	require.NoError(t, err)

	payload := []byte("snap")
	require.NoError(t, b.Publish(ctx, domain.BookChannel(domain.SymbolBTCUSDT), payload))
	require.NoError(t, b.Publish(ctx, domain.ChannelOrder, []byte(`{"id":1}`)))

	got := receive(t, books)
	assert.Equal(t, "snap", string(got))
	payload[0] = 'X'
	assert.Equal(t, "snap", string(got), "subscriber owns its copy")

	assert.JSONEq(t, `{"id":1}`, string(receive(t, orders)))
	select {
	case <-books:
		t.Fatal("order event leaked into book subscription")
	default:
	}
}

func TestLocalDropsForSlowSubscriber(t *testing.T) {
	ctx := context.Background()
	b := NewLocal()
	ch, err := b.Subscribe(ctx, domain.ChannelSignal)
	require.NoError(t, err)

	for i := 0; i < subscriberBuffer+10; i++ {
		require.NoError(t, b.Publish(ctx, domain.ChannelSignal, []byte{byte(i)}))
	}
	assert.Len(t, ch, subscriberBuffer)
}

func TestLocalUnsubscribeOnCancelAndClose(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := NewLocal()
	ch, err := b.Subscribe(ctx, domain.ChannelStatus)
	require.NoError(t, err)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	other, err := b.Subscribe(context.Background(), domain.ChannelStatus)
	require.NoError(t, err)
	b.Close()
	b.Close()
	_, ok := <-other
	assert.False(t, ok)

	late, err := b.Subscribe(context.Background(), domain.ChannelStatus)
	require.NoError(t, err)
	_, ok = <-late
	assert.False(t, ok)
}

func TestLocalRejectsBadPattern(t *testing.T) {
	_, err := NewLocal().Subscribe(context.Background(), "book:[")
	assert.Error(t, err)
}
