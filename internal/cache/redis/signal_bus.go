package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/cryptoquant/internal/domain"
	"github.com/alanyoungcy/cryptoquant/internal/metrics"
)

// subscriberBuffer is the per-subscription channel depth.
const subscriberBuffer = 128

// SignalBus implements domain.SignalBus on Redis Pub/Sub. Delivery is
// fire-and-forget: a subscriber whose buffer is full loses the message,
// the same as the in-process bus, so one stalled dashboard cannot back up
// the book stream for the executor.
type SignalBus struct {
	rdb redis.UniversalClient
}

// NewSignalBus creates a SignalBus backed by c.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.Underlying()}
}

// Publish sends payload to channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	kind := metrics.ChannelKind(channel)
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		metrics.BusMessages.WithLabelValues("redis", kind, "error").Inc()
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	metrics.BusMessages.WithLabelValues("redis", kind, "published").Inc()
	return nil
}

// Subscribe returns a channel of payloads for channel, which may be a glob
// pattern such as "book:*". The subscription is confirmed before returning.
// The channel closes when ctx is done or the connection is torn down.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	pubsub := sb.open(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, subscriberBuffer)
	go sb.relay(ctx, pubsub, out)
	return out, nil
}

func (sb *SignalBus) open(ctx context.Context, channel string) *redis.PubSub {
	if isPattern(channel) {
		return sb.rdb.PSubscribe(ctx, channel)
	}
	return sb.rdb.Subscribe(ctx, channel)
}

// relay copies messages into out until ctx ends, dropping on a full buffer.
func (sb *SignalBus) relay(ctx context.Context, pubsub *redis.PubSub, out chan<- []byte) {
	defer close(out)
	defer pubsub.Close()

	in := pubsub.Channel(redis.WithChannelSize(subscriberBuffer))
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			kind := metrics.ChannelKind(msg.Channel)
			select {
			case out <- []byte(msg.Payload):
				metrics.BusMessages.WithLabelValues("redis", kind, "delivered").Inc()
			default:
				metrics.BusMessages.WithLabelValues("redis", kind, "dropped").Inc()
			}
		}
	}
}

func isPattern(channel string) bool {
	return strings.ContainsAny(channel, "*?[")
}

var _ domain.SignalBus = (*SignalBus)(nil)
