// Package bus provides an in-process domain.SignalBus used when Redis is not
// configured. It follows the Redis bus semantics: fire-and-forget delivery,
// glob patterns on Subscribe and slow subscribers lose messages.
package bus

import (
	"context"
	"path"
	"strings"
	"sync"

	"github.com/alanyoungcy/cryptoquant/internal/metrics"
)

const subscriberBuffer = 128

type subscriber struct {
	pattern string
	glob    bool
	ch      chan []byte
}

// Local fans published payloads out to in-process subscribers.
type Local struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	closed bool
}

// NewLocal creates an empty bus.
func NewLocal() *Local {
	return &Local{subs: make(map[*subscriber]struct{})}
}

// Publish delivers payload to every matching subscriber without blocking.
// Each subscriber gets its own copy.
func (b *Local) Publish(_ context.Context, channel string, payload []byte) error {
	kind := metrics.ChannelKind(channel)
	metrics.BusMessages.WithLabelValues("local", kind, "published").Inc()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if !s.matches(channel) {
			continue
		}
		msg := make([]byte, len(payload))
		copy(msg, payload)
		select {
		case s.ch <- msg:
			metrics.BusMessages.WithLabelValues("local", kind, "delivered").Inc()
		default:
			metrics.BusMessages.WithLabelValues("local", kind, "dropped").Inc()
		}
	}
	return nil
}

// Subscribe returns a channel of payloads for channel, which may contain
// glob characters. The channel closes when ctx ends or the bus is closed.
func (b *Local) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	if _, err := path.Match(channel, ""); err != nil {
		return nil, err
	}
	s := &subscriber{
		pattern: channel,
		glob:    strings.ContainsAny(channel, "*?["),
		ch:      make(chan []byte, subscriberBuffer),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(s.ch)
		return s.ch, nil
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.remove(s)
	}()
	return s.ch, nil
}

// Close ends every subscription.
func (b *Local) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		delete(b.subs, s)
		close(s.ch)
	}
}

func (b *Local) remove(s *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; ok {
		delete(b.subs, s)
		close(s.ch)
	}
}

func (s *subscriber) matches(channel string) bool {
	if !s.glob {
		return s.pattern == channel
	}
	ok, _ := path.Match(s.pattern, channel)
	return ok
}
