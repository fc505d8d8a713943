// Package bus is a small process-local publish/subscribe channel for
// change events, with an optional Redis mirror so that sibling
// processes can observe the same stream.
package bus

import (
	"context"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

const defaultChannel = "inkwell:changes"

// Bus delivers published payloads to every in-process subscriber and,
// when configured with a Redis client, mirrors them onto a pub/sub
// channel. Mirroring is best-effort: a Redis failure is logged and
// never blocks local delivery.
type Bus struct {
	mu      sync.Mutex
	subs    []chan []byte
	redis   *redis.Client
	channel string
	closed  bool
}

func New() *Bus {
	return &Bus{channel: defaultChannel}
}

// NewWithRedis builds a bus mirroring onto the given Redis client.
func NewWithRedis(client *redis.Client) *Bus {
	return &Bus{redis: client, channel: defaultChannel}
}

// Subscribe registers a new listener and returns its channel. Slow
// subscribers drop messages rather than stalling the publisher.
func (b *Bus) Subscribe() <-chan []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan []byte, 64)
	b.subs = append(b.subs, ch)
	return ch
}

// Publish delivers payload to every subscriber and mirrors it to Redis
// when configured.
func (b *Bus) Publish(ctx context.Context, payload []byte) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	subs := make([]chan []byte, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- payload:
		default:
			log.Printf("bus: dropping event for slow subscriber")
		}
	}

	if b.redis != nil {
		if err := b.redis.Publish(ctx, b.channel, payload).Err(); err != nil {
			log.Printf("bus: redis publish failed: %v", err)
		}
	}
}

// Channel is the Redis channel name mirrored events are published on.
func (b *Bus) Channel() string {
	return b.channel
}

// Close stops delivery and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
