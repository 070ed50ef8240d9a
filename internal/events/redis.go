package events

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBus publishes and subscribes to events on one redis pub/sub channel
type RedisBus struct {
	redis   *redis.Client
	channel string
}

// NewRedisBus creates a new RedisBus
func NewRedisBus(client *redis.Client, channel string) *RedisBus {
	return &RedisBus{redis: client, channel: channel}
}

// Publish implements Publisher
func (b *RedisBus) Publish(ctx context.Context, event Event) error {
	payload, err := event.Encode()
	if err != nil {
		return err
	}
	if err := b.redis.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}

// Subscribe implements Subscriber. Each call opens its own redis subscription.
func (b *RedisBus) Subscribe(ctx context.Context) (<-chan []byte, func(), error) {
	pubsub := b.redis.Subscribe(ctx, b.channel)
	// wait for the subscription confirmation so errors surface here
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	out := make(chan []byte, 16)
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer close(out)
		defer pubsub.Close()
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, cancel, nil
}
