package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisBroker implements MessageBroker over Redis pub/sub. It shares the
// session store's client, so no extra connection pool is needed.
type RedisBroker struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisBroker(client *redis.Client, logger *zap.Logger) *RedisBroker {
	return &RedisBroker{client: client, logger: logger}
}

func (b *RedisBroker) Publish(ctx context.Context, channel string, message Message) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return b.client.Publish(ctx, channel, data).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context, channels ...string) (<-chan Message, error) {
	pubsub := b.client.Subscribe(ctx, channels...)

	// Receive forces the SUBSCRIBE round trip so a bad channel or dead
	// connection surfaces here instead of as silence later.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe to %v: %w", channels, err)
	}

	messages := make(chan Message, 100)
	go func() {
		defer close(messages)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var message Message
				if err := json.Unmarshal([]byte(msg.Payload), &message); err != nil {
					b.logger.Warn("dropping undecodable broker message",
						zap.String("channel", msg.Channel), zap.Error(err))
					continue
				}
				select {
				case messages <- message:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return messages, nil
}

func (b *RedisBroker) Type() string { return "redis" }

// Close is a no-op; the underlying client is owned by the store.
func (b *RedisBroker) Close() error { return nil }
