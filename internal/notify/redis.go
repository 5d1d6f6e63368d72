package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisBroker implements Broker over a redis pub/sub channel
type RedisBroker struct {
	client  *redis.Client
	channel string
	origin  string
}

// NewRedisBroker creates a broker publishing on the given channel
func NewRedisBroker(address, password string, db int, channel string) (*RedisBroker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisBroker{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
	}, nil
}

// NewRedisBrokerFromClient wraps an existing redis client
func NewRedisBrokerFromClient(client *redis.Client, channel string) *RedisBroker {
	return &RedisBroker{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
	}
}

// Origin returns the broker's instance id, stamped on published changes
func (b *RedisBroker) Origin() string {
	return b.origin
}

// Publish broadcasts a change on the redis channel
func (b *RedisBroker) Publish(ctx context.Context, change Change) error {
	if change.Origin == "" {
		change.Origin = b.origin
	}
	if change.At.IsZero() {
		change.At = time.Now().UTC()
	}

	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to marshal change: %w", err)
	}

	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish change: %w", err)
	}

	return nil
}

// Subscribe listens on the redis channel and decodes changes.
// Malformed payloads are logged and skipped.
func (b *RedisBroker) Subscribe(ctx context.Context) (<-chan Change, func(), error) {
	sub := b.client.Subscribe(ctx, b.channel)

	// Force the subscription to establish before returning
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, nil, fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}

	ch := make(chan Change, 16)

	go func() {
		defer close(ch)
		for msg := range sub.Channel() {
			var change Change
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				slog.Warn("dropping malformed change payload",
					"channel", b.channel,
					"error", err,
				)
				continue
			}
			select {
			case ch <- change:
			case <-ctx.Done():
				return
			}
		}
	}()

	cancel := func() {
		if err := sub.Close(); err != nil {
			slog.Warn("failed to close subscription", "error", err)
		}
	}

	return ch, cancel, nil
}

// HealthCheck verifies redis connectivity
func (b *RedisBroker) HealthCheck(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close closes the redis connection
func (b *RedisBroker) Close() error {
	return b.client.Close()
}
