// Package redisrelay fans notifications out across service instances. Each
// instance publishes persisted records to one Redis channel and delivers what
// it receives to its own connection registry.
package redisrelay

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v7"
)

// Broker is the publish/subscribe surface the relay needs.
type Broker interface {
	Publish(ctx context.Context, channel string, payload string) error
	// Subscribe returns a message stream that closes when ctx is done or the
	// subscription fails.
	Subscribe(ctx context.Context, channel string) (<-chan string, error)
}

// RedisBroker implements Broker over a go-redis client.
type RedisBroker struct {
	client *redis.Client
}

// Options configures a Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisBroker connects to Redis and verifies the connection.
func NewRedisBroker(opts Options) (*RedisBroker, error) {
	if strings.TrimSpace(opts.Addr) == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping().Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisBroker{client: client}, nil
}

// Publish sends payload on channel.
func (b *RedisBroker) Publish(ctx context.Context, channel string, payload string) error {
	return b.client.WithContext(ctx).Publish(channel, payload).Err()
}

// Subscribe listens on channel until ctx is done.
func (b *RedisBroker) Subscribe(ctx context.Context, channel string) (<-chan string, error) {
	sub := b.client.Subscribe(channel)
	if _, err := sub.Receive(); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	out := make(chan string)
	go func() {
		defer close(out)
		defer sub.Close()
		messages := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close releases the Redis connection pool.
func (b *RedisBroker) Close() error {
	if b == nil || b.client == nil {
		return nil
	}
	return b.client.Close()
}
