package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aretw0/railhub/internal/logging"
	"github.com/aretw0/railhub/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// Bus implements ports.Bus using Redis Pub/Sub.
type Bus struct {
	client *backend.Client
	prefix string
	buffer int
	logger *slog.Logger
}

// Option configures the Bus.
type Option func(*Bus)

// WithPrefix sets the channel name prefix.
func WithPrefix(prefix string) Option {
	return func(b *Bus) {
		b.prefix = prefix
	}
}

// WithBuffer sets the size of each subscription's delivery buffer.
func WithBuffer(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// WithLogger configures a logger for undecodable messages.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		b.logger = logger
	}
}

// New creates a new Redis bus with its own client.
func New(address, password string, db int, opts ...Option) *Bus {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a new Redis bus from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Bus {
	b := &Bus{
		client: client,
		prefix: "railhub:",
		buffer: 128,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Client exposes the underlying Redis client so other adapters can share the connection.
func (b *Bus) Client() *backend.Client {
	return b.client
}

func (b *Bus) channel(c domain.Channel) string {
	return b.prefix + string(c)
}

// Publish encodes msg as JSON and publishes it on its channel.
func (b *Bus) Publish(ctx context.Context, msg domain.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel(msg.Channel()), data).Err(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}
	return nil
}

// Subscribe opens a Pub/Sub connection on the given channels.
func (b *Bus) Subscribe(ctx context.Context, channels ...domain.Channel) (<-chan domain.Message, error) {
	names := make([]string, 0, len(channels))
	for _, c := range channels {
		names = append(names, b.channel(c))
	}

	ps := b.client.Subscribe(ctx, names...)
	// Wait for the subscription confirmation so no message published after
	// Subscribe returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", strings.Join(names, ","), err)
	}

	out := make(chan domain.Message, b.buffer)
	go func() {
		defer close(out)
		defer ps.Close()

		in := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-in:
				if !ok {
					return
				}
				var msg domain.Message
				if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
					b.logger.Warn("Dropping undecodable message", "channel", raw.Channel, "err", err)
					continue
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Close closes the redis client.
func (b *Bus) Close() error {
	return b.client.Close()
}
