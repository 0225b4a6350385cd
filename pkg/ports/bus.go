package ports

import (
	"context"

	"github.com/aretw0/railhub/pkg/domain"
)

// Bus is the unreliable broadcast transport between nodes.
// Publish is fire-and-forget: a nil error does not mean the message was delivered.
type Bus interface {
	// Publish sends the message on its channel. It must not block on slow receivers.
	Publish(ctx context.Context, msg domain.Message) error

	// Subscribe delivers every message published on the given channels, including the
	// subscriber's own. The returned channel is closed when ctx is cancelled or the bus closes.
	Subscribe(ctx context.Context, channels ...domain.Channel) (<-chan domain.Message, error)

	// Close releases the transport.
	Close() error
}
