// Package network routes bus messages to per-kind handlers and correlates replies.
package network

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/railhub/internal/logging"
	"github.com/aretw0/railhub/internal/metrics"
	"github.com/aretw0/railhub/pkg/domain"
	"github.com/aretw0/railhub/pkg/ports"
)

// Handler processes one inbound message. Handlers run on the receive loop and must not
// block on the network; long work belongs in a goroutine.
type Handler func(ctx context.Context, msg domain.Message)

// Endpoint is a node's attachment to the bus.
type Endpoint struct {
	id      string
	bus     ports.Bus
	logger  *slog.Logger
	metrics *metrics.Collector
	window  int

	mu       sync.Mutex
	handlers map[domain.Kind]Handler
	pending  map[string]chan domain.Message
	seen     map[string]struct{}
	order    []string
	done     chan struct{}
}

// Option configures an Endpoint.
type Option func(*Endpoint)

// WithLogger configures the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Endpoint) {
		e.logger = logger
	}
}

// WithMetrics counts dropped messages.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Endpoint) {
		e.metrics = c
	}
}

// WithDedupWindow sets how many recent message ids are remembered.
func WithDedupWindow(n int) Option {
	return func(e *Endpoint) {
		if n > 0 {
			e.window = n
		}
	}
}

// New creates an endpoint for the node id.
func New(id string, bus ports.Bus, opts ...Option) *Endpoint {
	e := &Endpoint{
		id:       id,
		bus:      bus,
		logger:   logging.NewNop(),
		window:   512,
		handlers: make(map[domain.Kind]Handler),
		pending:  make(map[string]chan domain.Message),
		seen:     make(map[string]struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ID returns the node id the endpoint speaks for.
func (e *Endpoint) ID() string {
	return e.id
}

// Handle registers the handler for a message kind, replacing any previous one.
func (e *Endpoint) Handle(kind domain.Kind, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[kind] = h
}

// Start subscribes to every channel and runs the receive loop until ctx ends.
// It returns once the subscription is live.
func (e *Endpoint) Start(ctx context.Context) error {
	inbox, err := e.bus.Subscribe(ctx, domain.Channels...)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	go e.loop(ctx, inbox)
	return nil
}

// Done is closed when the receive loop has exited.
func (e *Endpoint) Done() <-chan struct{} {
	return e.done
}

// Send publishes a message.
func (e *Endpoint) Send(ctx context.Context, msg domain.Message) error {
	if err := e.bus.Publish(ctx, msg); err != nil {
		return fmt.Errorf("failed to send %s: %w", msg.Kind, err)
	}
	return nil
}

// Reply answers req with a message of the given kind.
func (e *Endpoint) Reply(ctx context.Context, req domain.Message, kind domain.Kind, payload any) error {
	reply, err := req.Reply(kind, e.id, payload)
	if err != nil {
		return err
	}
	return e.Send(ctx, reply)
}

// Request publishes msg and waits for the first message whose ReplyTo is msg.ID.
// It returns domain.ErrRequestTimeout when nothing arrives within timeout.
func (e *Endpoint) Request(ctx context.Context, msg domain.Message, timeout time.Duration) (domain.Message, error) {
	ch := make(chan domain.Message, 1)
	e.mu.Lock()
	e.pending[msg.ID] = ch
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.pending, msg.ID)
		e.mu.Unlock()
	}()

	if err := e.Send(ctx, msg); err != nil {
		return domain.Message{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case reply := <-ch:
		return reply, nil
	case <-timer.C:
		return domain.Message{}, fmt.Errorf("%s after %v: %w", msg.Kind, timeout, domain.ErrRequestTimeout)
	case <-ctx.Done():
		return domain.Message{}, ctx.Err()
	}
}

func (e *Endpoint) loop(ctx context.Context, inbox <-chan domain.Message) {
	defer close(e.done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-inbox:
			if !ok {
				return
			}
			e.dispatch(ctx, msg)
		}
	}
}

func (e *Endpoint) dispatch(ctx context.Context, msg domain.Message) {
	if msg.From == e.id || !msg.For(e.id) {
		return
	}
	if msg.ID == "" {
		e.drop(msg, "malformed")
		return
	}
	if !e.remember(msg.ID) {
		e.drop(msg, "duplicate")
		return
	}

	e.mu.Lock()
	if msg.ReplyTo != "" {
		if ch, ok := e.pending[msg.ReplyTo]; ok {
			delete(e.pending, msg.ReplyTo)
			e.mu.Unlock()
			ch <- msg
			return
		}
	}
	h, ok := e.handlers[msg.Kind]
	e.mu.Unlock()

	if !ok {
		// Replies nobody waits for any more land here too.
		e.logger.Debug("No handler for message", "kind", msg.Kind, "from", msg.From)
		return
	}
	h(ctx, msg)
}

// remember records id and reports whether it was new.
func (e *Endpoint) remember(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.seen[id]; ok {
		return false
	}
	e.seen[id] = struct{}{}
	e.order = append(e.order, id)
	if len(e.order) > e.window {
		delete(e.seen, e.order[0])
		e.order = e.order[1:]
	}
	return true
}

func (e *Endpoint) drop(msg domain.Message, reason string) {
	e.metrics.Dropped(reason)
	e.logger.Debug("Dropping message", "reason", reason, "kind", msg.Kind, "id", msg.ID, "from", msg.From)
}
