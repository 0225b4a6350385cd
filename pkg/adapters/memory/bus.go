package memory

import (
	"context"
	"errors"
	"math/rand"
	"sync"

	"github.com/aretw0/railhub/pkg/domain"
)

// ErrBusClosed is returned by operations on a closed bus.
var ErrBusClosed = errors.New("bus closed")

// DefaultInboxSize is the number of undelivered messages a subscriber may queue before
// further messages to it are dropped.
const DefaultInboxSize = 128

// Bus implements ports.Bus in memory. Every subscriber owns a buffered inbox;
// publishing never blocks and drops messages for subscribers whose inbox is full,
// like a lossy radio network would.
// Safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*subscriber
	nextID int
	closed bool

	inboxSize int
	dropRate  float64
	duplicate bool
	filter    func(domain.Message) bool
	rng       *rand.Rand
	rngMu     sync.Mutex
}

type subscriber struct {
	channels map[domain.Channel]bool
	inbox    chan domain.Message
}

// BusOption configures the Bus.
type BusOption func(*Bus)

// WithInboxSize sets the per-subscriber buffer.
func WithInboxSize(n int) BusOption {
	return func(b *Bus) {
		if n > 0 {
			b.inboxSize = n
		}
	}
}

// WithDropRate drops each delivery with probability p.
func WithDropRate(p float64) BusOption {
	return func(b *Bus) {
		b.dropRate = p
	}
}

// WithDuplicates delivers every message twice.
func WithDuplicates(enabled bool) BusOption {
	return func(b *Bus) {
		b.duplicate = enabled
	}
}

// WithFilter installs a predicate evaluated per publish; returning false drops the message
// for everyone (e.g. to simulate a partitioned node).
func WithFilter(filter func(domain.Message) bool) BusOption {
	return func(b *Bus) {
		b.filter = filter
	}
}

// WithSeed makes the drop decisions reproducible.
func WithSeed(seed int64) BusOption {
	return func(b *Bus) {
		b.rng = rand.New(rand.NewSource(seed))
	}
}

// NewBus creates a new in-memory bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		subs:      make(map[int]*subscriber),
		inboxSize: DefaultInboxSize,
		rng:       rand.New(rand.NewSource(1)),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetFilter replaces the publish filter at runtime.
func (b *Bus) SetFilter(filter func(domain.Message) bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.filter = filter
}

// Publish delivers msg to every subscriber of its channel without blocking.
func (b *Bus) Publish(ctx context.Context, msg domain.Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrBusClosed
	}
	if b.filter != nil && !b.filter(msg) {
		return nil
	}

	channel := msg.Channel()
	copies := 1
	if b.duplicate {
		copies = 2
	}

	for _, sub := range b.subs {
		if !sub.channels[channel] {
			continue
		}
		for i := 0; i < copies; i++ {
			if b.shouldDrop() {
				continue
			}
			select {
			case sub.inbox <- msg:
			default:
				// Inbox full: the message is lost.
			}
		}
	}
	return nil
}

// Subscribe registers an inbox for the given channels until ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context, channels ...domain.Channel) (<-chan domain.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}

	sub := &subscriber{
		channels: make(map[domain.Channel]bool, len(channels)),
		inbox:    make(chan domain.Message, b.inboxSize),
	}
	for _, c := range channels {
		sub.channels[c] = true
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = sub

	go func() {
		<-ctx.Done()
		b.unsubscribe(id)
	}()

	return sub.inbox, nil
}

func (b *Bus) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	close(sub.inbox)
}

// Close closes every subscription.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.inbox)
	}
	return nil
}

func (b *Bus) shouldDrop() bool {
	if b.dropRate <= 0 {
		return false
	}
	b.rngMu.Lock()
	defer b.rngMu.Unlock()
	return b.rng.Float64() < b.dropRate
}
