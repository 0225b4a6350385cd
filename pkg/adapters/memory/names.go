package memory

import (
	"context"
	"sync"
	"time"

	"github.com/aretw0/railhub/pkg/domain"
	"github.com/aretw0/railhub/pkg/ports"
)

// Names implements ports.NameService in memory.
// Safe for concurrent use.
type Names struct {
	mu      sync.Mutex
	entries map[string]nameEntry
	now     func() time.Time
}

type nameEntry struct {
	id      string
	expires time.Time
}

// NewNames creates an empty name service.
func NewNames() *Names {
	return &Names{
		entries: make(map[string]nameEntry),
		now:     time.Now,
	}
}

// Lookup returns the live holder of name.
func (n *Names) Lookup(ctx context.Context, name string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	entry, ok := n.entries[name]
	if !ok || n.now().After(entry.expires) {
		return "", domain.ErrHubUnavailable
	}
	return entry.id, nil
}

// Claim registers or refreshes id under name.
func (n *Names) Claim(ctx context.Context, name, id string, ttl time.Duration) (ports.ReleaseFunc, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()
	if entry, ok := n.entries[name]; ok && entry.id != id && now.Before(entry.expires) {
		return nil, domain.ErrHubConflict
	}
	n.entries[name] = nameEntry{id: id, expires: now.Add(ttl)}

	return func(ctx context.Context) error {
		n.mu.Lock()
		defer n.mu.Unlock()
		if entry, ok := n.entries[name]; ok && entry.id == id {
			delete(n.entries, name)
		}
		return nil
	}, nil
}
