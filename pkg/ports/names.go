package ports

import (
	"context"
	"time"
)

// ReleaseFunc gives up a name claim.
type ReleaseFunc func(ctx context.Context) error

// NameService maps a well-known service name to the id of the node that serves it.
type NameService interface {
	// Lookup returns the id registered under name.
	// Returns domain.ErrHubUnavailable if nobody holds the name.
	Lookup(ctx context.Context, name string) (string, error)

	// Claim registers id under name for ttl. Claiming a name already held by the same id
	// refreshes the ttl. Returns domain.ErrHubConflict if another id holds it.
	// The returned ReleaseFunc MUST be called on shutdown; otherwise the claim expires via ttl.
	Claim(ctx context.Context, name, id string, ttl time.Duration) (ReleaseFunc, error)
}
