package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/railhub/pkg/domain"
	"github.com/aretw0/railhub/pkg/ports"
	backend "github.com/redis/go-redis/v9"
)

// claimScript sets the key if it is free, refreshes it if the caller already holds it,
// and fails otherwise.
var claimScript = backend.NewScript(`
	local v = redis.call("get", KEYS[1])
	if not v then
		redis.call("set", KEYS[1], ARGV[1], "PX", ARGV[2])
		return 1
	end
	if v == ARGV[1] then
		redis.call("pexpire", KEYS[1], ARGV[2])
		return 1
	end
	return 0
`)

// releaseScript deletes the key only if it still holds the caller's id.
var releaseScript = backend.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Names implements ports.NameService using Redis keys with a TTL.
type Names struct {
	client *backend.Client
	prefix string
}

// NewNames creates a new Redis name service.
func NewNames(client *backend.Client, prefix string) *Names {
	return &Names{
		client: client,
		prefix: prefix,
	}
}

func (n *Names) key(name string) string {
	return n.prefix + "service:" + name
}

// Lookup returns the id currently holding name.
func (n *Names) Lookup(ctx context.Context, name string) (string, error) {
	id, err := n.client.Get(ctx, n.key(name)).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return "", domain.ErrHubUnavailable
		}
		return "", fmt.Errorf("failed to look up service %s: %w", name, err)
	}
	return id, nil
}

// Claim acquires or refreshes the service name for id.
func (n *Names) Claim(ctx context.Context, name, id string, ttl time.Duration) (ports.ReleaseFunc, error) {
	key := n.key(name)

	ok, err := claimScript.Run(ctx, n.client, []string{key}, id, ttl.Milliseconds()).Int()
	if err != nil {
		return nil, fmt.Errorf("redis error claiming service %s: %w", name, err)
	}
	if ok != 1 {
		return nil, domain.ErrHubConflict
	}

	return func(ctx context.Context) error {
		return releaseScript.Run(ctx, n.client, []string{key}, id).Err()
	}, nil
}
