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

// setIfPresentScript writes a line level only when the field already exists.
var setIfPresentScript = backend.NewScript(`
	if redis.call("hexists", KEYS[1], ARGV[1]) == 1 then
		redis.call("hset", KEYS[1], ARGV[1], ARGV[2])
		return 1
	end
	return 0
`)

// resolveTimeout bounds the existence check done when resolving an address.
const resolveTimeout = 500 * time.Millisecond

// Hardware implements ports.Hardware on a Redis hash owned by one station.
// A device bridge (e.g. a GPIO daemon) mirrors the hash onto physical lines.
type Hardware struct {
	client *backend.Client
	key    string
}

// NewHardware creates the I/O adapter for station.
func NewHardware(client *backend.Client, prefix, station string) *Hardware {
	return &Hardware{
		client: client,
		key:    prefix + "io:" + station,
	}
}

// Declare provisions an address (low) if it does not exist yet.
func (h *Hardware) Declare(ctx context.Context, address string) error {
	if err := h.client.HSetNX(ctx, h.key, address, "0").Err(); err != nil {
		return fmt.Errorf("failed to declare %s: %w", address, err)
	}
	return nil
}

// Output resolves an actuator address.
func (h *Hardware) Output(address string) (ports.Output, error) {
	if err := h.resolve(address); err != nil {
		return nil, err
	}
	return hashLine{hw: h, address: address}, nil
}

// Input resolves a sensor address.
func (h *Hardware) Input(address string) (ports.Input, error) {
	if err := h.resolve(address); err != nil {
		return nil, err
	}
	return hashLine{hw: h, address: address}, nil
}

func (h *Hardware) resolve(address string) error {
	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	defer cancel()

	ok, err := h.client.HExists(ctx, h.key, address).Result()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrActuatorUnavailable, address, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrActuatorUnavailable, address)
	}
	return nil
}

type hashLine struct {
	hw      *Hardware
	address string
}

func (l hashLine) Set(ctx context.Context, on bool) error {
	level := "0"
	if on {
		level = "1"
	}
	ok, err := setIfPresentScript.Run(ctx, l.hw.client, []string{l.hw.key}, l.address, level).Int()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrActuatorUnavailable, l.address, err)
	}
	if ok != 1 {
		return fmt.Errorf("%w: %s", domain.ErrActuatorUnavailable, l.address)
	}
	return nil
}

func (l hashLine) Read(ctx context.Context) (bool, error) {
	val, err := l.hw.client.HGet(ctx, l.hw.key, l.address).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return false, fmt.Errorf("%w: %s", domain.ErrActuatorUnavailable, l.address)
		}
		return false, fmt.Errorf("%w: %s: %v", domain.ErrActuatorUnavailable, l.address, err)
	}
	return val == "1", nil
}
