package memory

import (
	"context"
	"sync"
	"time"

	"github.com/aretw0/railhub/pkg/domain"
	"github.com/aretw0/railhub/pkg/ports"
)

// Change is one recorded level change of an address.
type Change struct {
	At time.Time
	On bool
}

// Hardware implements ports.Hardware with a map of addressable lines.
// Outputs and inputs share the address space, so a test can drive a detector
// with Set and observe an actuator with Level or History.
// Safe for concurrent use.
type Hardware struct {
	mu      sync.Mutex
	lines   map[string]bool
	history map[string][]Change
	now     func() time.Time
}

// NewHardware creates a device bus with the given addresses present and low.
func NewHardware(addresses ...string) *Hardware {
	h := &Hardware{
		lines:   make(map[string]bool),
		history: make(map[string][]Change),
		now:     time.Now,
	}
	for _, addr := range addresses {
		h.lines[addr] = false
	}
	return h
}

// Declare makes an address present (low) if it is not already.
func (h *Hardware) Declare(address string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.lines[address]; !ok {
		h.lines[address] = false
	}
}

// Remove detaches an address, making it unresolvable.
func (h *Hardware) Remove(address string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.lines, address)
}

// Set drives an address level directly, declaring it if needed.
func (h *Hardware) Set(address string, on bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.write(address, on)
}

// Level returns the current level of an address.
func (h *Hardware) Level(address string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lines[address]
}

// History returns the recorded changes of an address.
func (h *Hardware) History(address string) []Change {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Change, len(h.history[address]))
	copy(out, h.history[address])
	return out
}

func (h *Hardware) write(address string, on bool) {
	h.lines[address] = on
	h.history[address] = append(h.history[address], Change{At: h.now(), On: on})
}

// Output resolves an actuator address.
func (h *Hardware) Output(address string) (ports.Output, error) {
	if !h.present(address) {
		return nil, domain.ErrActuatorUnavailable
	}
	return line{hw: h, address: address}, nil
}

// Input resolves a sensor address.
func (h *Hardware) Input(address string) (ports.Input, error) {
	if !h.present(address) {
		return nil, domain.ErrActuatorUnavailable
	}
	return line{hw: h, address: address}, nil
}

func (h *Hardware) present(address string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.lines[address]
	return ok
}

type line struct {
	hw      *Hardware
	address string
}

func (l line) Set(ctx context.Context, on bool) error {
	l.hw.mu.Lock()
	defer l.hw.mu.Unlock()
	if _, ok := l.hw.lines[l.address]; !ok {
		return domain.ErrActuatorUnavailable
	}
	l.hw.write(l.address, on)
	return nil
}

func (l line) Read(ctx context.Context) (bool, error) {
	l.hw.mu.Lock()
	defer l.hw.mu.Unlock()
	on, ok := l.hw.lines[l.address]
	if !ok {
		return false, domain.ErrActuatorUnavailable
	}
	return on, nil
}
