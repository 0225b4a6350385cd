package sensor

import (
	"context"
	"log/slog"
	"time"

	"github.com/aretw0/railhub/internal/logging"
	"github.com/aretw0/railhub/pkg/ports"
)

// Toggle is a debounced presence change.
type Toggle struct {
	Present bool
	At      time.Time
}

// Sampler polls one detector input and feeds its debouncer.
type Sampler struct {
	hw        ports.Hardware
	address   string
	debouncer *Debouncer
	rate      time.Duration
	onToggle  func(Toggle)
	logger    *slog.Logger
}

// SamplerOption configures a Sampler.
type SamplerOption func(*Sampler)

// WithRate sets the sampling period.
func WithRate(rate time.Duration) SamplerOption {
	return func(s *Sampler) {
		if rate > 0 {
			s.rate = rate
		}
	}
}

// WithLogger configures the structured logger.
func WithLogger(logger *slog.Logger) SamplerOption {
	return func(s *Sampler) {
		s.logger = logger
	}
}

// NewSampler creates a sampler that reports honored toggles to onToggle.
// onToggle runs on the sampler goroutine, so edges of one detector are strictly ordered.
func NewSampler(hw ports.Hardware, address string, debouncer *Debouncer, onToggle func(Toggle), opts ...SamplerOption) *Sampler {
	s := &Sampler{
		hw:        hw,
		address:   address,
		debouncer: debouncer,
		rate:      100 * time.Millisecond,
		onToggle:  onToggle,
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Debouncer returns the debouncer fed by this sampler.
func (s *Sampler) Debouncer() *Debouncer {
	return s.debouncer
}

// Run samples until ctx is cancelled. Read failures are logged once per outage
// and skipped; they never stop the loop.
func (s *Sampler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.rate)
	defer ticker.Stop()

	failing := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			level, err := s.read(ctx)
			if err != nil {
				if !failing {
					s.logger.Warn("Detector read failed", "address", s.address, "err", err)
					failing = true
				}
				continue
			}
			if failing {
				s.logger.Info("Detector readable again", "address", s.address)
				failing = false
			}

			toggled, present := s.debouncer.Sample(level)
			if toggled && s.onToggle != nil {
				s.onToggle(Toggle{Present: present, At: s.debouncer.LastToggle()})
			}
		}
	}
}

func (s *Sampler) read(ctx context.Context) (bool, error) {
	in, err := s.hw.Input(s.address)
	if err != nil {
		return false, err
	}
	return in.Read(ctx)
}
