// Package station drives the physical rail of one node: the powered platform rail,
// its debounced detectors, the track switches and the parking bays behind them.
package station

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/aretw0/railhub/internal/logging"
	"github.com/aretw0/railhub/internal/metrics"
	"github.com/aretw0/railhub/internal/sensor"
	"github.com/aretw0/railhub/pkg/domain"
	"github.com/aretw0/railhub/pkg/ports"
)

// Config is the physical wiring of a station.
type Config struct {
	Identity       domain.StationIdentity
	Rail           string
	Detector       string
	PlayerDetector string
	Switches       []domain.SwitchDevice

	DebounceInterval time.Duration
	SampleRate       time.Duration
	DispatchTimeout  time.Duration
}

// PersistFunc stores the switch manifest after a switch changes.
type PersistFunc func(ctx context.Context, switches []domain.SwitchDevice) error

// Station owns the rail hardware of one node.
// Presence and switch state are guarded by mu; a single dispatch may hold the rail at a time.
type Station struct {
	cfg     Config
	hw      ports.Hardware
	logger  *slog.Logger
	metrics *metrics.Collector
	persist PersistFunc
	now     func() time.Time

	main *sensor.Debouncer
	bays map[int]*sensor.Debouncer

	mu          sync.Mutex
	hasTrain    bool
	switches    []domain.SwitchDevice
	occupancy   map[int]domain.BayState
	dispatching bool
	subs        map[int]chan domain.StationEvent
	nextSub     int
}

// Option configures a Station.
type Option func(*Station)

// WithLogger configures the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Station) {
		s.logger = logger
	}
}

// WithMetrics records dispatch outcomes and toggles.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Station) {
		s.metrics = c
	}
}

// WithPersist stores the switch manifest whenever a switch is set.
func WithPersist(fn PersistFunc) Option {
	return func(s *Station) {
		s.persist = fn
	}
}

// WithClock replaces the time source of the debouncers.
func WithClock(now func() time.Time) Option {
	return func(s *Station) {
		s.now = now
	}
}

// New creates a station. The platform rail and main detector are mandatory and must
// resolve now; switch and bay addresses are resolved on use.
func New(cfg Config, hw ports.Hardware, opts ...Option) (*Station, error) {
	if cfg.DebounceInterval <= 0 {
		cfg.DebounceInterval = domain.DefaultDebounceInterval
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = domain.DefaultSampleRate
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = domain.DefaultDispatchTimeout
	}

	s := &Station{
		cfg:       cfg,
		hw:        hw,
		logger:    logging.NewNop(),
		now:       time.Now,
		bays:      make(map[int]*sensor.Debouncer),
		occupancy: make(map[int]domain.BayState),
		subs:      make(map[int]chan domain.StationEvent),
	}
	for _, opt := range opts {
		opt(s)
	}

	if _, err := hw.Output(cfg.Rail); err != nil {
		return nil, fmt.Errorf("failed to resolve rail actuator %q: %w", cfg.Rail, err)
	}
	if _, err := hw.Input(cfg.Detector); err != nil {
		return nil, fmt.Errorf("failed to resolve main detector %q: %w", cfg.Detector, err)
	}

	seen := make(map[int]bool, len(cfg.Switches))
	for _, sw := range cfg.Switches {
		if seen[sw.Index] {
			return nil, fmt.Errorf("duplicate switch index %d", sw.Index)
		}
		seen[sw.Index] = true
		s.switches = append(s.switches, sw)
		if sw.HasBay() {
			s.bays[sw.Index] = sensor.NewDebouncer(cfg.DebounceInterval, sensor.WithClock(s.now))
			s.occupancy[sw.Index] = domain.BayState{SwitchIndex: sw.Index}
		}
	}
	sort.Slice(s.switches, func(i, j int) bool { return s.switches[i].Index < s.switches[j].Index })
	s.main = sensor.NewDebouncer(cfg.DebounceInterval, sensor.WithClock(s.now))

	return s, nil
}

// Identity returns the configured identity.
func (s *Station) Identity() domain.StationIdentity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Identity
}

// SetRole changes the role reported by Identity. Coordination built on the
// previous identity keeps it until rebuilt.
func (s *Station) SetRole(role domain.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Identity.Role = role
}

// Run samples every detector until ctx is cancelled.
func (s *Station) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	start := func(sampler *sensor.Sampler) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = sampler.Run(ctx)
		}()
	}

	start(sensor.NewSampler(s.hw, s.cfg.Detector, s.main, s.onMainToggle,
		sensor.WithRate(s.cfg.SampleRate), sensor.WithLogger(s.logger)))
	for _, sw := range s.Switches() {
		if !sw.HasBay() {
			continue
		}
		index := sw.Index
		start(sensor.NewSampler(s.hw, sw.BayDetector, s.bays[index], func(tg sensor.Toggle) { s.onBayToggle(index, tg) },
			sensor.WithRate(s.cfg.SampleRate), sensor.WithLogger(s.logger)))
	}

	wg.Wait()
	s.closeSubscribers()
	return nil
}

// HasTrain reports the debounced presence at the platform.
func (s *Station) HasTrain() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasTrain
}

// Dispatching reports whether a dispatch currently holds the rail.
func (s *Station) Dispatching() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dispatching
}

// Switches returns a copy of the switch manifest ordered by index.
func (s *Station) Switches() []domain.SwitchDevice {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.SwitchDevice, len(s.switches))
	copy(out, s.switches)
	return out
}

// Bays returns the occupancy of every parking bay ordered by switch index.
func (s *Station) Bays() []domain.BayState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.BayState, 0, len(s.occupancy))
	for _, b := range s.occupancy {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SwitchIndex < out[j].SwitchIndex })
	return out
}

// PlayersNearby reads the player detector. A station without one never has players nearby.
func (s *Station) PlayersNearby(ctx context.Context) (bool, error) {
	if s.cfg.PlayerDetector == "" {
		return false, nil
	}
	in, err := s.hw.Input(s.cfg.PlayerDetector)
	if err != nil {
		return false, fmt.Errorf("failed to resolve player detector: %w", err)
	}
	return in.Read(ctx)
}

// Subscribe returns a stream of debounced presence events and a function to stop it.
// Slow subscribers lose events rather than stall the samplers.
func (s *Station) Subscribe() (<-chan domain.StationEvent, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan domain.StationEvent, 16)
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
}

func (s *Station) onMainToggle(tg sensor.Toggle) {
	s.mu.Lock()
	s.hasTrain = tg.Present
	s.mu.Unlock()

	s.metrics.Toggled("main")
	s.logger.Info("Train presence changed", "station", s.cfg.Identity.ID, "has_train", tg.Present)
	s.emit(domain.StationEvent{Timestamp: tg.At, Type: eventFor(tg.Present), Source: domain.MainDetector})
}

func (s *Station) onBayToggle(index int, tg sensor.Toggle) {
	s.mu.Lock()
	s.occupancy[index] = domain.BayState{SwitchIndex: index, Occupied: tg.Present, LastToggle: tg.At}
	s.mu.Unlock()

	s.metrics.Toggled(fmt.Sprintf("bay-%d", index))
	s.logger.Info("Bay occupancy changed", "station", s.cfg.Identity.ID, "bay", index, "occupied", tg.Present)
	s.emit(domain.StationEvent{Timestamp: tg.At, Type: eventFor(tg.Present), Source: index})
}

func eventFor(present bool) domain.EventType {
	if present {
		return domain.EventArrived
	}
	return domain.EventDeparted
}

func (s *Station) emit(ev domain.StationEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.logger.Warn("Dropping station event for slow subscriber", "type", ev.Type, "source", ev.Source)
		}
	}
}

func (s *Station) closeSubscribers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}

// unavailable reports whether err is the recoverable I/O class.
func unavailable(err error) bool {
	return errors.Is(err, domain.ErrActuatorUnavailable)
}
