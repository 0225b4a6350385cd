// Package config describes a node's station file: who it is, which addresses it drives,
// its timings and how it reaches the other stations.
package config

import (
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aretw0/railhub/pkg/domain"
)

// Transport kinds.
const (
	TransportRedis  = "redis"
	TransportMemory = "memory"
)

// Config is the persisted node configuration.
type Config struct {
	ServiceName string    `yaml:"service_name" mapstructure:"service_name"`
	Station     Station   `yaml:"station" mapstructure:"station"`
	Timings     Timings   `yaml:"timings" mapstructure:"timings"`
	Transport   Transport `yaml:"transport" mapstructure:"transport"`
	HTTP        HTTP      `yaml:"http" mapstructure:"http"`
	Log         Log       `yaml:"log" mapstructure:"log"`
}

// Station is the identity and device map of the local station.
type Station struct {
	ID             string                `yaml:"id" mapstructure:"id"`
	Label          string                `yaml:"label" mapstructure:"label"`
	Role           domain.Role           `yaml:"role" mapstructure:"role"`
	Position       domain.Position       `yaml:"position" mapstructure:"position"`
	Rail           string                `yaml:"rail" mapstructure:"rail"`
	Detector       string                `yaml:"detector" mapstructure:"detector"`
	PlayerDetector string                `yaml:"player_detector,omitempty" mapstructure:"player_detector"`
	Switches       []domain.SwitchDevice `yaml:"switches" mapstructure:"switches"`
}

// Identity returns the station identity.
func (s Station) Identity() domain.StationIdentity {
	label := s.Label
	if label == "" {
		label = s.ID
	}
	return domain.StationIdentity{ID: s.ID, Label: label, Role: s.Role, Position: s.Position}
}

// Addresses lists every device line the station drives or reads.
func (s Station) Addresses() []string {
	out := []string{s.Rail, s.Detector}
	if s.PlayerDetector != "" {
		out = append(out, s.PlayerDetector)
	}
	for _, sw := range s.Switches {
		out = append(out, sw.Actuator)
		if sw.BayDetector != "" {
			out = append(out, sw.BayDetector)
		}
		if sw.BayActuator != "" {
			out = append(out, sw.BayActuator)
		}
	}
	return out
}

// Timings groups every tunable duration of the coordination core.
type Timings struct {
	Debounce          time.Duration `yaml:"debounce" mapstructure:"debounce"`
	SampleRate        time.Duration `yaml:"sample_rate" mapstructure:"sample_rate"`
	DispatchTimeout   time.Duration `yaml:"dispatch_timeout" mapstructure:"dispatch_timeout"`
	LockTimeout       time.Duration `yaml:"lock_timeout" mapstructure:"lock_timeout"`
	Countdown         time.Duration `yaml:"countdown" mapstructure:"countdown"`
	IdleGrace         time.Duration `yaml:"idle_grace" mapstructure:"idle_grace"`
	PlayerPoll        time.Duration `yaml:"player_poll" mapstructure:"player_poll"`
	DiscoveryTimeout  time.Duration `yaml:"discovery_timeout" mapstructure:"discovery_timeout"`
	RegisterTimeout   time.Duration `yaml:"register_timeout" mapstructure:"register_timeout"`
	RetryInterval     time.Duration `yaml:"retry_interval" mapstructure:"retry_interval"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" mapstructure:"heartbeat_interval"`
	AckTimeout        time.Duration `yaml:"ack_timeout" mapstructure:"ack_timeout"`
	MaxMissedAcks     int           `yaml:"max_missed_acks" mapstructure:"max_missed_acks"`
	StaleAfter        time.Duration `yaml:"stale_after" mapstructure:"stale_after"`
	ClaimTTL          time.Duration `yaml:"claim_ttl" mapstructure:"claim_ttl"`
}

// Transport selects the broadcast bus, name service and device backend.
type Transport struct {
	Kind  string `yaml:"kind" mapstructure:"kind"`
	Redis Redis  `yaml:"redis" mapstructure:"redis"`
}

// Redis holds the connection settings of the redis transport.
type Redis struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password,omitempty" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
	Prefix   string `yaml:"prefix" mapstructure:"prefix"`
}

// HTTP configures the status API. An empty Addr disables it.
type HTTP struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// Log configures the application logger.
type Log struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Default returns a single-station hub configuration with the default timings.
func Default() *Config {
	return &Config{
		ServiceName: domain.DefaultServiceName,
		Station: Station{
			ID:       "station-1",
			Label:    "Station 1",
			Role:     domain.RoleHub,
			Rail:     "rail",
			Detector: "detector",
			Switches: []domain.SwitchDevice{},
		},
		Timings: DefaultTimings(),
		Transport: Transport{
			Kind:  TransportRedis,
			Redis: Redis{Addr: "localhost:6379", Prefix: "railhub"},
		},
		HTTP: HTTP{Addr: ":8080"},
		Log:  Log{Level: "info", Format: "text"},
	}
}

// DefaultTimings returns the documented default durations.
func DefaultTimings() Timings {
	return Timings{
		Debounce:          domain.DefaultDebounceInterval,
		SampleRate:        domain.DefaultSampleRate,
		DispatchTimeout:   domain.DefaultDispatchTimeout,
		LockTimeout:       domain.DefaultLockTimeout,
		Countdown:         domain.DefaultCountdown,
		IdleGrace:         domain.DefaultIdleGrace,
		PlayerPoll:        domain.DefaultPlayerPoll,
		DiscoveryTimeout:  domain.DefaultDiscoveryTimeout,
		RegisterTimeout:   domain.DefaultRegisterTimeout,
		RetryInterval:     domain.DefaultRetryInterval,
		HeartbeatInterval: domain.DefaultHeartbeatInterval,
		AckTimeout:        domain.DefaultAckTimeout,
		MaxMissedAcks:     domain.DefaultMaxMissedAcks,
		StaleAfter:        domain.DefaultStaleAfter,
		ClaimTTL:          domain.DefaultClaimTTL,
	}
}

// Parse decodes a YAML station file on top of the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	cfg.Station = Station{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse station config: %w", err)
	}
	if role, err := domain.ParseRole(string(cfg.Station.Role)); err == nil {
		cfg.Station.Role = role
	}
	cfg.fillZeroTimings()
	return cfg, nil
}

// Marshal encodes the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode station config: %w", err)
	}
	return data, nil
}

// fillZeroTimings restores defaults for timings a file explicitly zeroed.
func (c *Config) fillZeroTimings() {
	def := DefaultTimings()
	t := &c.Timings
	fill := func(v *time.Duration, d time.Duration) {
		if *v <= 0 {
			*v = d
		}
	}
	fill(&t.Debounce, def.Debounce)
	fill(&t.SampleRate, def.SampleRate)
	fill(&t.DispatchTimeout, def.DispatchTimeout)
	fill(&t.LockTimeout, def.LockTimeout)
	fill(&t.IdleGrace, def.IdleGrace)
	fill(&t.PlayerPoll, def.PlayerPoll)
	fill(&t.DiscoveryTimeout, def.DiscoveryTimeout)
	fill(&t.RegisterTimeout, def.RegisterTimeout)
	fill(&t.RetryInterval, def.RetryInterval)
	fill(&t.HeartbeatInterval, def.HeartbeatInterval)
	fill(&t.AckTimeout, def.AckTimeout)
	fill(&t.StaleAfter, def.StaleAfter)
	fill(&t.ClaimTTL, def.ClaimTTL)
	if t.MaxMissedAcks <= 0 {
		t.MaxMissedAcks = def.MaxMissedAcks
	}
	if t.Countdown < 0 {
		t.Countdown = 0
	}
}

// Validate reports every problem of the configuration at once.
func (c *Config) Validate() error {
	var errs []error
	st := c.Station
	if st.ID == "" {
		errs = append(errs, errors.New("station.id is required"))
	}
	if st.ID == domain.HubDestination {
		errs = append(errs, fmt.Errorf("station.id %q is reserved", st.ID))
	}
	if _, err := domain.ParseRole(string(st.Role)); err != nil {
		errs = append(errs, fmt.Errorf("station.role: %w", err))
	}
	if st.Rail == "" {
		errs = append(errs, errors.New("station.rail is required"))
	}
	if st.Detector == "" {
		errs = append(errs, errors.New("station.detector is required"))
	}

	seen := make(map[int]bool, len(st.Switches))
	for _, sw := range st.Switches {
		switch {
		case sw.Index < 0:
			errs = append(errs, fmt.Errorf("switch %d: index must not be negative", sw.Index))
		case seen[sw.Index]:
			errs = append(errs, fmt.Errorf("switch %d: duplicate index", sw.Index))
		}
		seen[sw.Index] = true
		if sw.Actuator == "" {
			errs = append(errs, fmt.Errorf("switch %d: actuator is required", sw.Index))
		}
		if sw.BayDetector != "" && !sw.Parking {
			errs = append(errs, fmt.Errorf("switch %d: bay_detector set on a non-parking switch", sw.Index))
		}
		if sw.HasBay() && sw.BayActuator == "" {
			errs = append(errs, fmt.Errorf("switch %d: parking bay needs a bay_actuator", sw.Index))
		}
	}

	switch c.Transport.Kind {
	case TransportMemory:
	case TransportRedis:
		if c.Transport.Redis.Addr == "" {
			errs = append(errs, errors.New("transport.redis.addr is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("transport.kind %q: expected redis or memory", c.Transport.Kind))
	}

	if c.Timings.Debounce <= c.Timings.SampleRate {
		errs = append(errs, errors.New("timings.debounce must exceed timings.sample_rate"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid station config: %w", errors.Join(errs...))
	}
	return nil
}
