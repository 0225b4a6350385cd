package railhub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/aretw0/railhub/internal/adapters/file"
	"github.com/aretw0/railhub/internal/config"
	"github.com/aretw0/railhub/internal/departure"
	"github.com/aretw0/railhub/internal/hub"
	"github.com/aretw0/railhub/internal/logging"
	"github.com/aretw0/railhub/internal/membership"
	"github.com/aretw0/railhub/internal/metrics"
	"github.com/aretw0/railhub/internal/network"
	"github.com/aretw0/railhub/internal/remote"
	"github.com/aretw0/railhub/internal/station"
	"github.com/aretw0/railhub/pkg/adapters/memory"
	redisAdapter "github.com/aretw0/railhub/pkg/adapters/redis"
	"github.com/aretw0/railhub/pkg/domain"
	"github.com/aretw0/railhub/pkg/ports"
)

// brakeTimeout bounds the known-safe brake at startup and shutdown.
const brakeTimeout = 2 * time.Second

// coordinator is the role-specific subsystem running on top of the station.
type coordinator interface {
	Run(ctx context.Context) error
	Ready() <-chan struct{}
	Status(ctx context.Context) domain.NodeStatus
	SelectDestination(ctx context.Context, dest string) error
	CancelDeparture(ctx context.Context) error
	SetSwitch(ctx context.Context, index int, state bool) error
	DispatchFromBay(ctx context.Context, index int) error
}

// Node is one station of the network: its hardware plus the hub or remote subsystem.
type Node struct {
	cfg      *config.Config
	store    *file.Store
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Collector

	bus     ports.Bus
	names   ports.NameService
	hw      ports.Hardware
	closers []func() error

	station *station.Station

	mu     sync.RWMutex
	role   domain.Role
	active coordinator
	roles  chan domain.Role
}

// Option configures a Node.
type Option func(*Node)

// WithLogger sets the structured logger of the node and every component.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Node) {
		n.logger = logger
	}
}

// WithStore persists switch states and role changes to a station file.
func WithStore(store *file.Store) Option {
	return func(n *Node) {
		n.store = store
	}
}

// WithTransport replaces the configured bus and name service.
func WithTransport(bus ports.Bus, names ports.NameService) Option {
	return func(n *Node) {
		n.bus = bus
		n.names = names
	}
}

// WithHardware replaces the configured device backend.
func WithHardware(hw ports.Hardware) Option {
	return func(n *Node) {
		n.hw = hw
	}
}

// New builds a node from a validated configuration.
func New(cfg *config.Config, opts ...Option) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	n := &Node{
		cfg:      cfg,
		logger:   logging.NewNop(),
		registry: prometheus.NewRegistry(),
		role:     cfg.Station.Role,
		roles:    make(chan domain.Role, 1),
	}
	for _, opt := range opts {
		opt(n)
	}

	collector, err := metrics.New(n.registry)
	if err != nil {
		return nil, err
	}
	n.metrics = collector

	if err := n.connect(); err != nil {
		return nil, err
	}

	stOpts := []station.Option{station.WithLogger(n.logger), station.WithMetrics(n.metrics)}
	if n.store != nil {
		stOpts = append(stOpts, station.WithPersist(n.store.SaveSwitches))
	}
	st, err := station.New(station.Config{
		Identity:         cfg.Station.Identity(),
		Rail:             cfg.Station.Rail,
		Detector:         cfg.Station.Detector,
		PlayerDetector:   cfg.Station.PlayerDetector,
		Switches:         cfg.Station.Switches,
		DebounceInterval: cfg.Timings.Debounce,
		SampleRate:       cfg.Timings.SampleRate,
		DispatchTimeout:  cfg.Timings.DispatchTimeout,
	}, n.hw, stOpts...)
	if err != nil {
		_ = n.Close()
		return nil, err
	}
	n.station = st
	return n, nil
}

// connect builds the transport and device backend named by the configuration,
// unless they were injected.
func (n *Node) connect() error {
	addresses := n.cfg.Station.Addresses()
	switch {
	case n.bus != nil && n.hw != nil:
		return nil
	case n.cfg.Transport.Kind == config.TransportMemory:
		if n.bus == nil {
			n.bus, n.names = memory.NewBus(), memory.NewNames()
		}
		if n.hw == nil {
			n.hw = memory.NewHardware(addresses...)
		}
		return nil
	}

	rc := n.cfg.Transport.Redis
	prefix := rc.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	bus := redisAdapter.New(rc.Addr, rc.Password, rc.DB,
		redisAdapter.WithPrefix(prefix), redisAdapter.WithLogger(n.logger))
	n.closers = append(n.closers, bus.Close)
	if n.bus == nil {
		n.bus, n.names = bus, redisAdapter.NewNames(bus.Client(), prefix)
	}
	if n.hw == nil {
		hw := redisAdapter.NewHardware(bus.Client(), prefix, n.cfg.Station.ID)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, addr := range addresses {
			if err := hw.Declare(ctx, addr); err != nil {
				_ = n.Close()
				return fmt.Errorf("failed to provision device lines: %w", err)
			}
		}
		n.hw = hw
	}
	return nil
}

// Run drives the station and its role subsystem until ctx ends.
// The rail is braked on the way in and on the way out.
func (n *Node) Run(ctx context.Context) error {
	n.brake(ctx, "startup")
	defer n.brake(context.WithoutCancel(ctx), "shutdown")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.station.Run(gctx) })
	g.Go(func() error { return n.coordinate(gctx) })
	return g.Wait()
}

// coordinate runs one role subsystem at a time, rebuilding it on reconfiguration.
func (n *Node) coordinate(ctx context.Context) error {
	for {
		role := n.Role()
		c := n.build(role)

		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- c.Run(runCtx) }()

		n.setActive(c)
		n.logger.Info("Coordination started", "role", role)

		select {
		case err := <-done:
			cancel()
			n.setActive(nil)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%s subsystem stopped: %w", strings.ToLower(string(role)), err)
		case <-ctx.Done():
			cancel()
			<-done
			n.setActive(nil)
			return nil
		case next := <-n.roles:
			n.logger.Info("Reconfiguring", "from", role, "to", next)
			cancel()
			<-done
			n.setActive(nil)
			n.brake(ctx, "reconfigure")
		}
	}
}

func (n *Node) build(role domain.Role) coordinator {
	t := n.cfg.Timings
	dep := departure.Config{
		Countdown:  t.Countdown,
		IdleGrace:  t.IdleGrace,
		PlayerPoll: t.PlayerPoll,
		// A requested train gets as long as the transit lock protecting it.
		ArrivalTimeout: t.LockTimeout,
	}
	ep := network.New(n.cfg.Station.ID, n.bus,
		network.WithLogger(n.logger), network.WithMetrics(n.metrics))

	if role == domain.RoleHub {
		return hub.New(hub.Config{
			ServiceName: n.cfg.ServiceName,
			ClaimTTL:    t.ClaimTTL,
			StaleAfter:  t.StaleAfter,
			LockTimeout: t.LockTimeout,
			Departure:   dep,
		}, n.station, ep, n.names, hub.WithLogger(n.logger), hub.WithMetrics(n.metrics))
	}
	return remote.New(remote.Config{
		Membership: membership.Config{
			ServiceName:       n.cfg.ServiceName,
			DiscoveryTimeout:  t.DiscoveryTimeout,
			RegisterTimeout:   t.RegisterTimeout,
			RetryInterval:     t.RetryInterval,
			HeartbeatInterval: t.HeartbeatInterval,
			AckTimeout:        t.AckTimeout,
			MaxMissedAcks:     t.MaxMissedAcks,
		},
		Departure: dep,
	}, n.station, ep, n.names, remote.WithLogger(n.logger), remote.WithMetrics(n.metrics))
}

func (n *Node) setActive(c coordinator) {
	n.mu.Lock()
	n.active = c
	n.mu.Unlock()
}

func (n *Node) current() (coordinator, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.active == nil {
		return nil, errNotRunning
	}
	return n.active, nil
}

func (n *Node) brake(ctx context.Context, reason string) {
	ctx, cancel := context.WithTimeout(ctx, brakeTimeout)
	defer cancel()
	if err := n.station.BrakeOn(ctx); err != nil {
		n.logger.Warn("Brake failed", "reason", reason, "err", err)
	}
}

var errNotRunning = errors.New("node is not running")

// Role returns the role the node runs, or will run after a pending reconfiguration.
func (n *Node) Role() domain.Role {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.role
}

// Reconfigure switches the node to role: the change is persisted, then the
// coordination subsystem is torn down and rebuilt.
func (n *Node) Reconfigure(ctx context.Context, role domain.Role) error {
	if _, err := domain.ParseRole(string(role)); err != nil {
		return err
	}
	if n.store != nil {
		if err := n.store.SaveRole(ctx, role); err != nil {
			return fmt.Errorf("failed to persist role: %w", err)
		}
	}

	n.mu.Lock()
	changed := n.role != role
	n.role = role
	n.cfg.Station.Role = role
	n.mu.Unlock()
	if !changed {
		return nil
	}

	n.station.SetRole(role)
	select {
	case n.roles <- role:
	default:
		// A rebuild is already queued; it reads the latest role.
	}
	return nil
}

// Status returns the observable state of the node. Before the subsystem is up
// it reports the station alone.
func (n *Node) Status(ctx context.Context) domain.NodeStatus {
	if c, err := n.current(); err == nil {
		return c.Status(ctx)
	}
	players, _ := n.station.PlayersNearby(ctx)
	return domain.NodeStatus{
		Identity:      n.station.Identity(),
		HasTrain:      n.station.HasTrain(),
		PlayersNearby: players,
		Intent:        domain.DepartureIntent{Phase: domain.PhaseIdle},
		Bays:          n.station.Bays(),
		Switches:      n.station.Switches(),
	}
}

// SelectDestination starts a departure towards dest.
func (n *Node) SelectDestination(ctx context.Context, dest string) error {
	c, err := n.current()
	if err != nil {
		return err
	}
	return c.SelectDestination(ctx, dest)
}

// CancelDeparture drops the pending departure or idle action.
func (n *Node) CancelDeparture(ctx context.Context) error {
	c, err := n.current()
	if err != nil {
		return err
	}
	return c.CancelDeparture(ctx)
}

// Brake powers the platform rail off. It works whether or not the subsystem runs.
func (n *Node) Brake(ctx context.Context) error {
	return n.station.BrakeOn(ctx)
}

// SetSwitch drives a local switch.
func (n *Node) SetSwitch(ctx context.Context, index int, state bool) error {
	c, err := n.current()
	if err != nil {
		return err
	}
	return c.SetSwitch(ctx, index, state)
}

// DispatchFromBay releases a parked train onto the platform.
func (n *Node) DispatchFromBay(ctx context.Context, index int) error {
	c, err := n.current()
	if err != nil {
		return err
	}
	return c.DispatchFromBay(ctx, index)
}

// CommandStation sends a hardware command to a remote. Only a hub can do this.
func (n *Node) CommandStation(ctx context.Context, id string, action domain.Action, args any) error {
	c, err := n.current()
	if err != nil {
		return err
	}
	h, ok := c.(*hub.Coordinator)
	if !ok {
		return domain.ErrNotHub
	}
	return h.CommandStation(ctx, id, action, args)
}

// MetricsHandler serves the node's Prometheus metrics.
func (n *Node) MetricsHandler() http.Handler {
	return n.metrics.Handler()
}

// Close releases the transport connections opened by New.
func (n *Node) Close() error {
	var errs []error
	for _, c := range n.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	n.closers = nil
	return errors.Join(errs...)
}
