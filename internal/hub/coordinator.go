// Package hub runs the coordination side of the hub node: the station registry,
// the switch lock, the hub's departure machine and the message handlers that
// serve remotes.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aretw0/railhub/internal/departure"
	"github.com/aretw0/railhub/internal/logging"
	"github.com/aretw0/railhub/internal/metrics"
	"github.com/aretw0/railhub/internal/network"
	"github.com/aretw0/railhub/internal/station"
	"github.com/aretw0/railhub/pkg/domain"
	"github.com/aretw0/railhub/pkg/ports"
)

// Config holds the hub timings.
type Config struct {
	ServiceName string
	ClaimTTL    time.Duration
	StaleAfter  time.Duration
	LockTimeout time.Duration
	Departure   departure.Config
}

// Coordinator is the hub's coordination subsystem.
type Coordinator struct {
	cfg      Config
	self     domain.StationIdentity
	station  *station.Station
	endpoint *network.Endpoint
	names    ports.NameService
	logger   *slog.Logger
	metrics  *metrics.Collector

	registry *Registry
	lock     *Lock
	machine  *departure.Machine
	ready    chan struct{}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger configures the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithMetrics configures the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// New wires a coordinator around the hub's station and bus endpoint.
func New(cfg Config, st *station.Station, ep *network.Endpoint, names ports.NameService, opts ...Option) *Coordinator {
	if cfg.ServiceName == "" {
		cfg.ServiceName = domain.DefaultServiceName
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = domain.DefaultClaimTTL
	}
	c := &Coordinator{
		cfg:      cfg,
		self:     st.Identity(),
		station:  st,
		endpoint: ep,
		names:    names,
		logger:   logging.NewNop(),
		ready:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.registry = NewRegistry(cfg.StaleAfter, nil)
	c.lock = NewLock(cfg.LockTimeout, c.logger, c.metrics)
	c.machine = departure.New(cfg.Departure, st, &strategy{c: c}, departure.WithLogger(c.logger))
	return c
}

// Run claims the service name, serves remotes and drives the hub's departures until ctx ends.
// A live claim by another hub aborts with domain.ErrHubConflict.
func (c *Coordinator) Run(ctx context.Context) error {
	release, err := c.names.Claim(ctx, c.cfg.ServiceName, c.self.ID, c.cfg.ClaimTTL)
	if err != nil {
		return fmt.Errorf("failed to claim service name %q: %w", c.cfg.ServiceName, err)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := release(releaseCtx); err != nil {
			c.logger.Warn("Failed to release service name", "err", err)
		}
	}()

	c.registry.Register(c.self, c.station.Switches())
	c.routes()
	if err := c.endpoint.Start(ctx); err != nil {
		return err
	}
	c.logger.Info("Hub online", "id", c.self.ID, "service", c.cfg.ServiceName)
	close(c.ready)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.machine.Run(gctx) })
	g.Go(func() error { return c.watchStation(gctx) })
	g.Go(func() error { return c.sweep(gctx) })
	g.Go(func() error { return c.advertise(gctx) })
	err = g.Wait()

	c.lock.Stop()
	return err
}

// Ready is closed once the hub answers messages.
func (c *Coordinator) Ready() <-chan struct{} {
	return c.ready
}

// Lock returns the current switch lock.
func (c *Coordinator) Lock() domain.SwitchLock {
	return c.lock.Snapshot()
}

// Registry returns the station table.
func (c *Coordinator) Registry() []domain.StationRecord {
	return c.registry.Snapshot()
}

// Status returns the observable state of the hub.
func (c *Coordinator) Status(ctx context.Context) domain.NodeStatus {
	snap := c.machine.Snapshot()
	lock := c.lock.Snapshot()
	players, err := c.station.PlayersNearby(ctx)
	if err != nil {
		c.logger.Debug("Player detector unreadable", "err", err)
	}
	return domain.NodeStatus{
		Identity:      c.self,
		HubID:         c.self.ID,
		HasTrain:      c.station.HasTrain(),
		PlayersNearby: players,
		Intent:        snap.Intent,
		LastError:     snap.LastError,
		Lock:          &lock,
		Stations:      c.registry.Snapshot(),
		Bays:          c.station.Bays(),
		Switches:      c.station.Switches(),
	}
}

// SelectDestination starts a local departure towards a registered station.
func (c *Coordinator) SelectDestination(ctx context.Context, dest string) error {
	rec, ok := c.registry.Get(dest)
	if !ok || dest == c.self.ID {
		return fmt.Errorf("destination %q: %w", dest, domain.ErrUnknownStation)
	}
	return c.machine.Select(ctx, dest, rec.Label, domain.OriginLocal)
}

// CancelDeparture drops the pending departure or idle action.
func (c *Coordinator) CancelDeparture(ctx context.Context) error {
	return c.machine.Cancel(ctx)
}

// Brake powers the platform rail off.
func (c *Coordinator) Brake(ctx context.Context) error {
	return c.station.BrakeOn(ctx)
}

// SetSwitch drives a hub switch. Parking switches are frozen while the lock is held.
func (c *Coordinator) SetSwitch(ctx context.Context, index int, state bool) error {
	if c.lock.Held() && c.isParking(index) {
		return fmt.Errorf("switch %d: %w", index, domain.ErrLockHeld)
	}
	return c.station.SetSwitch(ctx, index, state)
}

// DispatchFromBay releases a parked train onto the platform unless a transit holds the lock.
func (c *Coordinator) DispatchFromBay(ctx context.Context, index int) error {
	if c.lock.Held() {
		return fmt.Errorf("bay %d: %w", index, domain.ErrLockHeld)
	}
	return c.station.DispatchFromBay(ctx, index)
}

// CommandStation sends a hardware command to a registered remote.
func (c *Coordinator) CommandStation(ctx context.Context, id string, action domain.Action, args any) error {
	if _, ok := c.registry.Get(id); !ok || id == c.self.ID {
		return fmt.Errorf("station %q: %w", id, domain.ErrUnknownStation)
	}
	switch action {
	case domain.ActionDispatch, domain.ActionBrake, domain.ActionSetSwitch, domain.ActionDispatchFromBay:
	default:
		return fmt.Errorf("action %q: %w", action, domain.ErrUnsupportedAction)
	}
	msg, err := domain.NewCommand(action, c.self.ID, id, args)
	if err != nil {
		return err
	}
	return c.endpoint.Send(ctx, msg)
}

func (c *Coordinator) isParking(index int) bool {
	for _, sw := range c.station.Switches() {
		if sw.Index == index {
			return sw.Parking
		}
	}
	return false
}

// watchStation confirms the lock on the platform departure edge and mirrors
// the hub's own presence into the registry.
func (c *Coordinator) watchStation(ctx context.Context) error {
	events, stop := c.station.Subscribe()
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if !ev.IsMain() {
				continue
			}
			c.registry.SetHasTrain(c.self.ID, ev.Type == domain.EventArrived)
			if ev.Type == domain.EventDeparted {
				c.lock.Confirm()
			}
		}
	}
}

func (c *Coordinator) sweep(ctx context.Context) error {
	interval := c.registry.staleAfter / 3
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.registry.Heartbeat(c.self.ID, domain.HeartbeatPayload{Label: c.self.Label, HasTrain: c.station.HasTrain()})
			for _, id := range c.registry.Sweep() {
				c.logger.Info("Station went offline", "station", id)
			}
			c.metrics.SetStationsOnline(c.registry.Online())
		}
	}
}

// advertise keeps the service name claim alive.
func (c *Coordinator) advertise(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.ClaimTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := c.names.Claim(ctx, c.cfg.ServiceName, c.self.ID, c.cfg.ClaimTTL); err != nil {
				if errors.Is(err, domain.ErrHubConflict) {
					c.logger.Error("Service name taken by another hub", "service", c.cfg.ServiceName)
					continue
				}
				c.logger.Warn("Failed to refresh service name", "err", err)
			}
		}
	}
}

// notifyUnavailable tells a remote its train request failed. It does not block the caller.
func (c *Coordinator) notifyUnavailable(to string, cause error) {
	msg, err := domain.NewCommand(domain.ActionTrainUnavailable, c.self.ID, to, domain.TrainUnavailableArgs{Reason: cause.Error()})
	if err != nil {
		c.logger.Error("Failed to build train_unavailable", "err", err)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.endpoint.Send(ctx, msg); err != nil {
			c.logger.Warn("Failed to notify station", "station", to, "err", err)
		}
	}()
}
