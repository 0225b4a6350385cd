// Package remote runs the coordination side of a remote station: membership with
// the hub, the hub's hardware commands, and the station's departures.
package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aretw0/railhub/internal/departure"
	"github.com/aretw0/railhub/internal/logging"
	"github.com/aretw0/railhub/internal/membership"
	"github.com/aretw0/railhub/internal/metrics"
	"github.com/aretw0/railhub/internal/network"
	"github.com/aretw0/railhub/internal/station"
	"github.com/aretw0/railhub/pkg/domain"
	"github.com/aretw0/railhub/pkg/ports"
)

// Config holds the remote timings.
type Config struct {
	Membership membership.Config
	Departure  departure.Config
}

// Remote is a remote station's coordination subsystem.
type Remote struct {
	self     domain.StationIdentity
	station  *station.Station
	endpoint *network.Endpoint
	client   *membership.Client
	machine  *departure.Machine
	logger   *slog.Logger
	ready    chan struct{}
}

// Option configures a Remote.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	metrics *metrics.Collector
}

// WithLogger configures the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics configures the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// New wires a remote around its station and bus endpoint.
func New(cfg Config, st *station.Station, ep *network.Endpoint, names ports.NameService, opts ...Option) *Remote {
	o := options{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	r := &Remote{
		self:     st.Identity(),
		station:  st,
		endpoint: ep,
		logger:   o.logger,
		ready:    make(chan struct{}),
	}
	r.machine = departure.New(cfg.Departure, st, &strategy{r: r}, departure.WithLogger(o.logger))
	r.client = membership.New(cfg.Membership, st, ep, names, r.report,
		membership.WithLogger(o.logger), membership.WithMetrics(o.metrics))
	return r
}

// Run serves hub commands, keeps membership alive and drives departures until ctx ends.
func (r *Remote) Run(ctx context.Context) error {
	r.endpoint.Handle(domain.KindCommand, r.handleCommand)
	if err := r.endpoint.Start(ctx); err != nil {
		return err
	}
	close(r.ready)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.machine.Run(gctx) })
	g.Go(func() error { return r.client.Run(gctx) })
	g.Go(func() error { return r.watchStation(gctx) })
	return g.Wait()
}

// Ready is closed once the remote answers messages.
func (r *Remote) Ready() <-chan struct{} {
	return r.ready
}

// HubID returns the attached hub, or "" while standalone.
func (r *Remote) HubID() string {
	return r.client.HubID()
}

// Status returns the observable state of the remote.
func (r *Remote) Status(ctx context.Context) domain.NodeStatus {
	snap := r.machine.Snapshot()
	players, err := r.station.PlayersNearby(ctx)
	if err != nil {
		r.logger.Debug("Player detector unreadable", "err", err)
	}
	return domain.NodeStatus{
		Identity:      r.self,
		HubID:         r.client.HubID(),
		HasTrain:      r.station.HasTrain(),
		PlayersNearby: players,
		Intent:        snap.Intent,
		LastError:     snap.LastError,
		Stations:      r.client.Registry(),
		Bays:          r.station.Bays(),
		Switches:      r.station.Switches(),
	}
}

// SelectDestination starts a departure towards a station of the cached route table.
func (r *Remote) SelectDestination(ctx context.Context, dest string) error {
	if dest == r.self.ID {
		return fmt.Errorf("destination %q: %w", dest, domain.ErrUnknownStation)
	}
	for _, rec := range r.client.Registry() {
		if rec.ID == dest {
			return r.machine.Select(ctx, dest, rec.Label, domain.OriginLocal)
		}
	}
	if dest == domain.HubDestination {
		return r.machine.Select(ctx, dest, "Hub", domain.OriginLocal)
	}
	return fmt.Errorf("destination %q: %w", dest, domain.ErrUnknownStation)
}

// CancelDeparture drops the pending departure or idle action.
func (r *Remote) CancelDeparture(ctx context.Context) error {
	return r.machine.Cancel(ctx)
}

// Brake powers the platform rail off.
func (r *Remote) Brake(ctx context.Context) error {
	return r.station.BrakeOn(ctx)
}

// SetSwitch drives a local switch.
func (r *Remote) SetSwitch(ctx context.Context, index int, state bool) error {
	return r.station.SetSwitch(ctx, index, state)
}

// DispatchFromBay releases a parked train onto the platform.
func (r *Remote) DispatchFromBay(ctx context.Context, index int) error {
	return r.station.DispatchFromBay(ctx, index)
}

func (r *Remote) report(ctx context.Context) domain.HeartbeatPayload {
	players, err := r.station.PlayersNearby(ctx)
	if err != nil {
		r.logger.Debug("Player detector unreadable", "err", err)
	}
	return domain.HeartbeatPayload{
		HasTrain:      r.station.HasTrain(),
		PlayersNearby: players,
		Phase:         r.machine.Phase(),
	}
}

// watchStation pushes an immediate heartbeat whenever the platform presence changes.
func (r *Remote) watchStation(ctx context.Context) error {
	events, stop := r.station.Subscribe()
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.IsMain() {
				r.client.Nudge()
			}
		}
	}
}

// send publishes a command to the hub.
func (r *Remote) send(ctx context.Context, action domain.Action, args any) error {
	hubID := r.client.HubID()
	if hubID == "" {
		return domain.ErrHubUnavailable
	}
	msg, err := domain.NewCommand(action, r.self.ID, hubID, args)
	if err != nil {
		return err
	}
	sendCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.endpoint.Send(sendCtx, msg)
}

// trainUnavailable wraps the hub's refusal reason.
func trainUnavailable(reason string) error {
	if reason == "" {
		return domain.ErrNoTrainAvailable
	}
	return fmt.Errorf("hub refused train: %s: %w", reason, domain.ErrNoTrainAvailable)
}

var errNotFromHub = errors.New("command not sent by the attached hub")
