// Package membership keeps a remote station attached to the hub: it finds the hub,
// registers, heartbeats, and starts over when the hub stops answering.
package membership

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/aretw0/railhub/internal/logging"
	"github.com/aretw0/railhub/internal/metrics"
	"github.com/aretw0/railhub/internal/network"
	"github.com/aretw0/railhub/pkg/domain"
	"github.com/aretw0/railhub/pkg/ports"
)

// Config holds the membership timings.
type Config struct {
	ServiceName       string
	DiscoveryTimeout  time.Duration
	RegisterTimeout   time.Duration
	RetryInterval     time.Duration
	HeartbeatInterval time.Duration
	AckTimeout        time.Duration
	MaxMissedAcks     int
}

func (c *Config) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = domain.DefaultServiceName
	}
	if c.DiscoveryTimeout <= 0 {
		c.DiscoveryTimeout = domain.DefaultDiscoveryTimeout
	}
	if c.RegisterTimeout <= 0 {
		c.RegisterTimeout = domain.DefaultRegisterTimeout
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = domain.DefaultRetryInterval
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = domain.DefaultHeartbeatInterval
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = domain.DefaultAckTimeout
	}
	if c.MaxMissedAcks <= 0 {
		c.MaxMissedAcks = domain.DefaultMaxMissedAcks
	}
}

// Station is what the client reports about the local node.
type Station interface {
	Identity() domain.StationIdentity
	Switches() []domain.SwitchDevice
}

// ReportFunc builds the payload of the next heartbeat.
type ReportFunc func(ctx context.Context) domain.HeartbeatPayload

// Client is the remote side of discovery and membership.
type Client struct {
	cfg      Config
	station  Station
	endpoint *network.Endpoint
	names    ports.NameService
	report   ReportFunc
	logger   *slog.Logger
	metrics  *metrics.Collector
	nudge    chan struct{}

	mu       sync.Mutex
	hubID    string
	registry []domain.StationRecord
	lock     domain.SwitchLock
	missed   int
}

// Option configures a Client.
type Option func(*Client)

// WithLogger configures the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMetrics counts sent heartbeats.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// New creates a client. The endpoint must be started before Run.
func New(cfg Config, st Station, ep *network.Endpoint, names ports.NameService, report ReportFunc, opts ...Option) *Client {
	cfg.applyDefaults()
	c := &Client{
		cfg:      cfg,
		station:  st,
		endpoint: ep,
		names:    names,
		report:   report,
		logger:   logging.NewNop(),
		nudge:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HubID returns the hub currently attached to, or "" while standalone.
func (c *Client) HubID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hubID
}

// Registry returns the last registry snapshot received from the hub.
func (c *Client) Registry() []domain.StationRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.StationRecord(nil), c.registry...)
}

// HubLock returns the lock state reported by the last heartbeat ack.
func (c *Client) HubLock() domain.SwitchLock {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lock
}

// Nudge asks for a heartbeat now instead of at the next tick.
func (c *Client) Nudge() {
	select {
	case c.nudge <- struct{}{}:
	default:
	}
}

// Run attaches to the hub and keeps the membership alive until ctx ends.
// Failures never stop it; the station keeps running standalone meanwhile.
func (c *Client) Run(ctx context.Context) error {
	retry := backoff.NewConstantBackOff(c.cfg.RetryInterval)
	for {
		if err := c.attach(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			wait := retry.NextBackOff()
			c.logger.Warn("Hub not reachable, staying standalone", "retry_in", wait, "err", err)
			if !sleep(ctx, wait) {
				return nil
			}
			continue
		}
		retry.Reset()

		c.heartbeatLoop(ctx)
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *Client) attach(ctx context.Context) error {
	hubID, err := c.discover(ctx)
	if err != nil {
		return err
	}

	id := c.station.Identity()
	msg, err := domain.NewMessage(domain.KindRegister, id.ID, hubID, domain.RegisterPayload{
		Identity: id,
		Switches: c.station.Switches(),
	})
	if err != nil {
		return err
	}
	reply, err := c.endpoint.Request(ctx, msg, c.cfg.RegisterTimeout)
	if err != nil {
		return fmt.Errorf("failed to register with %s: %w", hubID, err)
	}
	var ack domain.RegisteredPayload
	if err := reply.Decode(&ack); err != nil {
		return err
	}
	if ack.HubID != "" {
		hubID = ack.HubID
	}

	c.mu.Lock()
	c.hubID = hubID
	c.registry = ack.Registry
	c.missed = 0
	c.mu.Unlock()
	c.logger.Info("Registered with hub", "hub", hubID, "stations", len(ack.Registry))
	return nil
}

// discover resolves the hub through the name service, falling back to a PING broadcast.
func (c *Client) discover(ctx context.Context) (string, error) {
	id, err := c.names.Lookup(ctx, c.cfg.ServiceName)
	if err == nil && id != "" {
		return id, nil
	}
	c.logger.Debug("Name lookup failed, broadcasting PING", "service", c.cfg.ServiceName, "err", err)

	ping, err := domain.NewMessage(domain.KindPing, c.station.Identity().ID, "", nil)
	if err != nil {
		return "", err
	}
	reply, err := c.endpoint.Request(ctx, ping, c.cfg.DiscoveryTimeout)
	if err != nil {
		if errors.Is(err, domain.ErrRequestTimeout) {
			return "", fmt.Errorf("no hub answered discovery: %w", domain.ErrHubUnavailable)
		}
		return "", err
	}
	var status domain.StatusPayload
	if err := reply.Decode(&status); err != nil {
		return "", err
	}
	if status.HubID == "" {
		status.HubID = reply.From
	}
	return status.HubID, nil
}

// heartbeatLoop returns when the hub is considered lost or ctx ends.
func (c *Client) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		if !c.beat(ctx) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-c.nudge:
		}
	}
}

// beat sends one heartbeat and reports whether the hub is still attached.
func (c *Client) beat(ctx context.Context) bool {
	hubID := c.HubID()
	payload := c.report(ctx)
	payload.Label = c.station.Identity().Label

	msg, err := domain.NewMessage(domain.KindHeartbeat, c.station.Identity().ID, hubID, payload)
	if err != nil {
		c.logger.Error("Failed to build heartbeat", "err", err)
		return true
	}
	c.metrics.Heartbeat("sent")

	reply, err := c.endpoint.Request(ctx, msg, c.cfg.AckTimeout)
	if err == nil {
		var ack domain.HeartbeatAckPayload
		if decodeErr := reply.Decode(&ack); decodeErr == nil {
			c.mu.Lock()
			c.missed = 0
			c.registry = ack.Registry
			c.lock = ack.Lock
			c.mu.Unlock()
			return true
		}
	}
	if ctx.Err() != nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.missed++
	c.logger.Warn("Heartbeat not acknowledged", "hub", hubID, "missed", c.missed, "err", err)
	if c.missed < c.cfg.MaxMissedAcks {
		return true
	}
	c.logger.Warn("Hub lost, rediscovering", "hub", hubID)
	c.hubID = ""
	c.missed = 0
	return false
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
