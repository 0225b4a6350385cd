package hub

import (
	"context"

	"github.com/aretw0/railhub/pkg/domain"
)

func (c *Coordinator) routes() {
	c.endpoint.Handle(domain.KindPing, c.handlePing)
	c.endpoint.Handle(domain.KindRegister, c.handleRegister)
	c.endpoint.Handle(domain.KindHeartbeat, c.handleHeartbeat)
	c.endpoint.Handle(domain.KindCommand, c.handleCommand)
	c.endpoint.Handle(domain.KindStatus, c.handleForeignStatus)
}

func (c *Coordinator) handlePing(ctx context.Context, msg domain.Message) {
	err := c.endpoint.Reply(ctx, msg, domain.KindStatus, domain.StatusPayload{
		HubID:    c.self.ID,
		Label:    c.self.Label,
		Registry: c.registry.Snapshot(),
	})
	if err != nil {
		c.logger.Warn("Failed to answer PING", "from", msg.From, "err", err)
	}
}

func (c *Coordinator) handleRegister(ctx context.Context, msg domain.Message) {
	var p domain.RegisterPayload
	if err := msg.Decode(&p); err != nil {
		c.logger.Warn("Dropping REGISTER", "from", msg.From, "err", err)
		return
	}
	if p.Identity.ID == "" {
		p.Identity.ID = msg.From
	}
	if c.registry.Register(p.Identity, p.Switches) {
		c.logger.Info("Station registered", "station", p.Identity.ID, "label", p.Identity.Label)
	}
	c.metrics.SetStationsOnline(c.registry.Online())

	err := c.endpoint.Reply(ctx, msg, domain.KindRegistered, domain.RegisteredPayload{
		HubID:    c.self.ID,
		Registry: c.registry.Snapshot(),
	})
	if err != nil {
		c.logger.Warn("Failed to acknowledge REGISTER", "from", msg.From, "err", err)
	}
}

func (c *Coordinator) handleHeartbeat(ctx context.Context, msg domain.Message) {
	var hb domain.HeartbeatPayload
	if err := msg.Decode(&hb); err != nil {
		c.logger.Warn("Dropping HEARTBEAT", "from", msg.From, "err", err)
		return
	}
	c.metrics.Heartbeat("received")
	if c.registry.Heartbeat(msg.From, hb) {
		c.logger.Info("Station registered by heartbeat", "station", msg.From)
	}
	if hb.HasTrain {
		c.lock.ReleaseLocked(msg.From, domain.ReleaseArrival)
	}

	err := c.endpoint.Reply(ctx, msg, domain.KindHeartbeatAck, domain.HeartbeatAckPayload{
		Registry: c.registry.Snapshot(),
		Lock:     c.lock.Snapshot(),
	})
	if err != nil {
		c.logger.Warn("Failed to acknowledge HEARTBEAT", "from", msg.From, "err", err)
	}
}

func (c *Coordinator) handleCommand(ctx context.Context, msg domain.Message) {
	switch msg.Action {
	case domain.ActionRequestTrain:
		c.handleRequestTrain(ctx, msg)
	case domain.ActionRequestDispatch:
		c.handleRequestDispatch(msg)
	default:
		c.logger.Info("Dropping command not meant for the hub", "action", msg.Action, "from", msg.From)
	}
}

func (c *Coordinator) handleRequestTrain(ctx context.Context, msg domain.Message) {
	label := msg.From
	if rec, ok := c.registry.Get(msg.From); ok {
		label = rec.Label
	}
	c.logger.Info("Train requested", "station", msg.From)
	if err := c.machine.Select(ctx, msg.From, label, domain.OriginRemote); err != nil {
		c.logger.Info("Refusing train request", "station", msg.From, "err", err)
		c.notifyUnavailable(msg.From, err)
	}
}

func (c *Coordinator) handleRequestDispatch(msg domain.Message) {
	var args domain.RequestDispatchArgs
	if err := msg.Decode(&args); err != nil {
		c.logger.Warn("Dropping request_dispatch", "from", msg.From, "err", err)
		return
	}
	c.registry.SetHasTrain(msg.From, false)
	c.logger.Info("Station dispatching", "station", msg.From, "destination", args.Destination)
	if args.Destination == c.self.ID || args.Destination == domain.HubDestination {
		c.lock.ReleaseLocked(msg.From, domain.ReleaseInboundDispatch)
	}
}

func (c *Coordinator) handleForeignStatus(ctx context.Context, msg domain.Message) {
	var p domain.StatusPayload
	if err := msg.Decode(&p); err == nil && p.HubID != "" && p.HubID != c.self.ID {
		c.logger.Warn("Another hub is answering discovery", "hub", p.HubID)
	}
}
