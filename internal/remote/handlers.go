package remote

import (
	"context"

	"github.com/aretw0/railhub/pkg/domain"
)

func (r *Remote) handleCommand(ctx context.Context, msg domain.Message) {
	if hubID := r.client.HubID(); hubID == "" || msg.From != hubID {
		r.logger.Info("Dropping command", "action", msg.Action, "from", msg.From, "err", errNotFromHub)
		return
	}

	switch msg.Action {
	case domain.ActionDispatch:
		go r.run(ctx, msg.Action, func(ctx context.Context) error { return r.station.Dispatch(ctx) })
	case domain.ActionBrake:
		r.run(ctx, msg.Action, r.station.BrakeOn)
	case domain.ActionSetSwitch:
		var args domain.SetSwitchArgs
		if err := msg.Decode(&args); err != nil {
			r.logger.Warn("Dropping set_switch", "err", err)
			return
		}
		r.run(ctx, msg.Action, func(ctx context.Context) error { return r.station.SetSwitch(ctx, args.Index, args.State) })
	case domain.ActionDispatchFromBay:
		var args domain.BayArgs
		if err := msg.Decode(&args); err != nil {
			r.logger.Warn("Dropping dispatch_from_bay", "err", err)
			return
		}
		go r.run(ctx, msg.Action, func(ctx context.Context) error { return r.station.DispatchFromBay(ctx, args.Index) })
	case domain.ActionTrainUnavailable:
		var args domain.TrainUnavailableArgs
		if err := msg.Decode(&args); err != nil {
			r.logger.Warn("Malformed train_unavailable, rejecting without a reason", "err", err)
			args = domain.TrainUnavailableArgs{}
		}
		r.logger.Info("Hub has no train for us", "reason", args.Reason)
		if err := r.machine.Reject(ctx, trainUnavailable(args.Reason)); err != nil {
			r.logger.Debug("No pending train request to reject", "err", err)
		}
	default:
		r.logger.Info("Dropping command not meant for a remote", "action", msg.Action, "from", msg.From)
	}
}

func (r *Remote) run(ctx context.Context, action domain.Action, fn func(context.Context) error) {
	if err := fn(ctx); err != nil {
		r.logger.Warn("Hub command failed", "action", action, "err", err)
		return
	}
	r.logger.Info("Hub command executed", "action", action)
}
