package remote

import (
	"context"

	"github.com/aretw0/railhub/internal/departure"
	"github.com/aretw0/railhub/pkg/domain"
)

// strategy is the remote's departure behavior: trains are requested from the hub,
// every dispatch is announced to it, and idle trains are sent back.
type strategy struct {
	r *Remote
}

func (s *strategy) RequestTrain(ctx context.Context, intent domain.DepartureIntent) (departure.Work, error) {
	if err := s.r.send(ctx, domain.ActionRequestTrain, domain.RequestTrainArgs{Destination: intent.DestinationID}); err != nil {
		return nil, err
	}
	s.r.logger.Info("Requested train from hub", "destination", intent.DestinationID)
	return nil, nil
}

func (s *strategy) BeforeDispatch(ctx context.Context, intent domain.DepartureIntent) error {
	if err := s.r.send(ctx, domain.ActionRequestDispatch, domain.RequestDispatchArgs{Destination: intent.DestinationID}); err != nil {
		s.r.logger.Warn("Dispatching without telling the hub", "destination", intent.DestinationID, "err", err)
	}
	return nil
}

func (s *strategy) AfterDispatch(ctx context.Context, intent domain.DepartureIntent, err error) {
	if err != nil {
		s.r.logger.Warn("Departure failed", "destination", intent.DestinationID, "err", err)
	}
}

func (s *strategy) Abort(ctx context.Context, intent domain.DepartureIntent, cause error) {
	s.r.logger.Info("Departure abandoned", "destination", intent.DestinationID, "cause", cause)
}

func (s *strategy) IdlePhase() domain.Phase {
	return domain.PhaseAutoReturn
}

func (s *strategy) Idle(ctx context.Context) error {
	dest := s.r.client.HubID()
	if dest == "" {
		dest = domain.HubDestination
	}
	if err := s.r.send(ctx, domain.ActionRequestDispatch, domain.RequestDispatchArgs{Destination: dest}); err != nil {
		s.r.logger.Warn("Returning train without telling the hub", "err", err)
	}
	s.r.logger.Info("Returning idle train to hub")
	return s.r.station.Dispatch(ctx)
}
