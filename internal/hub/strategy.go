package hub

import (
	"context"
	"errors"
	"fmt"

	"github.com/aretw0/railhub/internal/departure"
	"github.com/aretw0/railhub/pkg/domain"
)

// strategy is the hub's departure behavior: trains come out of parking bays under
// the switch lock, and idle trains are parked.
type strategy struct {
	c *Coordinator
}

func (s *strategy) RequestTrain(ctx context.Context, intent domain.DepartureIntent) (departure.Work, error) {
	bay, err := s.c.station.OccupiedBay()
	if err != nil {
		return nil, err
	}
	if err := s.c.lock.TryAcquire(intent.DestinationID, bay); err != nil {
		return nil, err
	}
	s.c.logger.Info("Pulling train from bay", "bay", bay, "destination", intent.DestinationID)
	return func(ctx context.Context) error {
		if err := s.c.station.DispatchFromBay(ctx, bay); err != nil {
			return fmt.Errorf("failed to pull train from bay %d: %w", bay, err)
		}
		return nil
	}, nil
}

func (s *strategy) BeforeDispatch(ctx context.Context, intent domain.DepartureIntent) error {
	if err := s.c.lock.TryAcquire(intent.DestinationID, domain.NoBay); err != nil {
		return err
	}
	if err := s.c.station.Bypass(ctx); err != nil {
		s.c.lock.ReleasePending(intent.DestinationID, domain.ReleaseDispatchFailed)
		return fmt.Errorf("failed to set bypass route: %w", err)
	}
	return nil
}

func (s *strategy) AfterDispatch(ctx context.Context, intent domain.DepartureIntent, err error) {
	if err == nil {
		return
	}
	s.c.lock.ReleasePending(intent.DestinationID, domain.ReleaseDispatchFailed)
	if intent.Origin == domain.OriginRemote {
		s.c.notifyUnavailable(intent.DestinationID, err)
	}
}

func (s *strategy) Abort(ctx context.Context, intent domain.DepartureIntent, cause error) {
	reason := domain.ReleaseDispatchFailed
	if cause == nil || errors.Is(cause, context.Canceled) {
		reason = domain.ReleaseCancelled
	}
	s.c.lock.ReleasePending(intent.DestinationID, reason)
	if intent.Origin == domain.OriginRemote {
		if cause == nil {
			cause = context.Canceled
		}
		s.c.notifyUnavailable(intent.DestinationID, cause)
	}
}

func (s *strategy) IdlePhase() domain.Phase {
	return domain.PhaseAutoPark
}

func (s *strategy) Idle(ctx context.Context) error {
	if s.c.lock.Held() {
		return domain.ErrDeferred
	}
	bay, err := s.c.station.FreeBay()
	if err != nil {
		return err
	}
	s.c.logger.Info("Parking idle train", "bay", bay)
	return s.c.station.Park(ctx, bay)
}
