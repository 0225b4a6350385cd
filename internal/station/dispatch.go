package station

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/railhub/pkg/domain"
)

// brakeTimeout bounds the unconditional power-off at the end of a dispatch.
const brakeTimeout = 2 * time.Second

// Dispatch powers the platform rail until the main detector reports the departure,
// the dispatch timeout elapses, or ctx ends. The rail is powered off in every case.
func (s *Station) Dispatch(ctx context.Context) error {
	return s.guarded("main", func() error {
		return s.drive(ctx, "main", s.cfg.Rail, domain.MainDetector)
	})
}

// DispatchFromBay routes the bay switch open, bypasses every other bay, and powers
// the bay rail until its detector reports the bay empty.
func (s *Station) DispatchFromBay(ctx context.Context, index int) error {
	sw, err := s.bay(index)
	if err != nil {
		return err
	}
	return s.guarded("bay", func() error {
		if err := s.RouteBay(ctx, index); err != nil {
			return err
		}
		return s.drive(ctx, "bay", sw.BayActuator, index)
	})
}

// Park routes the platform exit into the given bay and dispatches the train into it.
func (s *Station) Park(ctx context.Context, index int) error {
	if _, err := s.bay(index); err != nil {
		return err
	}
	return s.guarded("main", func() error {
		if err := s.RouteBay(ctx, index); err != nil {
			return err
		}
		return s.drive(ctx, "main", s.cfg.Rail, domain.MainDetector)
	})
}

// BrakeOn powers the platform rail off. Safe to call repeatedly.
func (s *Station) BrakeOn(ctx context.Context) error {
	out, err := s.hw.Output(s.cfg.Rail)
	if err != nil {
		return fmt.Errorf("failed to resolve rail actuator: %w", err)
	}
	if err := out.Set(ctx, false); err != nil {
		return fmt.Errorf("failed to brake: %w", err)
	}
	return nil
}

// guarded runs fn as the only train movement of the station.
func (s *Station) guarded(rail string, fn func() error) error {
	if !s.beginDispatch() {
		s.metrics.Dispatched(rail, outcome(domain.ErrDispatchInProgress))
		return domain.ErrDispatchInProgress
	}
	defer s.endDispatch()

	err := fn()
	s.metrics.Dispatched(rail, outcome(err))
	return err
}

func (s *Station) drive(ctx context.Context, rail, actuator string, source int) error {
	out, err := s.hw.Output(actuator)
	if err != nil {
		return fmt.Errorf("failed to resolve %s actuator %q: %w", rail, actuator, err)
	}

	events, stop := s.Subscribe()
	defer stop()

	defer func() {
		offCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), brakeTimeout)
		defer cancel()
		if offErr := out.Set(offCtx, false); offErr != nil {
			s.logger.Error("Failed to power off rail after dispatch", "rail", rail, "actuator", actuator, "err", offErr)
		}
	}()

	if err := out.Set(ctx, true); err != nil {
		return fmt.Errorf("failed to power %s rail: %w", rail, err)
	}
	s.logger.Info("Dispatching", "station", s.cfg.Identity.ID, "rail", rail, "source", source)

	timer := time.NewTimer(s.cfg.DispatchTimeout)
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return fmt.Errorf("station stopped during dispatch: %w", context.Canceled)
			}
			if ev.Source == source && ev.Type == domain.EventDeparted {
				s.logger.Info("Dispatch confirmed by departure", "rail", rail, "source", source)
				return nil
			}
		case <-timer.C:
			s.logger.Warn("Dispatch timed out, braking", "rail", rail, "source", source, "timeout", s.cfg.DispatchTimeout)
			return domain.ErrDispatchTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Station) beginDispatch() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dispatching {
		return false
	}
	s.dispatching = true
	return true
}

func (s *Station) endDispatch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatching = false
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrDispatchTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrDispatchInProgress):
		return "busy"
	case unavailable(err):
		return "unavailable"
	default:
		return "error"
	}
}
