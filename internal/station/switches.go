package station

import (
	"context"
	"fmt"

	"github.com/aretw0/railhub/pkg/domain"
)

// SetSwitch drives one switch actuator and persists the manifest.
// The stored state is left untouched when the actuator cannot be reached.
func (s *Station) SetSwitch(ctx context.Context, index int, state bool) error {
	return s.setSwitches(ctx, map[int]bool{index: state})
}

// RouteBay opens the switch of the given bay and sets every other parking switch to bypass.
func (s *Station) RouteBay(ctx context.Context, index int) error {
	if _, err := s.bay(index); err != nil {
		return err
	}
	route := make(map[int]bool)
	for _, sw := range s.Switches() {
		if sw.Parking {
			route[sw.Index] = sw.Index == index
		}
	}
	return s.setSwitches(ctx, route)
}

// Bypass sets every parking switch to bypass so the platform exit runs straight through.
func (s *Station) Bypass(ctx context.Context) error {
	route := make(map[int]bool)
	for _, sw := range s.Switches() {
		if sw.Parking && sw.State {
			route[sw.Index] = false
		}
	}
	if len(route) == 0 {
		return nil
	}
	return s.setSwitches(ctx, route)
}

// FreeBay returns the lowest-indexed empty bay.
func (s *Station) FreeBay() (int, error) {
	for _, b := range s.Bays() {
		if !b.Occupied {
			return b.SwitchIndex, nil
		}
	}
	return domain.NoBay, domain.ErrNoFreeBay
}

// OccupiedBay returns the lowest-indexed occupied bay.
func (s *Station) OccupiedBay() (int, error) {
	for _, b := range s.Bays() {
		if b.Occupied {
			return b.SwitchIndex, nil
		}
	}
	return domain.NoBay, domain.ErrNoTrainAvailable
}

func (s *Station) setSwitches(ctx context.Context, states map[int]bool) error {
	switches := s.Switches()
	byIndex := make(map[int]domain.SwitchDevice, len(switches))
	for _, sw := range switches {
		byIndex[sw.Index] = sw
	}

	// Resolve everything first so a missing actuator changes nothing.
	type target struct {
		sw    domain.SwitchDevice
		state bool
	}
	var targets []target
	for index, state := range states {
		sw, ok := byIndex[index]
		if !ok {
			s.logger.Info("Dropping switch request", "index", index, "err", domain.ErrUnknownSwitch)
			return fmt.Errorf("switch %d: %w", index, domain.ErrUnknownSwitch)
		}
		if _, err := s.hw.Output(sw.Actuator); err != nil {
			return fmt.Errorf("failed to resolve switch %d actuator: %w", index, err)
		}
		targets = append(targets, target{sw: sw, state: state})
	}

	for _, t := range targets {
		out, err := s.hw.Output(t.sw.Actuator)
		if err != nil {
			return fmt.Errorf("failed to resolve switch %d actuator: %w", t.sw.Index, err)
		}
		if err := out.Set(ctx, t.state); err != nil {
			return fmt.Errorf("failed to set switch %d: %w", t.sw.Index, err)
		}
		s.mu.Lock()
		for i := range s.switches {
			if s.switches[i].Index == t.sw.Index {
				s.switches[i].State = t.state
			}
		}
		s.mu.Unlock()
	}

	if s.persist != nil {
		if err := s.persist(ctx, s.Switches()); err != nil {
			s.logger.Warn("Failed to persist switch manifest", "err", err)
		}
	}
	return nil
}

func (s *Station) bay(index int) (domain.SwitchDevice, error) {
	for _, sw := range s.Switches() {
		if sw.Index != index {
			continue
		}
		if !sw.HasBay() {
			return domain.SwitchDevice{}, fmt.Errorf("switch %d: %w", index, domain.ErrNotParking)
		}
		return sw, nil
	}
	return domain.SwitchDevice{}, fmt.Errorf("switch %d: %w", index, domain.ErrUnknownSwitch)
}
