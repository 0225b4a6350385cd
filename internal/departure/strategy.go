// Package departure sequences the departure of trains from one station.
//
// A Machine is an actor: a single goroutine owns the intent, the phase and
// every timer, and everything else talks to it through closures queued on
// its command channel. What "requesting a train" or "parking an idle train"
// means differs between the hub and a remote; that part is a Strategy.
package departure

import (
	"context"

	"github.com/aretw0/railhub/pkg/domain"
)

// Work is a slow step run off the actor goroutine.
type Work func(ctx context.Context) error

// Strategy plugs role-specific behavior into the machine.
type Strategy interface {
	// RequestTrain is called when a destination is selected and no train is at the platform.
	// Refusals are returned directly and leave nothing to clean up; the returned Work
	// (may be nil) brings the train in.
	RequestTrain(ctx context.Context, intent domain.DepartureIntent) (Work, error)

	// BeforeDispatch runs off the actor right before the platform rail is powered.
	// An error aborts the departure without dispatching.
	BeforeDispatch(ctx context.Context, intent domain.DepartureIntent) error

	// AfterDispatch observes the outcome of the dispatch.
	AfterDispatch(ctx context.Context, intent domain.DepartureIntent, err error)

	// Abort is called on the actor when an accepted intent ends without a dispatch.
	// It must not block.
	Abort(ctx context.Context, intent domain.DepartureIntent, cause error)

	// IdlePhase is the phase shown while the idle action is pending.
	IdlePhase() domain.Phase

	// Idle moves an unclaimed train off the platform. domain.ErrDeferred asks for a retry
	// at the next player poll.
	Idle(ctx context.Context) error
}

// Platform is the part of a station the machine drives.
type Platform interface {
	HasTrain() bool
	PlayersNearby(ctx context.Context) (bool, error)
	Dispatch(ctx context.Context) error
	Subscribe() (<-chan domain.StationEvent, func())
}
