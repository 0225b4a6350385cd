package departure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/railhub/internal/logging"
	"github.com/aretw0/railhub/pkg/domain"
)

// ErrStopped is returned by calls made after the machine's Run has returned.
var ErrStopped = errors.New("departure machine stopped")

// errNotDispatched marks a dispatch abandoned before the rail was powered.
var errNotDispatched = errors.New("departure not dispatched")

// Config holds the machine timings.
type Config struct {
	Countdown  time.Duration
	IdleGrace  time.Duration
	PlayerPoll time.Duration
	// ArrivalTimeout bounds AWAITING_TRAIN once the train has been requested.
	ArrivalTimeout time.Duration
}

// Snapshot is the externally visible state of a machine.
type Snapshot struct {
	Intent    domain.DepartureIntent `json:"intent"`
	LastError string                 `json:"last_error,omitempty"`
}

type workKind int

const (
	workRequest workKind = iota
	workDispatch
	workIdle
)

type result struct {
	kind workKind
	id   uint64
	err  error
}

// Machine is the departure actor of one station.
type Machine struct {
	cfg      Config
	platform Platform
	strategy Strategy
	logger   *slog.Logger

	cmds    chan func(context.Context)
	results chan result
	stopped chan struct{}

	// Owned by the Run goroutine.
	intent     domain.DepartureIntent
	phase      domain.Phase
	deadline   time.Time
	lastErr    error
	countdown  *time.Timer
	arrival    *time.Timer
	grace      *time.Timer
	poll       *time.Timer
	workID     uint64
	cancelWork context.CancelFunc
	inflight   chan struct{}

	snapMu       sync.Mutex
	snap         Snapshot
	snapDeadline time.Time
}

// Option configures a Machine.
type Option func(*Machine)

// WithLogger configures the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Machine) {
		m.logger = logger
	}
}

// New creates an idle machine. Call Run to start it.
func New(cfg Config, platform Platform, strategy Strategy, opts ...Option) *Machine {
	if cfg.Countdown < 0 {
		cfg.Countdown = 0
	}
	if cfg.IdleGrace <= 0 {
		cfg.IdleGrace = domain.DefaultIdleGrace
	}
	if cfg.PlayerPoll <= 0 {
		cfg.PlayerPoll = domain.DefaultPlayerPoll
	}
	if cfg.ArrivalTimeout <= 0 {
		cfg.ArrivalTimeout = domain.DefaultLockTimeout
	}
	m := &Machine{
		cfg:      cfg,
		platform: platform,
		strategy: strategy,
		logger:   logging.NewNop(),
		cmds:     make(chan func(context.Context)),
		results:  make(chan result, 4),
		stopped:  make(chan struct{}),
		phase:    domain.PhaseIdle,
		snap:     Snapshot{Intent: domain.DepartureIntent{Phase: domain.PhaseIdle}},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run owns the machine state until ctx is cancelled.
func (m *Machine) Run(ctx context.Context) error {
	events, unsubscribe := m.platform.Subscribe()
	defer unsubscribe()
	defer close(m.stopped)
	defer m.shutdown()

	if m.platform.HasTrain() {
		m.armGrace()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-m.cmds:
			fn(ctx)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.IsMain() {
				m.onEvent(ctx, ev)
			}
		case <-timerC(m.countdown):
			m.countdown = nil
			m.startDispatch(ctx)
		case <-timerC(m.arrival):
			m.arrival = nil
			m.arrivalExpired(ctx)
		case <-timerC(m.grace):
			m.grace = nil
			m.startIdle(ctx)
		case <-timerC(m.poll):
			m.poll = nil
			m.startIdle(ctx)
		case r := <-m.results:
			m.onResult(ctx, r)
		}
		m.publish()
	}
}

// Select creates a departure intent towards dest.
// Intents from a remote train request skip the countdown. Re-selecting the pending
// destination with the same origin is a no-op.
func (m *Machine) Select(ctx context.Context, dest, label string, origin domain.Origin) error {
	var err error
	if callErr := m.do(ctx, func(runCtx context.Context) {
		err = m.selectDestination(runCtx, dest, label, origin)
	}); callErr != nil {
		return callErr
	}
	return err
}

// Cancel drops the pending intent or the pending idle action.
func (m *Machine) Cancel(ctx context.Context) error {
	var err error
	if callErr := m.do(ctx, func(runCtx context.Context) {
		err = m.cancel(runCtx, context.Canceled)
	}); callErr != nil {
		return callErr
	}
	return err
}

// Reject ends an intent that is still waiting for its train, recording cause.
func (m *Machine) Reject(ctx context.Context, cause error) error {
	var err error
	if callErr := m.do(ctx, func(runCtx context.Context) {
		if m.phase != domain.PhaseAwaitingTrain {
			err = domain.ErrNoIntent
			return
		}
		err = m.cancel(runCtx, cause)
	}); callErr != nil {
		return callErr
	}
	return err
}

// Snapshot returns the last published state without blocking on the actor.
func (m *Machine) Snapshot() Snapshot {
	m.snapMu.Lock()
	defer m.snapMu.Unlock()
	snap := m.snap
	if snap.Intent.Phase == domain.PhaseCountdown && !m.snapDeadline.IsZero() {
		snap.Intent.Remaining = time.Until(m.snapDeadline).Round(time.Second)
		if snap.Intent.Remaining < 0 {
			snap.Intent.Remaining = 0
		}
	}
	return snap
}

// Phase returns the current phase.
func (m *Machine) Phase() domain.Phase {
	return m.Snapshot().Intent.Phase
}

func (m *Machine) do(ctx context.Context, fn func(context.Context)) error {
	done := make(chan struct{})
	wrapped := func(runCtx context.Context) {
		defer close(done)
		fn(runCtx)
		m.publish()
	}
	select {
	case m.cmds <- wrapped:
	case <-m.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

func (m *Machine) selectDestination(ctx context.Context, dest, label string, origin domain.Origin) error {
	if dest == "" {
		return errors.New("destination is required")
	}
	if m.pending() {
		if m.intent.DestinationID == dest && m.intent.Origin == origin {
			return nil
		}
		return domain.ErrIntentActive
	}
	if m.phase == m.strategy.IdlePhase() && m.cancelWork != nil {
		// The idle action is already moving the train.
		return domain.ErrIntentActive
	}

	m.stopIdle()
	countdown := m.cfg.Countdown
	if origin == domain.OriginRemote {
		countdown = 0
	}
	m.intent = domain.DepartureIntent{
		DestinationID:    dest,
		DestinationLabel: label,
		Countdown:        countdown,
		Origin:           origin,
	}
	m.lastErr = nil

	if m.platform.HasTrain() {
		m.startCountdown(ctx)
		return nil
	}

	m.setPhase(domain.PhaseAwaitingTrain)
	work, err := m.strategy.RequestTrain(ctx, m.intent)
	if err != nil {
		m.logger.Info("Train request refused", "destination", dest, "err", err)
		m.reset(err)
		return err
	}
	if work != nil {
		m.spawn(ctx, workRequest, work)
	} else {
		m.armArrival()
	}
	return nil
}

func (m *Machine) cancel(ctx context.Context, cause error) error {
	switch {
	case m.phase == domain.PhaseDispatching:
		return domain.ErrDispatchInProgress
	case m.pending():
		m.logger.Info("Departure cancelled", "destination", m.intent.DestinationID, "phase", m.phase, "cause", cause)
		m.stopTimers()
		m.stopWork()
		m.strategy.Abort(ctx, m.intent, cause)
		if errors.Is(cause, context.Canceled) {
			cause = nil
		}
		m.reset(cause)
		if m.platform.HasTrain() {
			m.armGrace()
		}
		return nil
	case m.phase == m.strategy.IdlePhase():
		if m.cancelWork != nil {
			return domain.ErrDispatchInProgress
		}
		m.stopIdle()
		m.setPhase(domain.PhaseIdle)
		return nil
	default:
		return domain.ErrNoIntent
	}
}

func (m *Machine) onEvent(ctx context.Context, ev domain.StationEvent) {
	switch ev.Type {
	case domain.EventArrived:
		switch {
		case m.phase == domain.PhaseAwaitingTrain:
			m.startCountdown(ctx)
		case m.phase == domain.PhaseIdle && !m.pending():
			m.armGrace()
		}
	case domain.EventDeparted:
		switch m.phase {
		case domain.PhaseCountdown:
			m.logger.Warn("Train left before dispatch", "destination", m.intent.DestinationID)
			_ = m.cancel(ctx, domain.ErrNoTrainAvailable)
		case domain.PhaseIdle:
			m.stopIdle()
		case m.strategy.IdlePhase():
			if m.cancelWork == nil {
				m.stopIdle()
				m.setPhase(domain.PhaseIdle)
			}
		}
	}
}

func (m *Machine) startCountdown(ctx context.Context) {
	m.stopTimers()
	m.setPhase(domain.PhaseCountdown)
	if m.intent.Countdown <= 0 {
		m.startDispatch(ctx)
		return
	}
	m.deadline = time.Now().Add(m.intent.Countdown)
	m.countdown = time.NewTimer(m.intent.Countdown)
	m.logger.Info("Departure countdown started", "destination", m.intent.DestinationID, "countdown", m.intent.Countdown)
}

// startDispatch does not cancel a train request still in flight: the bay pull
// finishes (and brakes) before the platform rail is powered.
func (m *Machine) startDispatch(ctx context.Context) {
	m.stopTimers()
	m.setPhase(domain.PhaseDispatching)
	intent := m.intent
	m.spawn(ctx, workDispatch, func(ctx context.Context) error {
		if err := m.strategy.BeforeDispatch(ctx, intent); err != nil {
			return fmt.Errorf("%w: %w", errNotDispatched, err)
		}
		err := m.platform.Dispatch(ctx)
		m.strategy.AfterDispatch(ctx, intent, err)
		return err
	})
}

func (m *Machine) startIdle(ctx context.Context) {
	if m.pending() || !m.platform.HasTrain() {
		m.setPhase(domain.PhaseIdle)
		return
	}
	m.setPhase(m.strategy.IdlePhase())
	m.spawn(ctx, workIdle, func(ctx context.Context) error {
		nearby, err := m.platform.PlayersNearby(ctx)
		if err != nil {
			m.logger.Warn("Player detector unreadable, holding train", "err", err)
			return domain.ErrDeferred
		}
		if nearby {
			return domain.ErrDeferred
		}
		return m.strategy.Idle(ctx)
	})
}

func (m *Machine) onResult(ctx context.Context, r result) {
	if r.id != m.workID {
		return
	}
	m.cancelWork = nil
	m.inflight = nil

	switch r.kind {
	case workRequest:
		if m.phase != domain.PhaseAwaitingTrain {
			return
		}
		if r.err != nil {
			m.logger.Warn("Train request failed", "destination", m.intent.DestinationID, "err", r.err)
			m.strategy.Abort(ctx, m.intent, r.err)
			m.reset(r.err)
			return
		}
		m.armArrival()
	case workDispatch:
		switch {
		case errors.Is(r.err, errNotDispatched):
			m.logger.Warn("Dispatch refused", "destination", m.intent.DestinationID, "err", r.err)
			m.strategy.Abort(ctx, m.intent, r.err)
		case r.err != nil:
			m.logger.Warn("Dispatch failed", "destination", m.intent.DestinationID, "err", r.err)
		default:
			m.logger.Info("Departed", "destination", m.intent.DestinationID)
		}
		m.reset(r.err)
		if m.platform.HasTrain() {
			m.armGrace()
		}
	case workIdle:
		switch {
		case errors.Is(r.err, domain.ErrDeferred):
			m.poll = time.NewTimer(m.cfg.PlayerPoll)
		case r.err != nil:
			m.logger.Warn("Idle action failed", "phase", m.phase, "err", r.err)
			m.lastErr = r.err
			m.setPhase(domain.PhaseIdle)
			if m.platform.HasTrain() {
				m.armGrace()
			}
		default:
			m.setPhase(domain.PhaseIdle)
		}
	}
}

// spawn runs work off the actor once the previous work has finished.
func (m *Machine) spawn(ctx context.Context, kind workKind, work Work) {
	workCtx, cancel := context.WithCancel(ctx)
	prev := m.inflight
	done := make(chan struct{})
	m.workID++
	id := m.workID
	m.cancelWork = cancel
	m.inflight = done

	go func() {
		var err error
		if prev != nil {
			select {
			case <-prev:
			case <-workCtx.Done():
				err = workCtx.Err()
			}
		}
		if err == nil {
			err = work(workCtx)
		}
		cancel()
		close(done)

		select {
		case m.results <- result{kind: kind, id: id, err: err}:
		case <-m.stopped:
		}
	}()
}

// arrivalExpired gives up on a requested train that never reached the platform.
func (m *Machine) arrivalExpired(ctx context.Context) {
	if m.phase != domain.PhaseAwaitingTrain {
		return
	}
	err := fmt.Errorf("%w after %s", domain.ErrArrivalTimeout, m.cfg.ArrivalTimeout)
	m.logger.Warn("Requested train never arrived", "destination", m.intent.DestinationID, "err", err)
	m.strategy.Abort(ctx, m.intent, err)
	m.reset(err)
}

// pending reports whether an accepted intent has not finished yet.
func (m *Machine) pending() bool {
	return m.intent.DestinationID != "" && m.phase != domain.PhaseIdle && m.phase != m.strategy.IdlePhase()
}

func (m *Machine) reset(err error) {
	stopTimer(m.arrival)
	m.arrival = nil
	m.intent = domain.DepartureIntent{}
	m.deadline = time.Time{}
	m.lastErr = err
	m.setPhase(domain.PhaseIdle)
}

func (m *Machine) setPhase(phase domain.Phase) {
	m.phase = phase
	m.intent.Phase = phase
	if phase != domain.PhaseCountdown {
		m.deadline = time.Time{}
	}
}

func (m *Machine) armArrival() {
	stopTimer(m.arrival)
	m.arrival = time.NewTimer(m.cfg.ArrivalTimeout)
}

func (m *Machine) armGrace() {
	m.stopIdle()
	m.grace = time.NewTimer(m.cfg.IdleGrace)
}

func (m *Machine) stopIdle() {
	stopTimer(m.grace)
	stopTimer(m.poll)
	m.grace, m.poll = nil, nil
}

func (m *Machine) stopTimers() {
	stopTimer(m.countdown)
	stopTimer(m.arrival)
	m.countdown, m.arrival = nil, nil
	m.stopIdle()
}

// stopWork cancels in-flight work and ignores its result. The next spawn still
// waits for it to unwind.
func (m *Machine) stopWork() {
	if m.cancelWork != nil {
		m.cancelWork()
		m.cancelWork = nil
	}
	m.workID++
}

func (m *Machine) shutdown() {
	m.stopTimers()
	m.stopWork()
}

func (m *Machine) publish() {
	intent := m.intent
	intent.Phase = m.phase
	if intent.Phase == domain.PhaseAutoReturn && intent.DestinationID == "" {
		intent.DestinationID = domain.HubDestination
	}
	snap := Snapshot{Intent: intent}
	if m.lastErr != nil {
		snap.LastError = m.lastErr.Error()
	}

	m.snapMu.Lock()
	defer m.snapMu.Unlock()
	m.snap = snap
	m.snapDeadline = m.deadline
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func stopTimer(t *time.Timer) {
	if t == nil {
		return
	}
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
