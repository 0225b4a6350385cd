package departure_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/railhub/internal/departure"
	"github.com/aretw0/railhub/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockStrategy struct {
	mock.Mock
}

func (m *MockStrategy) RequestTrain(ctx context.Context, intent domain.DepartureIntent) (departure.Work, error) {
	args := m.Called(ctx, intent)
	work, _ := args.Get(0).(departure.Work)
	return work, args.Error(1)
}

func (m *MockStrategy) BeforeDispatch(ctx context.Context, intent domain.DepartureIntent) error {
	return m.Called(ctx, intent).Error(0)
}

func (m *MockStrategy) AfterDispatch(ctx context.Context, intent domain.DepartureIntent, err error) {
	m.Called(ctx, intent, err)
}

func (m *MockStrategy) Abort(ctx context.Context, intent domain.DepartureIntent, cause error) {
	m.Called(ctx, intent, cause)
}

func (m *MockStrategy) IdlePhase() domain.Phase {
	return m.Called().Get(0).(domain.Phase)
}

func (m *MockStrategy) Idle(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type fakePlatform struct {
	mu          sync.Mutex
	hasTrain    bool
	players     bool
	dispatchErr error
	dispatches  int
	events      chan domain.StationEvent
}

func newFakePlatform(hasTrain bool) *fakePlatform {
	return &fakePlatform{hasTrain: hasTrain, events: make(chan domain.StationEvent, 16)}
}

func (p *fakePlatform) HasTrain() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasTrain
}

func (p *fakePlatform) PlayersNearby(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.players, nil
}

func (p *fakePlatform) Dispatch(ctx context.Context) error {
	p.mu.Lock()
	p.dispatches++
	err := p.dispatchErr
	if err == nil {
		p.hasTrain = false
	}
	p.mu.Unlock()
	if err == nil {
		p.events <- domain.StationEvent{Timestamp: time.Now(), Type: domain.EventDeparted, Source: domain.MainDetector}
	}
	return err
}

func (p *fakePlatform) Subscribe() (<-chan domain.StationEvent, func()) {
	return p.events, func() {}
}

func (p *fakePlatform) arrive() {
	p.mu.Lock()
	p.hasTrain = true
	p.mu.Unlock()
	p.events <- domain.StationEvent{Timestamp: time.Now(), Type: domain.EventArrived, Source: domain.MainDetector}
}

func (p *fakePlatform) setPlayers(near bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.players = near
}

func (p *fakePlatform) dispatchCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dispatches
}

func newStrategy() *MockStrategy {
	s := new(MockStrategy)
	s.On("IdlePhase").Return(domain.PhaseAutoPark).Maybe()
	return s
}

func startMachine(t *testing.T, cfg departure.Config, p *fakePlatform, s *MockStrategy) *departure.Machine {
	t.Helper()
	m := departure.New(cfg, p, s)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return m
}

func phaseIs(m *departure.Machine, phase domain.Phase) func() bool {
	return func() bool { return m.Phase() == phase }
}

func TestMachine_SelectWithTrainPresent(t *testing.T) {
	p := newFakePlatform(true)
	s := newStrategy()
	s.On("BeforeDispatch", mock.Anything, mock.Anything).Return(nil)
	s.On("AfterDispatch", mock.Anything, mock.Anything, nil).Return()

	m := startMachine(t, departure.Config{Countdown: 50 * time.Millisecond, IdleGrace: time.Hour}, p, s)
	ctx := context.Background()

	require.NoError(t, m.Select(ctx, "remote-1", "North", domain.OriginLocal))
	snap := m.Snapshot()
	assert.Equal(t, domain.PhaseCountdown, snap.Intent.Phase)
	assert.Equal(t, "remote-1", snap.Intent.DestinationID)
	assert.Equal(t, domain.OriginLocal, snap.Intent.Origin)

	require.Eventually(t, phaseIs(m, domain.PhaseIdle), time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, p.dispatchCount())
	assert.Empty(t, m.Snapshot().LastError)
	s.AssertExpectations(t)
	s.AssertNotCalled(t, "RequestTrain", mock.Anything, mock.Anything)
}

func TestMachine_AwaitsTrainThenDispatches(t *testing.T) {
	p := newFakePlatform(false)
	s := newStrategy()
	requested := make(chan struct{})
	s.On("RequestTrain", mock.Anything, mock.MatchedBy(func(i domain.DepartureIntent) bool {
		return i.DestinationID == "remote-1"
	})).Return(departure.Work(func(ctx context.Context) error {
		close(requested)
		return nil
	}), nil)
	s.On("BeforeDispatch", mock.Anything, mock.Anything).Return(nil)
	s.On("AfterDispatch", mock.Anything, mock.Anything, nil).Return()

	m := startMachine(t, departure.Config{Countdown: 20 * time.Millisecond, IdleGrace: time.Hour}, p, s)
	require.NoError(t, m.Select(context.Background(), "remote-1", "", domain.OriginLocal))
	assert.Equal(t, domain.PhaseAwaitingTrain, m.Phase())

	<-requested
	p.arrive()

	require.Eventually(t, func() bool { return p.dispatchCount() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, phaseIs(m, domain.PhaseIdle), time.Second, 5*time.Millisecond)
	s.AssertExpectations(t)
}

func TestMachine_CancelDuringCountdown(t *testing.T) {
	p := newFakePlatform(true)
	s := newStrategy()
	s.On("Abort", mock.Anything, mock.Anything, context.Canceled).Return()

	m := startMachine(t, departure.Config{Countdown: time.Hour, IdleGrace: time.Hour}, p, s)
	ctx := context.Background()

	require.NoError(t, m.Select(ctx, "remote-1", "", domain.OriginLocal))
	assert.Greater(t, m.Snapshot().Intent.Remaining, 59*time.Minute)

	require.NoError(t, m.Cancel(ctx))
	assert.Equal(t, domain.PhaseIdle, m.Phase())
	assert.False(t, m.Snapshot().Intent.Active())
	assert.ErrorIs(t, m.Cancel(ctx), domain.ErrNoIntent)

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, p.dispatchCount())
	s.AssertExpectations(t)
}

func TestMachine_OneIntentAtATime(t *testing.T) {
	p := newFakePlatform(true)
	s := newStrategy()
	m := startMachine(t, departure.Config{Countdown: time.Hour, IdleGrace: time.Hour}, p, s)
	ctx := context.Background()

	require.NoError(t, m.Select(ctx, "remote-1", "", domain.OriginLocal))
	assert.ErrorIs(t, m.Select(ctx, "remote-2", "", domain.OriginLocal), domain.ErrIntentActive)
}

func TestMachine_DuplicateRemoteRequestIsIdempotent(t *testing.T) {
	p := newFakePlatform(false)
	s := newStrategy()
	s.On("RequestTrain", mock.Anything, mock.Anything).Return(nil, nil).Once()

	m := startMachine(t, departure.Config{Countdown: time.Hour, IdleGrace: time.Hour}, p, s)
	ctx := context.Background()

	require.NoError(t, m.Select(ctx, "remote-1", "", domain.OriginRemote))
	require.NoError(t, m.Select(ctx, "remote-1", "", domain.OriginRemote))
	assert.ErrorIs(t, m.Select(ctx, "remote-2", "", domain.OriginRemote), domain.ErrIntentActive)
	s.AssertNumberOfCalls(t, "RequestTrain", 1)
}

func TestMachine_RemoteOriginSkipsCountdown(t *testing.T) {
	p := newFakePlatform(true)
	s := newStrategy()
	s.On("BeforeDispatch", mock.Anything, mock.Anything).Return(nil)
	s.On("AfterDispatch", mock.Anything, mock.Anything, nil).Return()

	m := startMachine(t, departure.Config{Countdown: time.Hour, IdleGrace: time.Hour}, p, s)
	require.NoError(t, m.Select(context.Background(), "remote-1", "", domain.OriginRemote))

	require.Eventually(t, func() bool { return p.dispatchCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestMachine_RefusedRequest(t *testing.T) {
	p := newFakePlatform(false)
	s := newStrategy()
	s.On("RequestTrain", mock.Anything, mock.Anything).Return(nil, domain.ErrLockHeld)

	m := startMachine(t, departure.Config{IdleGrace: time.Hour}, p, s)
	err := m.Select(context.Background(), "remote-1", "", domain.OriginRemote)

	assert.ErrorIs(t, err, domain.ErrLockHeld)
	snap := m.Snapshot()
	assert.Equal(t, domain.PhaseIdle, snap.Intent.Phase)
	assert.Equal(t, domain.ErrLockHeld.Error(), snap.LastError)
	s.AssertExpectations(t)
	s.AssertNotCalled(t, "Abort", mock.Anything, mock.Anything, mock.Anything)
}

func TestMachine_FailedTrainRequestAborts(t *testing.T) {
	p := newFakePlatform(false)
	s := newStrategy()
	s.On("RequestTrain", mock.Anything, mock.Anything).Return(departure.Work(func(ctx context.Context) error {
		return domain.ErrDispatchTimeout
	}), nil)
	s.On("Abort", mock.Anything, mock.Anything, domain.ErrDispatchTimeout).Return()

	m := startMachine(t, departure.Config{IdleGrace: time.Hour}, p, s)
	require.NoError(t, m.Select(context.Background(), "remote-1", "", domain.OriginLocal))

	require.Eventually(t, phaseIs(m, domain.PhaseIdle), time.Second, 5*time.Millisecond)
	assert.Contains(t, m.Snapshot().LastError, "timed out")
	s.AssertExpectations(t)
}

func TestMachine_RejectWhileAwaiting(t *testing.T) {
	p := newFakePlatform(false)
	s := newStrategy()
	unavailable := errors.New("hub has no train")
	s.On("RequestTrain", mock.Anything, mock.Anything).Return(nil, nil)
	s.On("Abort", mock.Anything, mock.Anything, unavailable).Return()

	m := startMachine(t, departure.Config{IdleGrace: time.Hour}, p, s)
	ctx := context.Background()
	require.NoError(t, m.Select(ctx, "hub-1", "", domain.OriginLocal))

	require.NoError(t, m.Reject(ctx, unavailable))
	assert.Equal(t, domain.PhaseIdle, m.Phase())
	assert.Equal(t, unavailable.Error(), m.Snapshot().LastError)
	assert.ErrorIs(t, m.Reject(ctx, unavailable), domain.ErrNoIntent)
}

func TestMachine_CancelWhileAwaitingTrain(t *testing.T) {
	p := newFakePlatform(false)
	s := newStrategy()
	s.On("RequestTrain", mock.Anything, mock.Anything).Return(nil, nil).Once()
	s.On("Abort", mock.Anything, mock.Anything, context.Canceled).Return().Once()

	m := startMachine(t, departure.Config{Countdown: time.Hour, IdleGrace: time.Hour}, p, s)
	ctx := context.Background()
	require.NoError(t, m.Select(ctx, "hub-1", "", domain.OriginLocal))
	assert.True(t, m.Snapshot().Intent.Active())
	assert.ErrorIs(t, m.Select(ctx, "remote-2", "", domain.OriginLocal), domain.ErrIntentActive)

	require.NoError(t, m.Cancel(ctx))
	assert.Equal(t, domain.PhaseIdle, m.Phase())
	assert.Empty(t, m.Snapshot().LastError)
	assert.ErrorIs(t, m.Cancel(ctx), domain.ErrNoIntent)
	s.AssertExpectations(t)
}

func isArrivalTimeout(err error) bool {
	return errors.Is(err, domain.ErrArrivalTimeout)
}

func TestMachine_ArrivalDeadlineAbortsSentRequest(t *testing.T) {
	p := newFakePlatform(false)
	s := newStrategy()
	s.On("RequestTrain", mock.Anything, mock.Anything).Return(nil, nil).Once()
	s.On("Abort", mock.Anything, mock.Anything, mock.MatchedBy(isArrivalTimeout)).Return().Once()

	m := startMachine(t, departure.Config{Countdown: time.Hour, IdleGrace: time.Hour, ArrivalTimeout: 30 * time.Millisecond}, p, s)
	require.NoError(t, m.Select(context.Background(), "hub-1", "", domain.OriginLocal))
	assert.Equal(t, domain.PhaseAwaitingTrain, m.Phase())

	require.Eventually(t, phaseIs(m, domain.PhaseIdle), time.Second, 5*time.Millisecond)
	assert.Contains(t, m.Snapshot().LastError, domain.ErrArrivalTimeout.Error())
	s.AssertExpectations(t)
}

func TestMachine_ArrivalDeadlineAfterBayPull(t *testing.T) {
	p := newFakePlatform(false)
	s := newStrategy()
	pulled := make(chan struct{})
	s.On("RequestTrain", mock.Anything, mock.Anything).Return(departure.Work(func(ctx context.Context) error {
		close(pulled)
		return nil
	}), nil).Once()
	s.On("Abort", mock.Anything, mock.Anything, mock.MatchedBy(isArrivalTimeout)).Return().Once()

	m := startMachine(t, departure.Config{Countdown: time.Hour, IdleGrace: time.Hour, ArrivalTimeout: 30 * time.Millisecond}, p, s)
	require.NoError(t, m.Select(context.Background(), "remote-1", "", domain.OriginRemote))
	<-pulled

	// The train left the bay but never reached the platform.
	require.Eventually(t, phaseIs(m, domain.PhaseIdle), time.Second, 5*time.Millisecond)
	assert.Contains(t, m.Snapshot().LastError, domain.ErrArrivalTimeout.Error())
	assert.Zero(t, p.dispatchCount())
	s.AssertExpectations(t)
}

func TestMachine_ArrivalInTimeStopsDeadline(t *testing.T) {
	p := newFakePlatform(false)
	s := newStrategy()
	s.On("RequestTrain", mock.Anything, mock.Anything).Return(nil, nil).Once()

	m := startMachine(t, departure.Config{Countdown: time.Hour, IdleGrace: time.Hour, ArrivalTimeout: 40 * time.Millisecond}, p, s)
	require.NoError(t, m.Select(context.Background(), "hub-1", "", domain.OriginLocal))
	p.arrive()
	require.Eventually(t, phaseIs(m, domain.PhaseCountdown), time.Second, 2*time.Millisecond)

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, domain.PhaseCountdown, m.Phase())
	s.AssertNotCalled(t, "Abort", mock.Anything, mock.Anything, mock.Anything)
}

func TestMachine_DispatchFailureIsRecorded(t *testing.T) {
	p := newFakePlatform(true)
	p.dispatchErr = domain.ErrDispatchTimeout
	s := newStrategy()
	s.On("BeforeDispatch", mock.Anything, mock.Anything).Return(nil)
	s.On("AfterDispatch", mock.Anything, mock.Anything, domain.ErrDispatchTimeout).Return()

	m := startMachine(t, departure.Config{IdleGrace: time.Hour}, p, s)
	require.NoError(t, m.Select(context.Background(), "remote-1", "", domain.OriginRemote))

	require.Eventually(t, func() bool {
		snap := m.Snapshot()
		return snap.Intent.Phase == domain.PhaseIdle && snap.LastError != ""
	}, time.Second, 5*time.Millisecond)
	s.AssertExpectations(t)
}

func TestMachine_IdleActionWaitsForPlayers(t *testing.T) {
	p := newFakePlatform(false)
	p.setPlayers(true)
	s := newStrategy()
	parked := make(chan struct{})
	s.On("Idle", mock.Anything).Run(func(mock.Arguments) { close(parked) }).Return(nil).Once()

	m := startMachine(t, departure.Config{IdleGrace: 20 * time.Millisecond, PlayerPoll: 20 * time.Millisecond}, p, s)
	p.arrive()

	require.Eventually(t, phaseIs(m, domain.PhaseAutoPark), time.Second, 2*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	s.AssertNotCalled(t, "Idle", mock.Anything)
	assert.Equal(t, domain.PhaseAutoPark, m.Phase())

	p.setPlayers(false)
	select {
	case <-parked:
	case <-time.After(time.Second):
		t.Fatal("idle action did not run once players left")
	}
	require.Eventually(t, phaseIs(m, domain.PhaseIdle), time.Second, 2*time.Millisecond)
}

func TestMachine_SelectPreemptsIdleGrace(t *testing.T) {
	p := newFakePlatform(false)
	s := newStrategy()

	m := startMachine(t, departure.Config{Countdown: time.Hour, IdleGrace: 30 * time.Millisecond}, p, s)
	p.arrive()
	time.Sleep(5 * time.Millisecond)

	require.NoError(t, m.Select(context.Background(), "remote-1", "", domain.OriginLocal))
	time.Sleep(80 * time.Millisecond)

	assert.Equal(t, domain.PhaseCountdown, m.Phase())
	s.AssertNotCalled(t, "Idle", mock.Anything)
}

func TestMachine_CallsAfterStop(t *testing.T) {
	p := newFakePlatform(false)
	m := departure.New(departure.Config{}, p, newStrategy())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Run(ctx)
	}()
	cancel()
	<-done

	assert.ErrorIs(t, m.Select(context.Background(), "x", "", domain.OriginLocal), departure.ErrStopped)
}
