package hub

import (
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/railhub/internal/logging"
	"github.com/aretw0/railhub/internal/metrics"
	"github.com/aretw0/railhub/pkg/domain"
)

// Lock is the hub's exclusive claim over its parking-bay switches.
//
//	UNLOCKED -> LOCK_PENDING (TryAcquire) -> LOCKED (Confirm) -> UNLOCKED (Release*)
//
// Each hold arms exactly one safety timer; a timer left over from an earlier hold
// is recognized by its generation and ignored.
type Lock struct {
	mu      sync.Mutex
	state   domain.SwitchLock
	timeout time.Duration
	timer   *time.Timer
	gen     uint64
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Collector
}

// NewLock creates an unlocked lock with the given safety timeout.
func NewLock(timeout time.Duration, logger *slog.Logger, m *metrics.Collector) *Lock {
	if timeout <= 0 {
		timeout = domain.DefaultLockTimeout
	}
	return &Lock{
		state:   domain.SwitchLock{State: domain.LockUnlocked, Bay: domain.NoBay},
		timeout: timeout,
		now:     time.Now,
		logger:  logging.OrNop(logger),
		metrics: m,
	}
}

// TryAcquire moves the lock to LOCK_PENDING for holder. It succeeds only from
// UNLOCKED. A re-acquire by the holder of a pending lock is a no-op; once LOCKED,
// a train is in transit and every acquisition is rejected.
func (l *Lock) TryAcquire(holder string, bay int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state.Held() {
		if l.state.State == domain.LockPending && l.state.Holder == holder {
			return nil
		}
		return domain.ErrLockHeld
	}

	l.gen++
	gen := l.gen
	l.state = domain.SwitchLock{State: domain.LockPending, Holder: holder, Bay: bay, AcquiredAt: l.now()}
	l.timer = time.AfterFunc(l.timeout, func() { l.expire(gen) })
	l.metrics.SetLockState(domain.LockPending)
	l.logger.Info("Switch lock pending", "holder", holder, "bay", bay)
	return nil
}

// Confirm moves a pending lock to LOCKED. It reports whether the state changed.
func (l *Lock) Confirm() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.State != domain.LockPending {
		return false
	}
	l.state.State = domain.LockLocked
	l.metrics.SetLockState(domain.LockLocked)
	l.logger.Info("Switch lock confirmed by departure", "holder", l.state.Holder)
	return true
}

// ReleaseLocked releases a LOCKED lock held by holder.
func (l *Lock) ReleaseLocked(holder string, reason domain.ReleaseReason) bool {
	return l.release(holder, reason, domain.LockLocked)
}

// ReleasePending releases a LOCK_PENDING lock held by holder.
func (l *Lock) ReleasePending(holder string, reason domain.ReleaseReason) bool {
	return l.release(holder, reason, domain.LockPending)
}

// Snapshot returns the current lock state.
func (l *Lock) Snapshot() domain.SwitchLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Held reports whether any transit owns the lock.
func (l *Lock) Held() bool {
	return l.Snapshot().Held()
}

// Stop disarms the safety timer without changing the state.
func (l *Lock) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.gen++
}

func (l *Lock) release(holder string, reason domain.ReleaseReason, from domain.LockState) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.State != from || l.state.Holder != holder {
		return false
	}
	l.unlockLocked(reason)
	return true
}

func (l *Lock) expire(gen uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if gen != l.gen || !l.state.Held() {
		return
	}
	l.unlockLocked(domain.ReleaseTimeout)
}

func (l *Lock) unlockLocked(reason domain.ReleaseReason) {
	prev := l.state
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.gen++
	l.state = domain.SwitchLock{State: domain.LockUnlocked, Bay: domain.NoBay}

	l.metrics.SetLockState(domain.LockUnlocked)
	l.metrics.LockReleased(reason)
	if reason.Forced() {
		l.logger.Warn("Forced unlock after safety timeout", "holder", prev.Holder, "state", prev.State,
			"held_for", l.now().Sub(prev.AcquiredAt).Round(time.Millisecond))
		return
	}
	l.logger.Info("Switch lock released", "holder", prev.Holder, "state", prev.State, "reason", reason)
}
