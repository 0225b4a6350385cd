package domain

import "time"

// LockState is the phase of the hub's switch lock.
type LockState string

const (
	LockUnlocked LockState = "UNLOCKED"
	LockPending  LockState = "LOCK_PENDING"
	LockLocked   LockState = "LOCKED"
)

// SwitchLock is a snapshot of the hub's exclusive claim over its parking-bay switches.
type SwitchLock struct {
	State      LockState `json:"state"`
	Holder     string    `json:"holder,omitempty"`
	Bay        int       `json:"bay"`
	AcquiredAt time.Time `json:"acquired_at,omitempty"`
}

// Held reports whether any transit currently owns the lock.
func (l SwitchLock) Held() bool {
	return l.State != LockUnlocked && l.State != ""
}

// NoBay marks a lock taken for a train already standing at the platform.
const NoBay = -1

// ReleaseReason explains why a lock went back to UNLOCKED.
type ReleaseReason string

const (
	ReleaseArrival         ReleaseReason = "arrival"
	ReleaseInboundDispatch ReleaseReason = "inbound_dispatch"
	ReleaseTimeout         ReleaseReason = "safety_timeout"
	ReleaseCancelled       ReleaseReason = "cancelled"
	ReleaseDispatchFailed  ReleaseReason = "dispatch_failed"
)

// Forced reports whether the release happened without an acknowledgement.
func (r ReleaseReason) Forced() bool {
	return r == ReleaseTimeout
}
