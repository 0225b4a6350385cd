package hub

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/railhub/internal/logging"
	"github.com/aretw0/railhub/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer is a bytes.Buffer safe for the timer goroutine to write into.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestLock_SecondAcquisitionRejected(t *testing.T) {
	l := NewLock(time.Minute, nil, nil)
	defer l.Stop()

	require.NoError(t, l.TryAcquire("remote-1", 2))
	assert.ErrorIs(t, l.TryAcquire("remote-2", 3), domain.ErrLockHeld)
	assert.NoError(t, l.TryAcquire("remote-1", 2), "same holder re-acquire is a no-op")

	snap := l.Snapshot()
	assert.Equal(t, domain.LockPending, snap.State)
	assert.Equal(t, "remote-1", snap.Holder)
	assert.Equal(t, 2, snap.Bay)
}

func TestLock_ReacquireWhileLockedRejected(t *testing.T) {
	l := NewLock(time.Minute, nil, nil)
	defer l.Stop()

	require.NoError(t, l.TryAcquire("remote-1", 1))
	require.True(t, l.Confirm())

	assert.ErrorIs(t, l.TryAcquire("remote-1", 2), domain.ErrLockHeld, "the holder's train is in transit")
	assert.ErrorIs(t, l.TryAcquire("remote-1", domain.NoBay), domain.ErrLockHeld)

	snap := l.Snapshot()
	assert.Equal(t, domain.LockLocked, snap.State)
	assert.Equal(t, 1, snap.Bay)
}

func TestLock_ConcurrentAcquireHasOneWinner(t *testing.T) {
	l := NewLock(time.Minute, nil, nil)
	defer l.Stop()

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if l.TryAcquire(strings.Repeat("r", i+1), domain.NoBay) == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}

func TestLock_Lifecycle(t *testing.T) {
	l := NewLock(time.Minute, nil, nil)
	defer l.Stop()

	assert.False(t, l.Confirm(), "nothing to confirm while unlocked")
	require.NoError(t, l.TryAcquire("remote-1", domain.NoBay))

	assert.False(t, l.ReleaseLocked("remote-1", domain.ReleaseArrival), "arrival does not release a pending lock")
	assert.True(t, l.Confirm())
	assert.Equal(t, domain.LockLocked, l.Snapshot().State)

	assert.False(t, l.ReleaseLocked("remote-2", domain.ReleaseArrival), "only the holder releases")
	assert.False(t, l.ReleasePending("remote-1", domain.ReleaseCancelled), "cancel cannot release a confirmed lock")
	assert.True(t, l.ReleaseLocked("remote-1", domain.ReleaseArrival))
	assert.False(t, l.Held())
	assert.Equal(t, domain.NoBay, l.Snapshot().Bay)
}

func TestLock_CancelReleasesPending(t *testing.T) {
	l := NewLock(time.Minute, nil, nil)
	defer l.Stop()

	require.NoError(t, l.TryAcquire("remote-1", 1))
	assert.True(t, l.ReleasePending("remote-1", domain.ReleaseCancelled))
	assert.NoError(t, l.TryAcquire("remote-2", 1))
}

// A lock held past the safety timeout with no arrival report is force-released and logged.
func TestLock_SafetyTimeoutForcesUnlock(t *testing.T) {
	var out syncBuffer
	logger := logging.New(logging.Options{Output: &out})
	l := NewLock(50*time.Millisecond, logger, nil)
	defer l.Stop()

	require.NoError(t, l.TryAcquire("remote-1", 2))
	require.True(t, l.Confirm())

	require.Eventually(t, func() bool { return !l.Held() }, time.Second, 5*time.Millisecond)
	logs := out.String()
	assert.Contains(t, logs, "Forced unlock")
	assert.Contains(t, logs, "level=WARN")
	assert.Contains(t, logs, "holder=remote-1")
}

func TestLock_StaleTimerDoesNotReleaseNextHold(t *testing.T) {
	l := NewLock(60*time.Millisecond, nil, nil)
	defer l.Stop()

	require.NoError(t, l.TryAcquire("remote-1", domain.NoBay))
	time.Sleep(40 * time.Millisecond)
	require.True(t, l.ReleasePending("remote-1", domain.ReleaseCancelled))
	require.NoError(t, l.TryAcquire("remote-2", domain.NoBay))

	// The first hold's deadline passes; the second hold survives it.
	time.Sleep(35 * time.Millisecond)
	assert.True(t, l.Held())
	assert.Equal(t, "remote-2", l.Snapshot().Holder)

	require.Eventually(t, func() bool { return !l.Held() }, time.Second, 5*time.Millisecond)
}
