package sensor_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/railhub/internal/sensor"
	"github.com/aretw0/railhub/pkg/adapters/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampler_ReportsToggles(t *testing.T) {
	hw := memory.NewHardware("detector")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []sensor.Toggle
	s := sensor.NewSampler(hw, "detector", sensor.NewDebouncer(0), func(tg sensor.Toggle) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, tg)
	}, sensor.WithRate(5*time.Millisecond))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()

	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(got)
	}

	hw.Set("detector", true)
	require.Eventually(t, func() bool { return count() == 1 }, time.Second, 5*time.Millisecond)

	hw.Set("detector", false)
	time.Sleep(30 * time.Millisecond)
	hw.Set("detector", true)
	require.Eventually(t, func() bool { return count() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, got[0].Present)
	assert.False(t, got[1].Present)
}

func TestSampler_SurvivesUnavailableInput(t *testing.T) {
	hw := memory.NewHardware()
	ctx, cancel := context.WithCancel(context.Background())

	toggles := make(chan sensor.Toggle, 1)
	s := sensor.NewSampler(hw, "late", sensor.NewDebouncer(0), func(tg sensor.Toggle) {
		toggles <- tg
	}, sensor.WithRate(5*time.Millisecond))

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// Device appears after a few failed reads
	time.Sleep(30 * time.Millisecond)
	hw.Declare("late")
	hw.Set("late", true)

	select {
	case tg := <-toggles:
		assert.True(t, tg.Present)
	case <-time.After(time.Second):
		t.Fatal("sampler did not recover after the input became available")
	}

	cancel()
	assert.NoError(t, <-done)
}
