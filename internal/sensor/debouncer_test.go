package sensor_test

import (
	"math/rand"
	"testing"
	"time"

	"github.com/aretw0/railhub/internal/sensor"
	"github.com/stretchr/testify/assert"
)

func TestDebouncer_RisingEdgeFlipsPresence(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	d := sensor.NewDebouncer(2 * time.Second)

	toggled, present := d.SampleAt(false, base)
	assert.False(t, toggled, "low sample is not an edge")
	assert.False(t, present)

	toggled, present = d.SampleAt(true, base.Add(100*time.Millisecond))
	assert.True(t, toggled)
	assert.True(t, present, "first edge marks the train as arrived")

	// Holding the level high is not a new edge
	toggled, _ = d.SampleAt(true, base.Add(5*time.Second))
	assert.False(t, toggled)

	d.SampleAt(false, base.Add(6*time.Second))
	toggled, present = d.SampleAt(true, base.Add(7*time.Second))
	assert.True(t, toggled)
	assert.False(t, present, "second edge marks the train as departed")
}

// A bay detector pulsing twice 0.5s apart with a 2s debounce honors only the first pulse.
func TestDebouncer_BouncingBayDetector(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	d := sensor.NewDebouncer(2 * time.Second)

	toggled, occupied := d.SampleAt(true, base)
	assert.True(t, toggled)
	assert.True(t, occupied)

	d.SampleAt(false, base.Add(200*time.Millisecond))
	toggled, occupied = d.SampleAt(true, base.Add(500*time.Millisecond))
	assert.False(t, toggled, "second pulse inside the interval must be ignored")
	assert.True(t, occupied, "occupancy unchanged")
	assert.Equal(t, base, d.LastToggle())
}

func TestDebouncer_AtMostOneTogglePerInterval(t *testing.T) {
	const interval = 2 * time.Second
	rng := rand.New(rand.NewSource(42))
	base := time.Unix(1_700_000_000, 0)
	d := sensor.NewDebouncer(interval)

	var toggles []time.Time
	var states []bool
	at := base
	level := false
	for i := 0; i < 5000; i++ {
		at = at.Add(time.Duration(rng.Intn(400)+1) * time.Millisecond)
		if rng.Intn(3) == 0 {
			level = !level
		}
		if toggled, present := d.SampleAt(level, at); toggled {
			toggles = append(toggles, at)
			states = append(states, present)
		}
	}

	if len(toggles) < 2 {
		t.Fatalf("expected a noisy signal to produce several toggles, got %d", len(toggles))
	}
	for i := 1; i < len(toggles); i++ {
		if gap := toggles[i].Sub(toggles[i-1]); gap < interval {
			t.Errorf("toggle %d only %v after the previous one", i, gap)
		}
		if states[i] == states[i-1] {
			t.Errorf("toggle %d did not alternate presence", i)
		}
	}
	assert.True(t, states[0], "first toggle always reports arrival")
}

func TestDebouncer_InjectedClock(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	d := sensor.NewDebouncer(time.Second,
		sensor.WithClock(func() time.Time { return now }),
		sensor.WithInitialPresence(true),
	)

	toggled, present := d.Sample(true)
	assert.True(t, toggled)
	assert.False(t, present, "seeded presence flips to departed")

	d.Sample(false)
	now = now.Add(999 * time.Millisecond)
	toggled, _ = d.Sample(true)
	assert.False(t, toggled)

	d.Sample(false)
	now = now.Add(time.Millisecond)
	toggled, present = d.Sample(true)
	assert.True(t, toggled)
	assert.True(t, present)
	assert.True(t, d.Present())
}
