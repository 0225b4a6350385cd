package sensor

import (
	"sync"
	"time"
)

// Debouncer turns raw detector samples into presence toggles.
//
// A detector rail pulses while a train passes over it, and physical contacts flicker.
// Only a rising edge (false -> true) that arrives at least Interval after the previous
// accepted toggle is honored, and it flips the stored presence flag instead of mirroring
// the raw level. Consecutive toggles therefore strictly alternate arrived/departed.
// Safe for concurrent use.
type Debouncer struct {
	mu         sync.Mutex
	interval   time.Duration
	now        func() time.Time
	last       bool
	present    bool
	lastToggle time.Time
	toggled    bool
}

// DebouncerOption configures a Debouncer.
type DebouncerOption func(*Debouncer)

// WithClock replaces the time source.
func WithClock(now func() time.Time) DebouncerOption {
	return func(d *Debouncer) {
		d.now = now
	}
}

// WithInitialPresence seeds the presence flag.
func WithInitialPresence(present bool) DebouncerOption {
	return func(d *Debouncer) {
		d.present = present
	}
}

// NewDebouncer creates a debouncer with the given minimum re-trigger interval.
func NewDebouncer(interval time.Duration, opts ...DebouncerOption) *Debouncer {
	d := &Debouncer{
		interval: interval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Sample feeds one raw reading taken now.
// It reports whether the reading produced a toggle and the resulting presence.
func (d *Debouncer) Sample(level bool) (bool, bool) {
	return d.SampleAt(level, d.now())
}

// SampleAt feeds one raw reading taken at the given time.
func (d *Debouncer) SampleAt(level bool, at time.Time) (bool, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rising := level && !d.last
	d.last = level
	if !rising {
		return false, d.present
	}
	if d.toggled && at.Sub(d.lastToggle) < d.interval {
		return false, d.present
	}

	d.present = !d.present
	d.lastToggle = at
	d.toggled = true
	return true, d.present
}

// Present returns the debounced presence flag.
func (d *Debouncer) Present() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.present
}

// LastToggle returns the time of the last honored toggle (zero if none).
func (d *Debouncer) LastToggle() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastToggle
}
