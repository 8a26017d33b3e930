package watcher

import (
	"sync"
	"time"
)

// DefaultDebounceDuration coalesces the event bursts editors produce when
// saving a file (truncate, write, rename).
const DefaultDebounceDuration = 100 * time.Millisecond

// Debouncer collapses rapid triggers into a single callback invocation
// after a quiet period.
type Debouncer struct {
	duration time.Duration

	mu    sync.Mutex
	timer *time.Timer
}

// NewDebouncer creates a debouncer with the given quiet period, falling
// back to DefaultDebounceDuration when non-positive.
func NewDebouncer(d time.Duration) *Debouncer {
	if d <= 0 {
		d = DefaultDebounceDuration
	}
	return &Debouncer{duration: d}
}

// Duration returns the configured quiet period.
func (d *Debouncer) Duration() time.Duration { return d.duration }

// Trigger schedules fn after the quiet period, resetting the countdown if
// a trigger is already pending, so bursts fire fn exactly once.
func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.duration, fn)
}

// Cancel drops any pending trigger.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
