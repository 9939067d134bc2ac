package realtime

import (
	"sync"
	"time"
)

// Debouncer coalesces rapid triggers into one trailing call: fn runs once,
// a quiet window after the last trigger, and never twice within the
// cooldown. Bulk directory operations use this to avoid refresh storms.
type Debouncer struct {
	window   time.Duration
	cooldown time.Duration
	fn       func()
	now      func() time.Time

	mu      sync.Mutex
	timer   *time.Timer
	lastRun time.Time
	stopped bool
}

// NewDebouncer creates a Debouncer calling fn.
func NewDebouncer(window, cooldown time.Duration, fn func()) *Debouncer {
	return &Debouncer{
		window:   window,
		cooldown: cooldown,
		fn:       fn,
		now:      time.Now,
	}
}

// Trigger records an occurrence. The pending call, if any, is pushed back
// to one window after this trigger.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.fire)
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	if since := d.now().Sub(d.lastRun); !d.lastRun.IsZero() && since < d.cooldown {
		// Still cooling down; defer to the moment the cooldown expires.
		d.timer = time.AfterFunc(d.cooldown-since, d.fire)
		d.mu.Unlock()
		return
	}
	d.lastRun = d.now()
	d.mu.Unlock()

	d.fn()
}

// Stop cancels any pending call. The Debouncer is unusable afterwards.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
