package persist

import (
	"sync"
	"time"
)

// debouncer implements a trailing-edge timer with a hard ceiling: fire is
// invoked at most once per Trigger burst, either when quiet time has
// elapsed since the last Trigger or when maxWait has elapsed since the
// first Trigger of the burst, whichever comes first. Shaped after the
// domwatch package's reset-on-update debounce timer, adapted from a
// record-count ceiling to a wall-clock one.
type debouncer struct {
	mu       sync.Mutex
	quiet    time.Duration
	maxWait  time.Duration
	fire     func()
	pending  bool
	quietT   *time.Timer
	deadline *time.Timer
}

func newDebouncer(quiet, maxWait time.Duration, fire func()) *debouncer {
	return &debouncer{quiet: quiet, maxWait: maxWait, fire: fire}
}

// Trigger records an update. The leading edge never fires by itself.
func (d *debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.pending {
		d.pending = true
		d.deadline = time.AfterFunc(d.maxWait, d.flush)
	}
	if d.quietT != nil {
		d.quietT.Stop()
	}
	d.quietT = time.AfterFunc(d.quiet, d.flush)
}

// Stop cancels any pending timers without firing.
func (d *debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked()
}

func (d *debouncer) cancelLocked() {
	d.pending = false
	if d.quietT != nil {
		d.quietT.Stop()
		d.quietT = nil
	}
	if d.deadline != nil {
		d.deadline.Stop()
		d.deadline = nil
	}
}

func (d *debouncer) flush() {
	d.mu.Lock()
	if !d.pending {
		d.mu.Unlock()
		return
	}
	d.cancelLocked()
	fn := d.fire
	d.mu.Unlock()
	fn()
}
