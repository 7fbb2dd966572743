package attempt

import (
	"sync"
	"time"
)

// Clock abstracts time.Now so tests can drive expiry with a simulated clock
// instead of wall-clock sleeps.
type Clock func() time.Time

// Watchdog forces termination of one timed attempt when its deadline passes.
// It is instantiated only when the quiz carries a time limit. Remaining time
// is always recomputed as deadline minus the clock's now, never decremented
// per tick, so a throttled or suspended process cannot stretch the limit.
type Watchdog struct {
	deadline time.Time
	clock    Clock
	after    func(time.Duration) <-chan time.Time
	onExpire func()

	mu      sync.Mutex
	fired   bool
	stopped bool
	stop    chan struct{}
}

// WatchdogOption tweaks construction; tests use WithAfter to supply a
// hand-driven wakeup channel.
type WatchdogOption func(*Watchdog)

func WithAfter(after func(time.Duration) <-chan time.Time) WatchdogOption {
	return func(w *Watchdog) { w.after = after }
}

func NewWatchdog(deadline time.Time, clock Clock, onExpire func(), opts ...WatchdogOption) *Watchdog {
	if clock == nil {
		clock = time.Now
	}
	w := &Watchdog{
		deadline: deadline,
		clock:    clock,
		after:    time.After,
		onExpire: onExpire,
		stop:     make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Remaining is never negative.
func (w *Watchdog) Remaining() time.Duration {
	d := w.deadline.Sub(w.clock())
	if d < 0 {
		d = 0
	}
	return d
}

// Start launches the countdown. On each wakeup the deadline is re-checked
// against the clock; a wakeup that arrives early (or a clock that jumped) is
// simply re-armed with the corrected remaining duration.
func (w *Watchdog) Start() {
	go w.run()
}

func (w *Watchdog) run() {
	for {
		rem := w.Remaining()
		if rem == 0 {
			w.fire()
			return
		}
		select {
		case <-w.after(rem):
			// loop re-checks the clock before firing
		case <-w.stop:
			return
		}
	}
}

// fire commits exactly one expiry, and only if Stop has not won first. The
// stopped check happens under the same lock Stop takes, so a Stop that lands
// before the countdown goroutine reaches the deadline check still suppresses
// the callback. onExpire runs outside the lock because it typically calls
// back into Stop.
func (w *Watchdog) fire() {
	w.mu.Lock()
	if w.fired || w.stopped {
		w.mu.Unlock()
		return
	}
	w.fired = true
	w.mu.Unlock()
	if w.onExpire != nil {
		w.onExpire()
	}
}

// Stop ends the countdown without firing. Safe to call more than once and
// after expiry.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	if !w.stopped {
		w.stopped = true
		close(w.stop)
	}
	w.mu.Unlock()
}
