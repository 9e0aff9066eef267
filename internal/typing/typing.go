// Package typing tracks typing presence: debounced start/stop signaling
// for the local user and decaying indicator state for the counterpart.
package typing

import (
	"sync"
	"time"
)

const (
	// DefaultQuiet is how long after the last keystroke the local
	// typing-stop signal fires.
	DefaultQuiet = 2 * time.Second

	// DefaultDecay clears a remote typing indicator that was never
	// followed by an explicit stop.
	DefaultDecay = 5 * time.Second

	// AnonymousName labels a typing counterpart with no display name.
	AnonymousName = "Someone"
)

// Local debounces the local user's typing signals. Start fires at most
// once per burst of keystrokes; stop fires after a quiet period,
// tracked by a single timer that each keystroke reschedules.
type Local struct {
	quiet   time.Duration
	onStart func()
	onStop  func()

	mu     sync.Mutex
	active bool
	timer  *time.Timer
}

// NewLocal creates a local typing debouncer. A non-positive quiet
// period falls back to DefaultQuiet.
func NewLocal(quiet time.Duration, onStart, onStop func()) *Local {
	if quiet <= 0 {
		quiet = DefaultQuiet
	}
	return &Local{quiet: quiet, onStart: onStart, onStop: onStop}
}

// Ping records a keystroke. The first keystroke of a burst emits the
// start signal; every keystroke pushes the stop timer out.
func (l *Local) Ping() {
	l.mu.Lock()
	wasActive := l.active
	l.active = true
	if l.timer != nil {
		l.timer.Stop()
	}
	l.timer = time.AfterFunc(l.quiet, l.expire)
	l.mu.Unlock()

	if !wasActive && l.onStart != nil {
		l.onStart()
	}
}

// Flush ends the burst immediately, emitting the stop signal if one is
// owed. Called when a message is sent.
func (l *Local) Flush() {
	l.mu.Lock()
	wasActive := l.active
	l.active = false
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.mu.Unlock()

	if wasActive && l.onStop != nil {
		l.onStop()
	}
}

// Cancel drops any scheduled signal without emitting it. Called on
// session teardown so the timer cannot fire into a disposed session.
func (l *Local) Cancel() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.active = false
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

func (l *Local) expire() {
	l.mu.Lock()
	if !l.active {
		l.mu.Unlock()
		return
	}
	l.active = false
	l.timer = nil
	l.mu.Unlock()

	if l.onStop != nil {
		l.onStop()
	}
}

// Remote holds the counterpart's typing indicator. Start is re-entrant:
// a repeated typing signal refreshes the decay timer instead of
// toggling the state.
type Remote struct {
	decay    time.Duration
	onChange func()

	mu    sync.Mutex
	name  string
	timer *time.Timer
}

// NewRemote creates a remote typing tracker. onChange fires whenever
// the indicator appears, changes name, or clears.
func NewRemote(decay time.Duration, onChange func()) *Remote {
	if decay <= 0 {
		decay = DefaultDecay
	}
	return &Remote{decay: decay, onChange: onChange}
}

// Start shows the indicator for name and refreshes the decay timer.
func (r *Remote) Start(name string) {
	if name == "" {
		name = AnonymousName
	}
	r.mu.Lock()
	changed := r.name != name
	r.name = name
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(r.decay, func() { r.clear(true) })
	r.mu.Unlock()

	if changed && r.onChange != nil {
		r.onChange()
	}
}

// Stop clears the indicator on an explicit stop signal.
func (r *Remote) Stop() {
	r.clear(true)
}

// Cancel clears the indicator without notifying; used on teardown.
func (r *Remote) Cancel() {
	r.clear(false)
}

// Name returns the currently typing counterpart's display name, or ""
// when nobody is typing.
func (r *Remote) Name() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.name
}

func (r *Remote) clear(notify bool) {
	r.mu.Lock()
	changed := r.name != ""
	r.name = ""
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.mu.Unlock()

	if notify && changed && r.onChange != nil {
		r.onChange()
	}
}
