// Package logging provides the monitor's diagnostic verbosity window: a
// throttle on log noise, not on alerting. Subsystems log steady-state
// diagnostics through Debugf; those lines only reach the journal while a
// window is open.
package logging

import (
	"log"
	"sync"
	"time"
)

type Level int

const (
	Default Level = iota
	Debug
)

// Window raises verbosity to Debug for a bounded duration and then falls
// back to Default on its own. Opening a window while one is already open
// just extends the expiry.
type Window struct {
	mu      sync.Mutex
	level   Level
	resetAt time.Time
	clock   func() time.Time
}

func NewWindow() *Window {
	return &Window{level: Default, clock: time.Now}
}

// NewWindowWithClock is for tests that need a controllable clock.
func NewWindowWithClock(clock func() time.Time) *Window {
	return &Window{level: Default, clock: clock}
}

// Open raises verbosity until now+d. Idempotent: a second Open extends the
// expiry of the already-open window.
func (w *Window) Open(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.level = Debug
	w.resetAt = w.clock().Add(d)
}

// Tick restores the default level once the expiry has passed. It is called
// periodically by the maintenance cron and lazily by Level and Debugf, so a
// stalled cron cannot leave verbosity stuck high.
func (w *Window) Tick(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tickLocked(now)
}

func (w *Window) tickLocked(now time.Time) {
	if !w.resetAt.IsZero() && now.After(w.resetAt) {
		w.level = Default
		w.resetAt = time.Time{}
	}
}

// Level reports the effective level, applying any pending expiry first.
func (w *Window) Level() Level {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tickLocked(w.clock())
	return w.level
}

// Debugf logs only while a window is open.
func (w *Window) Debugf(format string, args ...interface{}) {
	if w.Level() == Debug {
		log.Printf(format, args...)
	}
}
