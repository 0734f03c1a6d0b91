// Package watchdog implements a re-armable one-shot timer guarded by a
// generation token, so a timeout that races with a re-arm or disarm is
// recognized as stale and dropped.
package watchdog

import (
	"sync"
	"time"
)

// Watchdog fires once when it has not been re-armed for the configured window.
type Watchdog struct {
	mu     sync.Mutex
	window time.Duration
	timer  *time.Timer
	gen    uint64
	armed  bool
	fire   func(token uint64)
}

// New creates a disarmed watchdog. fire runs on the timer goroutine with
// the generation that was current when the timer was armed.
func New(window time.Duration, fire func(token uint64)) *Watchdog {
	return &Watchdog{window: window, fire: fire}
}

// Arm cancels any pending timeout and starts a new window. It returns
// the generation the pending timeout will carry.
func (w *Watchdog) Arm() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stopLocked()
	w.gen++
	token := w.gen
	w.armed = true
	w.timer = time.AfterFunc(w.window, func() { w.expire(token) })
	return token
}

// Disarm cancels the pending timeout. A timeout already in flight is
// invalidated by the generation bump.
func (w *Watchdog) Disarm() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stopLocked()
	w.gen++
	w.armed = false
}

// Generation returns the current generation.
func (w *Watchdog) Generation() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.gen
}

// Window returns the configured timeout.
func (w *Watchdog) Window() time.Duration {
	return w.window
}

func (w *Watchdog) expire(token uint64) {
	w.mu.Lock()
	if token != w.gen || !w.armed {
		w.mu.Unlock()
		return
	}
	w.armed = false
	w.timer = nil
	w.mu.Unlock()

	if w.fire != nil {
		w.fire(token)
	}
}

func (w *Watchdog) stopLocked() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}
