// Package iwdg models an independent watchdog timer: a deadline that must be
// refreshed periodically or an expiry callback fires. The real target's
// watchdog is a hardware peripheral (STM32 IWDG, ~1s reload per
// MX_IWDG_Init); this is a software stand-in used by the simulator and by
// tests that need to assert a busy-wait loop kept kicking it.
package iwdg

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Interval mirrors IWDG_INTERVAL_MS: the watchdog must be kicked at least
// this often or it is considered expired.
const Interval = time.Second

// Watchdog is a software independent watchdog. The zero value is not usable;
// construct with New.
type Watchdog struct {
	mu       sync.Mutex
	timer    *time.Timer
	interval time.Duration
	onFire   func()
	stopped  bool
}

// New starts a watchdog with the given interval that calls onFire if it is
// not kicked in time. onFire runs on its own goroutine, matching the
// hardware's own asynchronous reset behavior.
func New(interval time.Duration, onFire func()) *Watchdog {
	w := &Watchdog{interval: interval, onFire: onFire}
	w.timer = time.AfterFunc(interval, w.fire)
	return w
}

func (w *Watchdog) fire() {
	w.mu.Lock()
	stopped := w.stopped
	w.mu.Unlock()
	if stopped {
		return
	}
	log.Error("iwdg: watchdog expired without being kicked")
	if w.onFire != nil {
		w.onFire()
	}
}

// Kick refreshes the deadline, the software analogue of HAL_IWDG_Refresh.
func (w *Watchdog) Kick() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.timer.Reset(w.interval)
}

// Stop disarms the watchdog permanently.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	w.timer.Stop()
}
