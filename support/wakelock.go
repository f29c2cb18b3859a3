package support

import (
	"sync"
	"time"

	"github.com/grovetools/locmux/clock"
	"github.com/grovetools/locmux/location"
)

// WakeLockTimeout bounds how long a delivery may hold the system awake.
const WakeLockTimeout = 30 * time.Second

// WakeLock keeps the system awake while a location delivery is in flight.
// Acquire and Release are reference counted; the timeout releases one
// reference per acquire automatically if the holder stalls.
type WakeLock interface {
	Acquire(timeout time.Duration)
	Release()
	SetWorkSource(ws location.WorkSource)
}

// NewWakeLock returns a clock-backed, reference-counted WakeLock.
func NewWakeLock(clk clock.Clock) *CountedWakeLock {
	return &CountedWakeLock{clk: clk}
}

// CountedWakeLock is the in-memory WakeLock implementation. Tests read
// its counters to assert acquire/release pairing.
type CountedWakeLock struct {
	clk clock.Clock

	mu       sync.Mutex
	held     int
	acquires int
	releases int
	ws       location.WorkSource
	timers   []clock.Timer
}

func (w *CountedWakeLock) Acquire(timeout time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.held++
	w.acquires++
	if timeout > 0 {
		w.timers = append(w.timers, w.clk.AfterFunc(timeout, w.timeoutRelease))
	}
}

func (w *CountedWakeLock) Release() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.held == 0 {
		return
	}
	w.held--
	w.releases++
	if len(w.timers) > 0 {
		w.timers[0].Stop()
		w.timers = w.timers[1:]
	}
}

func (w *CountedWakeLock) timeoutRelease() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.held == 0 {
		return
	}
	w.held--
	w.releases++
	if len(w.timers) > 0 {
		w.timers = w.timers[1:]
	}
}

func (w *CountedWakeLock) SetWorkSource(ws location.WorkSource) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ws = ws.Clone()
}

// Held reports how many references are currently outstanding.
func (w *CountedWakeLock) Held() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.held
}

// Counts returns the total acquires and releases so far.
func (w *CountedWakeLock) Counts() (acquires, releases int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.acquires, w.releases
}

// WorkSource returns the most recently assigned work source.
func (w *CountedWakeLock) WorkSource() location.WorkSource {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ws.Clone()
}
