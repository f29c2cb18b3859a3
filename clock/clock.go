// Package clock abstracts monotonic time for the multiplexer. Production
// code injects Real(); tests inject a Fake with deterministic control over
// the elapsed-realtime axis, which drives expiration alarms, delayed
// re-registration and cache freshness.
package clock

import "time"

// Clock provides wall time, monotonic elapsed time since an arbitrary boot
// reference, and one-shot timers.
type Clock interface {
	// Now returns the current wall-clock time.
	Now() time.Time

	// ElapsedRealtime returns the monotonic time since boot. All fix
	// timestamps, expirations and intervals are measured on this axis.
	ElapsedRealtime() time.Duration

	// AfterFunc schedules f to run after d elapses on the monotonic axis.
	// If d <= 0, f runs immediately on a new goroutine (real clock) or
	// synchronously on the next Advance (fake clock).
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a scheduled one-shot callback.
type Timer interface {
	// Stop cancels the pending callback. Returns false if it already fired
	// or was stopped.
	Stop() bool
}
