package clock

import (
	"sync"
	"time"
)

// Real returns a Clock backed by the time package. The elapsed-realtime
// reference point is the moment Real is first called in the process.
func Real() Clock {
	realOnce.Do(func() {
		realStart = time.Now()
	})
	return realClock{}
}

var (
	realOnce  sync.Once
	realStart time.Time
)

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) ElapsedRealtime() time.Duration {
	return time.Since(realStart)
}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return realTimer{time.AfterFunc(d, f)}
}

type realTimer struct{ t *time.Timer }

func (r realTimer) Stop() bool { return r.t.Stop() }
