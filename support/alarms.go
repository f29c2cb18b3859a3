package support

import (
	"time"

	"github.com/grovetools/locmux/clock"
	"github.com/grovetools/locmux/location"
)

// AlarmToken identifies a scheduled alarm for cancellation.
type AlarmToken interface {
	// Cancel stops the alarm. Returns false if it already fired or was
	// cancelled.
	Cancel() bool
}

// Alarms schedules one-shot callbacks on the monotonic time axis, with a
// work source for power attribution.
type Alarms interface {
	Schedule(delay time.Duration, ws location.WorkSource, fire func()) AlarmToken
}

// NewAlarms returns an Alarms implementation backed by the given clock.
// With a fake clock, alarms fire deterministically on Advance.
func NewAlarms(clk clock.Clock) Alarms {
	return &clockAlarms{clk: clk}
}

type clockAlarms struct {
	clk clock.Clock
}

func (a *clockAlarms) Schedule(delay time.Duration, ws location.WorkSource, fire func()) AlarmToken {
	return alarmToken{a.clk.AfterFunc(delay, fire)}
}

type alarmToken struct{ t clock.Timer }

func (t alarmToken) Cancel() bool { return t.t.Stop() }
