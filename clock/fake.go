package clock

import (
	"sort"
	"sync"
	"time"
)

// NewFake returns a Fake clock starting at the given wall time with one
// hour already on the elapsed-realtime axis, so that freshly created fixes
// have positive timestamps and age math cannot underflow.
func NewFake(wall time.Time) *Fake {
	return &Fake{wall: wall, elapsed: time.Hour}
}

// Fake is a deterministic Clock. Time stands still until Advance is
// called; due AfterFunc callbacks fire synchronously during Advance in
// deadline order. Safe for concurrent use.
type Fake struct {
	mu      sync.Mutex
	wall    time.Time
	elapsed time.Duration
	timers  []*fakeTimer
}

type fakeTimer struct {
	mu       *sync.Mutex
	deadline time.Duration
	f        func()
	stopped  bool
	fired    bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (c *Fake) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wall
}

func (c *Fake) ElapsedRealtime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elapsed
}

func (c *Fake) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{mu: &c.mu, deadline: c.elapsed + d, f: f}
	if d <= 0 {
		t.deadline = c.elapsed
	}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves both time axes forward by d, firing due timers in deadline
// order. Callbacks run without the clock's internal lock held, so they may
// schedule further timers; timers scheduled for a deadline within the
// advanced window also fire before Advance returns.
func (c *Fake) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.elapsed + d
	c.wall = c.wall.Add(d)
	c.mu.Unlock()

	for {
		t := c.takeNextDue(target)
		if t == nil {
			break
		}
		t.f()
	}

	c.mu.Lock()
	c.elapsed = target
	c.mu.Unlock()
}

// takeNextDue pops the earliest unfired timer with deadline <= target,
// setting the clock to that deadline so callbacks observe a consistent
// elapsed time.
func (c *Fake) takeNextDue(target time.Duration) *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	sort.SliceStable(c.timers, func(i, j int) bool {
		return c.timers[i].deadline < c.timers[j].deadline
	})

	for _, t := range c.timers {
		if t.stopped || t.fired {
			continue
		}
		if t.deadline > target {
			break
		}
		t.fired = true
		if t.deadline > c.elapsed {
			c.elapsed = t.deadline
		}
		return t
	}

	// drop exhausted timers
	live := c.timers[:0]
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			live = append(live, t)
		}
	}
	c.timers = live
	return nil
}
