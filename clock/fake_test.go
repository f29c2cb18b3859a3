package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeAdvance(t *testing.T) {
	clk := NewFake(time.Unix(1700000000, 0))
	start := clk.ElapsedRealtime()
	require.Greater(t, start, time.Duration(0))

	clk.Advance(90 * time.Second)
	assert.Equal(t, start+90*time.Second, clk.ElapsedRealtime())
	assert.Equal(t, time.Unix(1700000090, 0), clk.Now())
}

func TestFakeAfterFunc(t *testing.T) {
	clk := NewFake(time.Unix(1700000000, 0))

	t.Run("fires in deadline order", func(t *testing.T) {
		var got []int
		clk.AfterFunc(2*time.Second, func() { got = append(got, 2) })
		clk.AfterFunc(time.Second, func() { got = append(got, 1) })
		clk.AfterFunc(3*time.Second, func() { got = append(got, 3) })

		clk.Advance(2 * time.Second)
		assert.Equal(t, []int{1, 2}, got)

		clk.Advance(time.Second)
		assert.Equal(t, []int{1, 2, 3}, got)
	})

	t.Run("stopped timers never fire", func(t *testing.T) {
		fired := false
		timer := clk.AfterFunc(time.Second, func() { fired = true })
		assert.True(t, timer.Stop())
		clk.Advance(time.Minute)
		assert.False(t, fired)
		assert.False(t, timer.Stop())
	})

	t.Run("callbacks can reschedule within the window", func(t *testing.T) {
		count := 0
		var tick func()
		tick = func() {
			count++
			if count < 3 {
				clk.AfterFunc(time.Second, tick)
			}
		}
		clk.AfterFunc(time.Second, tick)

		clk.Advance(3 * time.Second)
		assert.Equal(t, 3, count)
	})

	t.Run("callback observes its own deadline", func(t *testing.T) {
		var seen time.Duration
		base := clk.ElapsedRealtime()
		clk.AfterFunc(5*time.Second, func() { seen = clk.ElapsedRealtime() })
		clk.Advance(time.Minute)
		assert.Equal(t, base+5*time.Second, seen)
	})
}
