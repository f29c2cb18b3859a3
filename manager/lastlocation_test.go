package manager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/grovetools/locmux/location"
)

func cachedFix(elapsed time.Duration, mock bool) *location.Location {
	return &location.Location{
		Provider:        "gps",
		Latitude:        1,
		Longitude:       1,
		Accuracy:        10,
		HasAccuracy:     true,
		Time:            time.Unix(1700000000, 0),
		ElapsedRealtime: elapsed,
		FromMock:        mock,
	}
}

func TestLastLocationCacheSlots(t *testing.T) {
	c := &lastLocationCache{}

	t.Run("fine takes strictly newer", func(t *testing.T) {
		a := cachedFix(time.Hour, false)
		b := cachedFix(time.Hour, false)
		c.set(a, a)
		c.set(b, b) // equal timestamp, not strictly newer
		assert.Same(t, a, c.get(location.PermissionFine, false))

		newer := cachedFix(time.Hour+time.Second, false)
		c.set(newer, newer)
		assert.Same(t, newer, c.get(location.PermissionFine, false))
	})

	t.Run("coarse advances in ten minute steps", func(t *testing.T) {
		c := &lastLocationCache{}
		first := cachedFix(time.Hour, false)
		c.set(first, first)

		near := cachedFix(time.Hour+9*time.Minute, false)
		c.set(near, near)
		assert.Same(t, first, c.get(location.PermissionCoarse, false))

		// exactly one step away is still inside the grid cell
		boundary := cachedFix(time.Hour+10*time.Minute, false)
		c.set(boundary, boundary)
		assert.Same(t, first, c.get(location.PermissionCoarse, false))

		far := cachedFix(time.Hour+10*time.Minute+time.Nanosecond, false)
		c.set(far, far)
		assert.Same(t, far, c.get(location.PermissionCoarse, false))
	})

	t.Run("clearNormal keeps bypass", func(t *testing.T) {
		c := &lastLocationCache{}
		loc := cachedFix(time.Hour, false)
		c.set(loc, loc)
		c.setBypass(loc, loc)

		c.clearNormal()
		assert.Nil(t, c.get(location.PermissionFine, false))
		assert.Nil(t, c.get(location.PermissionCoarse, false))
		assert.Same(t, loc, c.get(location.PermissionFine, true))
	})

	t.Run("clearMock drops only mock slots", func(t *testing.T) {
		c := &lastLocationCache{}
		real := cachedFix(time.Hour, false)
		c.set(real, real)
		mock := cachedFix(2*time.Hour, true)
		c.setBypass(mock, mock)

		c.clearMock()
		assert.Same(t, real, c.get(location.PermissionFine, false))
		assert.Nil(t, c.get(location.PermissionFine, true))
	})
}
