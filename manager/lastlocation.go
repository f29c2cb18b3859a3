package manager

import (
	"time"

	"github.com/grovetools/locmux/location"
)

// MinCoarseInterval is both the interval floor forced onto coarse clients
// and the spacing of the coarse last-location time grid. Coarse consumers
// polling the cache cannot observe movement finer than this.
const MinCoarseInterval = 10 * time.Minute

// lastLocationCache holds the four last-known-location slots for one
// user: fine/coarse crossed with normal/settings-bypass. Guarded by the
// manager lock.
type lastLocationCache struct {
	fineNormal   *location.Location
	coarseNormal *location.Location
	fineBypass   *location.Location
	coarseBypass *location.Location
}

// set updates the normal slots. The fine slot takes any strictly newer
// fix; the coarse slot only advances in MinCoarseInterval steps.
func (c *lastLocationCache) set(fine, coarse *location.Location) {
	c.fineNormal = pickFine(c.fineNormal, fine)
	c.coarseNormal = pickCoarse(c.coarseNormal, coarse)
}

// setBypass updates the settings-bypass slots with the same rules.
func (c *lastLocationCache) setBypass(fine, coarse *location.Location) {
	c.fineBypass = pickFine(c.fineBypass, fine)
	c.coarseBypass = pickCoarse(c.coarseBypass, coarse)
}

// get returns the slot for the given permission level, or nil.
func (c *lastLocationCache) get(level location.PermissionLevel, bypass bool) *location.Location {
	if bypass {
		if level == location.PermissionFine {
			return c.fineBypass
		}
		return c.coarseBypass
	}
	if level == location.PermissionFine {
		return c.fineNormal
	}
	return c.coarseNormal
}

// clearNormal drops the normal slots; bypass slots persist across
// provider-disabled transitions.
func (c *lastLocationCache) clearNormal() {
	c.fineNormal = nil
	c.coarseNormal = nil
}

// clearMock drops any slot currently holding a mock-sourced fix.
func (c *lastLocationCache) clearMock() {
	if c.fineNormal != nil && c.fineNormal.FromMock {
		c.fineNormal = nil
	}
	if c.coarseNormal != nil && c.coarseNormal.FromMock {
		c.coarseNormal = nil
	}
	if c.fineBypass != nil && c.fineBypass.FromMock {
		c.fineBypass = nil
	}
	if c.coarseBypass != nil && c.coarseBypass.FromMock {
		c.coarseBypass = nil
	}
}

func pickFine(stored, candidate *location.Location) *location.Location {
	if candidate == nil {
		return stored
	}
	if stored == nil || candidate.ElapsedRealtime > stored.ElapsedRealtime {
		return candidate
	}
	return stored
}

func pickCoarse(stored, candidate *location.Location) *location.Location {
	if candidate == nil {
		return stored
	}
	if stored == nil || candidate.ElapsedRealtime-stored.ElapsedRealtime > MinCoarseInterval {
		return candidate
	}
	return stored
}
