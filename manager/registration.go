package manager

import (
	"time"

	"github.com/grovetools/locmux/location"
	"github.com/grovetools/locmux/support"
)

// Well-known provider names. The fused and passive providers never
// broadcast enabled-state changes; GPS is subject to the GPS-only
// power-save mode.
const (
	GPSProvider     = "gps"
	FusedProvider   = "fused"
	PassiveProvider = "passive"
)

const (
	// maxHighPowerInterval is the fastest effective interval above which a
	// registration is no longer considered high power.
	maxHighPowerInterval = 5 * time.Minute

	// maxCurrentLocationAge bounds how stale a cached location may be to
	// satisfy a one-shot request.
	maxCurrentLocationAge = 10 * time.Second

	// oneShotMaxDuration caps the lifetime of a one-shot registration.
	oneShotMaxDuration = 30 * time.Second

	// minRequestDelay is the threshold under which a recomputed provider
	// request is applied immediately instead of via a delayed alarm.
	minRequestDelay = 30 * time.Second

	// maxJitter caps the delivery-interval jitter tolerance.
	maxJitter = 5 * time.Second
)

// ClientKey uniquely identifies one registration within a manager.
type ClientKey string

type regKind int

const (
	kindContinuous regKind = iota
	kindOneShot
)

// registration is one client subscription. All mutable fields are
// guarded by the manager lock. Continuous and one-shot registrations
// share this struct and differ by kind.
type registration struct {
	key       ClientKey
	kind      regKind
	request   location.Request
	effective location.Request
	identity  location.CallerIdentity
	level     location.PermissionLevel
	transport Transport

	// cached eligibility flags, recomputed on their policy events
	permitted  bool
	foreground bool
	active     bool
	highPower  bool

	lastDelivered *location.Location
	numDelivered  int
	registerTime  time.Duration
	expiration    time.Duration

	expirationAlarm support.AlarmToken
}

// minUpdateInterval is the spacing floor applied between deliveries. An
// unset value means the request interval itself.
func (r *registration) minUpdateInterval() time.Duration {
	if r.effective.MinUpdateInterval > 0 {
		return r.effective.MinUpdateInterval
	}
	return r.effective.Interval
}

// jitterBudget is the timing slack tolerated on the min-update-interval
// check, accommodating imprecise sensor timing.
func (r *registration) jitterBudget() time.Duration {
	j := r.effective.Interval / 10
	if j > maxJitter {
		j = maxJitter
	}
	return j
}

func (r *registration) contributes() bool {
	return r.active && r.effective.Interval != location.PassiveInterval
}
