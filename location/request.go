package location

import (
	"fmt"
	"math"
	"time"
)

// Quality expresses the accuracy/power tradeoff a client is asking for.
// Values are ordered so that a numerically smaller quality is the more
// demanding one; merging requests takes the minimum.
type Quality int

const (
	QualityHighAccuracy Quality = 100
	QualityBalanced     Quality = 102
	QualityLowPower     Quality = 104
)

func (q Quality) String() string {
	switch q {
	case QualityHighAccuracy:
		return "high-accuracy"
	case QualityBalanced:
		return "balanced"
	case QualityLowPower:
		return "low-power"
	default:
		return fmt.Sprintf("quality(%d)", int(q))
	}
}

// PassiveInterval is the sentinel interval meaning "observe only": the
// registration receives whatever the provider produces for others but never
// contributes to the merged provider request.
const PassiveInterval = time.Duration(math.MaxInt64)

// NoExpiration is the sentinel for requests that never expire.
const NoExpiration = time.Duration(math.MaxInt64)

// Request is a client's subscription request. Treat as immutable once
// handed to the multiplexer.
type Request struct {
	// Interval is the desired time between updates. PassiveInterval marks
	// passive observers.
	Interval time.Duration

	// MinUpdateInterval is the fastest the client is willing to receive
	// updates. Zero means as fast as the interval allows.
	MinUpdateInterval time.Duration

	// MinUpdateDistance suppresses updates closer than this many meters to
	// the previously delivered location. Zero disables the check.
	MinUpdateDistance float64

	Quality Quality

	// MaxUpdates terminates the registration after this many deliveries.
	// Zero means unlimited.
	MaxUpdates int

	// Duration bounds the lifetime of the registration from registration
	// time. Zero means unbounded.
	Duration time.Duration

	// ExpirationRealtime is an absolute monotonic deadline. NoExpiration or
	// zero means none.
	ExpirationRealtime time.Duration

	LowPower         bool
	SettingsIgnored  bool
	HiddenFromAppOps bool

	// DeliverHistorical opts a continuous registration into receiving a
	// cached location immediately on activation.
	DeliverHistorical bool

	WorkSource WorkSource
}

// Validate checks construction-time constraints. These are programmer
// errors, reported synchronously at registration.
func (r Request) Validate() error {
	if r.Interval < 0 {
		return fmt.Errorf("interval must be >= 0, got %v", r.Interval)
	}
	if r.MinUpdateInterval < 0 {
		return fmt.Errorf("min update interval must be >= 0, got %v", r.MinUpdateInterval)
	}
	if r.MaxUpdates < 0 {
		return fmt.Errorf("max updates must be >= 0, got %v", r.MaxUpdates)
	}
	if r.WorkSource.Empty() {
		return fmt.Errorf("work source must not be empty")
	}
	return nil
}

// ExpirationAt resolves the request's effective monotonic deadline given
// the registration time, combining the relative duration bound and the
// absolute deadline.
func (r Request) ExpirationAt(registerTime time.Duration) time.Duration {
	expiration := r.ExpirationRealtime
	if expiration == 0 {
		expiration = NoExpiration
	}

	if r.Duration > 0 {
		byDuration := saturatingAdd(registerTime, r.Duration)
		if byDuration < expiration {
			expiration = byDuration
		}
	}

	return expiration
}

// Equal reports value equality, including work source membership.
func (r Request) Equal(other Request) bool {
	return r.Interval == other.Interval &&
		r.MinUpdateInterval == other.MinUpdateInterval &&
		r.MinUpdateDistance == other.MinUpdateDistance &&
		r.Quality == other.Quality &&
		r.MaxUpdates == other.MaxUpdates &&
		r.Duration == other.Duration &&
		r.ExpirationRealtime == other.ExpirationRealtime &&
		r.LowPower == other.LowPower &&
		r.SettingsIgnored == other.SettingsIgnored &&
		r.HiddenFromAppOps == other.HiddenFromAppOps &&
		r.DeliverHistorical == other.DeliverHistorical &&
		r.WorkSource.Equal(other.WorkSource)
}

func (r Request) String() string {
	if r.Interval == PassiveInterval {
		return "Request[passive]"
	}
	return fmt.Sprintf("Request[interval=%v quality=%v]", r.Interval, r.Quality)
}

func saturatingAdd(a, b time.Duration) time.Duration {
	if a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}
