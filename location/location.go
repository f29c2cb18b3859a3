// Package location defines the core data model shared by the locmux
// multiplexer and its collaborators: positions, caller identities, client
// requests and merged provider requests.
package location

import (
	"math"
	"time"
)

// Location is a single position fix. Locations are mutable value objects;
// consumers that hand a location to another component in the same process
// must Clone first so later mutation cannot corrupt caches or other
// consumers.
type Location struct {
	// Provider is the name of the provider that produced this fix.
	Provider string

	Latitude  float64
	Longitude float64

	// Accuracy is the estimated horizontal accuracy radius in meters.
	Accuracy    float64
	HasAccuracy bool

	// Time is the wall-clock time of the fix.
	Time time.Time

	// ElapsedRealtime is the monotonic time of the fix, measured as the
	// duration since boot. It is the only timestamp used for ordering and
	// age computations.
	ElapsedRealtime time.Duration

	// FromMock marks fixes produced by a mock provider.
	FromMock bool
}

// Clone returns a deep copy of the location.
func (l *Location) Clone() *Location {
	if l == nil {
		return nil
	}
	c := *l
	return &c
}

// Complete reports whether the fix carries everything a delivered location
// must have: a provider name, an accuracy estimate, and both timestamps.
func (l *Location) Complete() bool {
	return l.Provider != "" && l.HasAccuracy && l.ElapsedRealtime > 0 && !l.Time.IsZero()
}

// ElapsedAge returns how old the fix is relative to the given monotonic
// now.
func (l *Location) ElapsedAge(now time.Duration) time.Duration {
	return now - l.ElapsedRealtime
}

const earthRadiusM = 6371008.8

// DistanceTo returns the great-circle distance to other in meters.
func (l *Location) DistanceTo(other *Location) float64 {
	lat1 := l.Latitude * math.Pi / 180
	lat2 := other.Latitude * math.Pi / 180
	dLat := (other.Latitude - l.Latitude) * math.Pi / 180
	dLon := (other.Longitude - l.Longitude) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusM * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
