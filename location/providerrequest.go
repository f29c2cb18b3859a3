package location

import (
	"fmt"
	"math"
	"time"
)

// IntervalDisabled is the sentinel interval of a merged request that asks
// the provider to stop producing locations.
const IntervalDisabled = time.Duration(math.MaxInt64)

// ProviderRequest is the merged request pushed down to the provider driver.
// Value-equal via Equal.
type ProviderRequest struct {
	Interval        time.Duration
	Quality         Quality
	LowPower        bool
	SettingsIgnored bool
	WorkSource      WorkSource
}

// EmptyProviderRequest returns the disabled sentinel request.
func EmptyProviderRequest() ProviderRequest {
	return ProviderRequest{Interval: IntervalDisabled, Quality: QualityLowPower}
}

// Active reports whether the request asks the provider to produce anything.
func (p ProviderRequest) Active() bool {
	return p.Interval != IntervalDisabled
}

// Equal reports value equality, including work source membership.
func (p ProviderRequest) Equal(other ProviderRequest) bool {
	return p.Interval == other.Interval &&
		p.Quality == other.Quality &&
		p.LowPower == other.LowPower &&
		p.SettingsIgnored == other.SettingsIgnored &&
		p.WorkSource.Equal(other.WorkSource)
}

func (p ProviderRequest) String() string {
	if !p.Active() {
		return "ProviderRequest[off]"
	}
	s := fmt.Sprintf("ProviderRequest[interval=%v quality=%v", p.Interval, p.Quality)
	if p.LowPower {
		s += " lowPower"
	}
	if p.SettingsIgnored {
		s += " settingsIgnored"
	}
	return s + "]"
}
