package support

import "sync"

// PowerSaveMode is the location behavior imposed while battery saver is
// active.
type PowerSaveMode int

const (
	// PowerSaveNone applies no restriction.
	PowerSaveNone PowerSaveMode = iota
	// PowerSaveForegroundOnly drops location for backgrounded uids.
	PowerSaveForegroundOnly
	// PowerSaveGPSDisabledScreenOff disables only GPS-class providers
	// while the screen is off.
	PowerSaveGPSDisabledScreenOff
	// PowerSaveThrottleScreenOff throttles all providers while the screen
	// is off.
	PowerSaveThrottleScreenOff
	// PowerSaveAllDisabledScreenOff disables all providers while the
	// screen is off.
	PowerSaveAllDisabledScreenOff
)

func (m PowerSaveMode) String() string {
	switch m {
	case PowerSaveNone:
		return "none"
	case PowerSaveForegroundOnly:
		return "foreground_only"
	case PowerSaveGPSDisabledScreenOff:
		return "gps_disabled_screen_off"
	case PowerSaveThrottleScreenOff:
		return "throttle_screen_off"
	case PowerSaveAllDisabledScreenOff:
		return "all_disabled_screen_off"
	default:
		return "unknown"
	}
}

// PowerSave exposes the active battery-saver location mode.
type PowerSave interface {
	LocationPowerSaveMode() PowerSaveMode
	OnPowerSaveModeChanged(fn func(PowerSaveMode)) (cancel func())
}

// NewPowerSave returns an in-memory PowerSave starting unrestricted.
func NewPowerSave() *StaticPowerSave {
	return &StaticPowerSave{}
}

// StaticPowerSave is the in-memory PowerSave implementation.
type StaticPowerSave struct {
	mu        sync.Mutex
	mode      PowerSaveMode
	listeners listenerSet[func(PowerSaveMode)]
}

func (p *StaticPowerSave) LocationPowerSaveMode() PowerSaveMode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

func (p *StaticPowerSave) OnPowerSaveModeChanged(fn func(PowerSaveMode)) func() {
	return p.listeners.add(fn)
}

// SetMode changes the battery-saver location mode.
func (p *StaticPowerSave) SetMode(mode PowerSaveMode) {
	p.mu.Lock()
	if p.mode == mode {
		p.mu.Unlock()
		return
	}
	p.mode = mode
	p.mu.Unlock()

	for _, fn := range p.listeners.snapshot() {
		fn(mode)
	}
}
