// Package settings exposes the user-facing location settings the
// multiplexer reacts to: per-user location toggles, background throttling,
// package blacklists and whitelists, and the coarse accuracy floor.
//
// Two implementations are provided: Static, an in-memory store mutated by
// the embedding application, and FileStore, which loads a YAML or TOML
// settings file and live-reloads it on change.
package settings

import "time"

// Defaults applied when a value is absent from the backing data.
const (
	DefaultBackgroundThrottleInterval = 30 * time.Minute
	DefaultCoarseAccuracyM            = 2000.0
)

// Store is the read/subscribe surface the multiplexer consumes. All
// subscription methods return a cancel function; listeners fire on the
// goroutine that mutated the store.
type Store interface {
	// IsLocationEnabled reports the user-facing location toggle for a user.
	IsLocationEnabled(userID int) bool

	// BackgroundThrottleInterval is the minimum interval forced onto
	// non-exempt background clients.
	BackgroundThrottleInterval() time.Duration

	// IsPackageBlacklisted reports whether the package is blocked from
	// location access for the given user.
	IsPackageBlacklisted(userID int, pkg string) bool

	// IsBackgroundThrottleExempt reports whether the package is on the
	// background-throttle whitelist.
	IsBackgroundThrottleExempt(pkg string) bool

	// IsIgnoreSettingsAllowed reports whether the package may use the
	// settings-bypass flag.
	IsIgnoreSettingsAllowed(pkg string) bool

	// CoarseAccuracyM is the accuracy floor in meters used when deriving
	// coarse locations.
	CoarseAccuracyM() float64

	OnLocationEnabledChanged(fn func(userID int)) (cancel func())
	OnBackgroundThrottleIntervalChanged(fn func()) (cancel func())
	OnBackgroundThrottleWhitelistChanged(fn func()) (cancel func())
	OnBlacklistChanged(fn func(userID int)) (cancel func())
	OnIgnoreSettingsWhitelistChanged(fn func()) (cancel func())
}

// Data is the serialized form of the settings, as found in a settings
// file. Map keys for per-user values are user ids.
type Data struct {
	LocationEnabled             map[int]bool     `yaml:"location_enabled" toml:"location_enabled" mapstructure:"location_enabled"`
	BackgroundThrottleInterval  time.Duration    `yaml:"background_throttle_interval" toml:"background_throttle_interval" mapstructure:"background_throttle_interval"`
	BackgroundThrottleWhitelist []string         `yaml:"background_throttle_whitelist" toml:"background_throttle_whitelist" mapstructure:"background_throttle_whitelist"`
	IgnoreSettingsWhitelist     []string         `yaml:"ignore_settings_whitelist" toml:"ignore_settings_whitelist" mapstructure:"ignore_settings_whitelist"`
	Blacklist                   map[int][]string `yaml:"blacklist" toml:"blacklist" mapstructure:"blacklist"`
	CoarseAccuracyM             float64          `yaml:"coarse_accuracy_m" toml:"coarse_accuracy_m" mapstructure:"coarse_accuracy_m"`
}
