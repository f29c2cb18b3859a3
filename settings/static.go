package settings

import (
	"sync"
	"time"
)

// NewStatic returns an empty in-memory store: location disabled for every
// user until enabled, defaults for the scalar values.
func NewStatic() *Static {
	return &Static{
		data: Data{
			LocationEnabled: map[int]bool{},
			Blacklist:       map[int][]string{},
		},
	}
}

// Static is an in-memory Store driven by the embedding application. All
// methods are safe for concurrent use; mutators fire the corresponding
// listeners synchronously after releasing the lock.
type Static struct {
	mu   sync.Mutex
	data Data

	nextID                     int
	enabledListeners           map[int]func(int)
	throttleIntervalListeners  map[int]func()
	throttleWhitelistListeners map[int]func()
	blacklistListeners         map[int]func(int)
	ignoreWhitelistListeners   map[int]func()
}

func (s *Static) IsLocationEnabled(userID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.LocationEnabled[userID]
}

func (s *Static) BackgroundThrottleInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data.BackgroundThrottleInterval <= 0 {
		return DefaultBackgroundThrottleInterval
	}
	return s.data.BackgroundThrottleInterval
}

func (s *Static) IsPackageBlacklisted(userID int, pkg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.data.Blacklist[userID] {
		if p == pkg {
			return true
		}
	}
	return false
}

func (s *Static) IsBackgroundThrottleExempt(pkg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return contains(s.data.BackgroundThrottleWhitelist, pkg)
}

func (s *Static) IsIgnoreSettingsAllowed(pkg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return contains(s.data.IgnoreSettingsWhitelist, pkg)
}

func (s *Static) CoarseAccuracyM() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data.CoarseAccuracyM <= 0 {
		return DefaultCoarseAccuracyM
	}
	return s.data.CoarseAccuracyM
}

// SetLocationEnabled flips the per-user location toggle.
func (s *Static) SetLocationEnabled(userID int, enabled bool) {
	s.mu.Lock()
	if s.data.LocationEnabled[userID] == enabled {
		s.mu.Unlock()
		return
	}
	s.data.LocationEnabled[userID] = enabled
	fns := collectUser(s.enabledListeners)
	s.mu.Unlock()

	for _, fn := range fns {
		fn(userID)
	}
}

// SetBackgroundThrottleInterval updates the background throttle interval.
func (s *Static) SetBackgroundThrottleInterval(d time.Duration) {
	s.mu.Lock()
	if s.data.BackgroundThrottleInterval == d {
		s.mu.Unlock()
		return
	}
	s.data.BackgroundThrottleInterval = d
	fns := collect(s.throttleIntervalListeners)
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// SetBackgroundThrottleWhitelist replaces the throttle-exempt package list.
func (s *Static) SetBackgroundThrottleWhitelist(pkgs []string) {
	s.mu.Lock()
	s.data.BackgroundThrottleWhitelist = append([]string(nil), pkgs...)
	fns := collect(s.throttleWhitelistListeners)
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// SetIgnoreSettingsWhitelist replaces the settings-bypass package list.
func (s *Static) SetIgnoreSettingsWhitelist(pkgs []string) {
	s.mu.Lock()
	s.data.IgnoreSettingsWhitelist = append([]string(nil), pkgs...)
	fns := collect(s.ignoreWhitelistListeners)
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// SetBlacklist replaces the blocked package list for a user.
func (s *Static) SetBlacklist(userID int, pkgs []string) {
	s.mu.Lock()
	s.data.Blacklist[userID] = append([]string(nil), pkgs...)
	fns := collectUser(s.blacklistListeners)
	s.mu.Unlock()

	for _, fn := range fns {
		fn(userID)
	}
}

// SetCoarseAccuracyM updates the coarse accuracy floor. No listener fires;
// the fudger reads it lazily.
func (s *Static) SetCoarseAccuracyM(m float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.CoarseAccuracyM = m
}

func (s *Static) OnLocationEnabledChanged(fn func(int)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enabledListeners == nil {
		s.enabledListeners = map[int]func(int){}
	}
	id := s.nextID
	s.nextID++
	s.enabledListeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.enabledListeners, id)
	}
}

func (s *Static) OnBackgroundThrottleIntervalChanged(fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.throttleIntervalListeners == nil {
		s.throttleIntervalListeners = map[int]func(){}
	}
	id := s.nextID
	s.nextID++
	s.throttleIntervalListeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.throttleIntervalListeners, id)
	}
}

func (s *Static) OnBackgroundThrottleWhitelistChanged(fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.throttleWhitelistListeners == nil {
		s.throttleWhitelistListeners = map[int]func(){}
	}
	id := s.nextID
	s.nextID++
	s.throttleWhitelistListeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.throttleWhitelistListeners, id)
	}
}

func (s *Static) OnBlacklistChanged(fn func(int)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blacklistListeners == nil {
		s.blacklistListeners = map[int]func(int){}
	}
	id := s.nextID
	s.nextID++
	s.blacklistListeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.blacklistListeners, id)
	}
}

func (s *Static) OnIgnoreSettingsWhitelistChanged(fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ignoreWhitelistListeners == nil {
		s.ignoreWhitelistListeners = map[int]func(){}
	}
	id := s.nextID
	s.nextID++
	s.ignoreWhitelistListeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.ignoreWhitelistListeners, id)
	}
}

// Apply replaces the whole data set at once, firing listeners for the
// sections that changed. Used by FileStore on reload.
func (s *Static) Apply(data Data) {
	s.mu.Lock()

	old := s.data
	if data.LocationEnabled == nil {
		data.LocationEnabled = map[int]bool{}
	}
	if data.Blacklist == nil {
		data.Blacklist = map[int][]string{}
	}
	s.data = data

	var fire []func()

	for _, userID := range changedUserKeys(old.LocationEnabled, data.LocationEnabled) {
		userID := userID
		for _, fn := range collectUser(s.enabledListeners) {
			fn := fn
			fire = append(fire, func() { fn(userID) })
		}
	}
	if old.BackgroundThrottleInterval != data.BackgroundThrottleInterval {
		for _, fn := range collect(s.throttleIntervalListeners) {
			fire = append(fire, fn)
		}
	}
	if !equalStrings(old.BackgroundThrottleWhitelist, data.BackgroundThrottleWhitelist) {
		for _, fn := range collect(s.throttleWhitelistListeners) {
			fire = append(fire, fn)
		}
	}
	if !equalStrings(old.IgnoreSettingsWhitelist, data.IgnoreSettingsWhitelist) {
		for _, fn := range collect(s.ignoreWhitelistListeners) {
			fire = append(fire, fn)
		}
	}
	for _, userID := range changedBlacklistKeys(old.Blacklist, data.Blacklist) {
		userID := userID
		for _, fn := range collectUser(s.blacklistListeners) {
			fn := fn
			fire = append(fire, func() { fn(userID) })
		}
	}

	s.mu.Unlock()

	for _, fn := range fire {
		fn()
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func changedUserKeys(old, new map[int]bool) []int {
	var out []int
	for k, v := range new {
		if ov, ok := old[k]; !ok || ov != v {
			out = append(out, k)
		}
	}
	for k := range old {
		if _, ok := new[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}

func changedBlacklistKeys(old, new map[int][]string) []int {
	var out []int
	for k, v := range new {
		if ov, ok := old[k]; !ok || !equalStrings(ov, v) {
			out = append(out, k)
		}
	}
	for k := range old {
		if _, ok := new[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}

func collect(m map[int]func()) []func() {
	out := make([]func(), 0, len(m))
	for _, fn := range m {
		out = append(out, fn)
	}
	return out
}

func collectUser(m map[int]func(int)) []func(int) {
	out := make([]func(int), 0, len(m))
	for _, fn := range m {
		out = append(out, fn)
	}
	return out
}
