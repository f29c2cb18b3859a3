// Package manager implements the per-provider location-request
// multiplexer: it accepts many concurrent subscriptions against one
// named provider, merges them into a single effective provider request,
// fans incoming fixes back out to the eligible subscribers, and reacts
// to user, permission, settings, power and screen changes.
package manager

import (
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/grovetools/locmux/clock"
	"github.com/grovetools/locmux/errors"
	"github.com/grovetools/locmux/eventlog"
	"github.com/grovetools/locmux/fudger"
	"github.com/grovetools/locmux/location"
	"github.com/grovetools/locmux/logging"
	"github.com/grovetools/locmux/settings"
	"github.com/grovetools/locmux/support"
)

// Config wires a Manager to its collaborators. Name, Settings and the
// provider passed to New are required; every other field has a usable
// default.
type Config struct {
	// Name is the provider name ("gps", "fused", ...).
	Name string

	Clock       clock.Clock
	Settings    settings.Store
	Users       support.UserInfo
	Alarms      support.Alarms
	AppOps      support.AppOps
	Permissions support.Permissions
	Foreground  support.AppForeground
	PowerSave   support.PowerSave
	Screen      support.Screen
	Attribution support.Attribution
	Broadcaster support.Broadcaster
	WakeLock    support.WakeLock
	Fudger      *fudger.Fudger
	Events      *eventlog.Log

	// Executor dispatches delivery closures. Defaults to a SerialExecutor
	// owned (and closed) by the manager.
	Executor Executor

	// PassiveHook receives every accepted raw fix, for a passive-provider
	// fan-out.
	PassiveHook func(loc *location.Location)

	// BatchHook receives batched fixes verbatim. Only invoked when the
	// manager is the GPS provider.
	BatchHook func(batch []*location.Location)

	// OwnPID is the pid of this process; deliveries to callers with the
	// same pid get a deep copy. Defaults to os.Getpid().
	OwnPID int
}

// Manager is a per-provider location-request multiplexer.
type Manager struct {
	name   string
	logger *logrus.Entry

	clk         clock.Clock
	settings    settings.Store
	users       support.UserInfo
	alarms      support.Alarms
	appops      support.AppOps
	permissions support.Permissions
	foreground  support.AppForeground
	powerSave   support.PowerSave
	screen      support.Screen
	attribution support.Attribution
	broadcaster support.Broadcaster
	wakeLock    support.WakeLock
	fudger      *fudger.Fudger
	events      *eventlog.Log
	executor    Executor
	passiveHook func(*location.Location)
	batchHook   func([]*location.Location)
	ownPID      int

	ownsExecutor bool
	provider     Provider

	mu            sync.Mutex
	started       bool
	mock          *MockProvider
	enabled       map[int]bool
	lastLocations map[int]*lastLocationCache
	regs          map[ClientKey]*registration
	order         []ClientKey
	merged        location.ProviderRequest
	delayedGen    uint64
	delayedAlarm  support.AlarmToken
	cancels       []func()
	ops           []func()

	listenerMu       sync.Mutex
	enabledListeners map[int]func(userID int, enabled bool)
	nextListener     int
}

// New builds a Manager for the given provider driver. The manager is not
// active until StartManager.
func New(cfg Config, provider Provider) *Manager {
	if cfg.Name == "" || cfg.Settings == nil || provider == nil {
		panic("manager: name, settings and provider are required")
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}

	m := &Manager{
		name:   cfg.Name,
		logger: logging.NewLogger("manager").WithField("provider", cfg.Name),

		clk:         clk,
		settings:    cfg.Settings,
		users:       cfg.Users,
		alarms:      cfg.Alarms,
		appops:      cfg.AppOps,
		permissions: cfg.Permissions,
		foreground:  cfg.Foreground,
		powerSave:   cfg.PowerSave,
		screen:      cfg.Screen,
		attribution: cfg.Attribution,
		broadcaster: cfg.Broadcaster,
		wakeLock:    cfg.WakeLock,
		fudger:      cfg.Fudger,
		events:      cfg.Events,
		executor:    cfg.Executor,
		passiveHook: cfg.PassiveHook,
		batchHook:   cfg.BatchHook,
		ownPID:      cfg.OwnPID,

		provider:      provider,
		enabled:       map[int]bool{},
		lastLocations: map[int]*lastLocationCache{},
		regs:          map[ClientKey]*registration{},
		merged:        location.EmptyProviderRequest(),

		enabledListeners: map[int]func(int, bool){},
	}

	if m.users == nil {
		m.users = support.NewUsers(0)
	}
	if m.alarms == nil {
		m.alarms = support.NewAlarms(clk)
	}
	if m.appops == nil {
		m.appops = support.NewAppOps()
	}
	if m.permissions == nil {
		m.permissions = support.NewPermissions()
	}
	if m.foreground == nil {
		m.foreground = support.NewForeground()
	}
	if m.powerSave == nil {
		m.powerSave = support.NewPowerSave()
	}
	if m.screen == nil {
		m.screen = support.NewScreen()
	}
	if m.attribution == nil {
		m.attribution = support.NopAttribution{}
	}
	if m.wakeLock == nil {
		m.wakeLock = support.NewWakeLock(clk)
	}
	if m.fudger == nil {
		m.fudger = fudger.New(clk, m.settings.CoarseAccuracyM())
	}
	if m.events == nil {
		m.events = eventlog.New(0)
	}
	if m.executor == nil {
		m.executor = NewSerialExecutor()
		m.ownsExecutor = true
	}
	if m.ownPID == 0 {
		m.ownPID = os.Getpid()
	}

	return m
}

// Name returns the provider name.
func (m *Manager) Name() string { return m.name }

// EventLog returns the manager's event log.
func (m *Manager) EventLog() *eventlog.Log { return m.events }

// StartManager activates the manager: it installs itself as the provider
// listener, subscribes to all policy sources, and initializes the
// enabled state of every running user. Idempotent.
func (m *Manager) StartManager() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true

	m.activeProviderLocked().SetListener(m)
	m.subscribeLocked()

	for _, userID := range m.users.RunningUserIDs() {
		m.onEnabledChangedLocked(userID)
	}

	ops := m.takeOpsLocked()
	m.mu.Unlock()
	m.flush(ops)

	m.logger.Info("manager started")
}

// StopManager removes every registration, unsubscribes all listeners and
// stops the provider. Idempotent.
func (m *Manager) StopManager() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false

	for _, cancel := range m.cancels {
		cancel()
	}
	m.cancels = nil

	for _, key := range m.keysLocked() {
		if r := m.regs[key]; r != nil {
			m.removeRegistrationLocked(r, false)
		}
	}

	m.cancelDelayedLocked()
	if m.merged.Active() {
		m.setProviderRequestLocked(location.EmptyProviderRequest())
	}
	m.activeProviderLocked().SetListener(nil)
	m.enabled = map[int]bool{}

	ops := m.takeOpsLocked()
	m.mu.Unlock()
	m.flush(ops)

	if m.ownsExecutor {
		if se, ok := m.executor.(*SerialExecutor); ok {
			se.Close()
		}
	}

	m.logger.Info("manager stopped")
}

// RegisterContinuous adds a streaming registration under key. If key is
// already registered, the new registration replaces the old one and
// inherits its last-delivered location.
func (m *Manager) RegisterContinuous(key ClientKey, req location.Request, identity location.CallerIdentity, level location.PermissionLevel, transport Transport) error {
	if err := validateRegistration(level, transport); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return errors.InvalidInput(err.Error())
	}

	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return errors.NotStarted(m.name)
	}

	m.addRegistrationLocked(key, kindContinuous, req, identity, level, transport)

	ops := m.takeOpsLocked()
	m.mu.Unlock()
	m.flush(ops)
	return nil
}

// GetCurrentLocation adds a one-shot registration that delivers a single
// location, or nil if it gives up. The returned cancel is idempotent.
func (m *Manager) GetCurrentLocation(key ClientKey, req location.Request, identity location.CallerIdentity, level location.PermissionLevel, transport Transport) (cancel func(), err error) {
	if err := validateRegistration(level, transport); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, errors.InvalidInput(err.Error())
	}

	// one-shot lifetime is capped regardless of caller input
	if req.Duration <= 0 || req.Duration > oneShotMaxDuration {
		req.Duration = oneShotMaxDuration
	}
	req.MaxUpdates = 1

	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil, errors.NotStarted(m.name)
	}

	m.addRegistrationLocked(key, kindOneShot, req, identity, level, transport)

	ops := m.takeOpsLocked()
	m.mu.Unlock()
	m.flush(ops)

	return func() { m.Unregister(key) }, nil
}

// Unregister removes the registration under key. Idempotent.
func (m *Manager) Unregister(key ClientKey) {
	m.mu.Lock()
	if r := m.regs[key]; r != nil {
		m.removeRegistrationLocked(r, true)
	}
	ops := m.takeOpsLocked()
	m.mu.Unlock()
	m.flush(ops)
}

// OnEnabledChanged subscribes to per-user enabled transitions of this
// provider. Listeners run on the executor.
func (m *Manager) OnEnabledChanged(fn func(userID int, enabled bool)) (cancel func()) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()
	id := m.nextListener
	m.nextListener++
	m.enabledListeners[id] = fn
	return func() {
		m.listenerMu.Lock()
		defer m.listenerMu.Unlock()
		delete(m.enabledListeners, id)
	}
}

// IsEnabled reports the enabled state of this provider for a user.
func (m *Manager) IsEnabled(userID int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled[userID]
}

// GetLastLocation returns the last known location visible to the caller,
// or nil. The caller receives its own copy.
func (m *Manager) GetLastLocation(identity location.CallerIdentity, level location.PermissionLevel, ignoreSettings bool) *location.Location {
	m.mu.Lock()
	defer m.mu.Unlock()

	bypass := ignoreSettings && m.bypassAllowedLocked(identity.Package)
	if !bypass {
		if m.settings.IsPackageBlacklisted(identity.UserID, identity.Package) {
			return nil
		}
		if !m.enabled[identity.UserID] {
			return nil
		}
	}
	if !identity.System && !m.users.IsCurrentUser(identity.UserID) {
		return nil
	}
	if !m.appops.NoteOp(level, identity) {
		return nil
	}

	c := m.lastLocations[identity.UserID]
	if c == nil {
		return nil
	}
	return c.get(level, bypass).Clone()
}

// InjectLastLocation seeds the cache for a user, but only when no fine
// location is already known.
func (m *Manager) InjectLastLocation(loc *location.Location, userID int) error {
	if loc == nil || !loc.Complete() {
		return errors.InvalidFix("injected location is incomplete")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.cacheLocked(userID)
	if c.fineNormal != nil {
		return nil
	}
	fine := loc.Clone()
	coarse := m.fudger.CreateCoarse(fine)
	c.set(fine, coarse)
	c.setBypass(fine, coarse)
	return nil
}

// SendExtraCommand forwards a driver-specific command to the provider.
func (m *Manager) SendExtraCommand(command string, extras map[string]string) error {
	m.mu.Lock()
	p := m.activeProviderLocked()
	m.mu.Unlock()
	return p.SendExtraCommand(command, extras)
}

// SetMockProvider installs (non-nil) or clears (nil) the mock overlay.
// Clearing drops mock-sourced cache entries and resets the coarse
// offsets so mock sessions cannot leak into real coarse grids.
func (m *Manager) SetMockProvider(mock *MockProvider) {
	m.mu.Lock()
	if mock == nil && m.mock == nil {
		m.mu.Unlock()
		return
	}

	if m.started {
		m.activeProviderLocked().SetListener(nil)
	}
	m.mock = mock
	if m.started {
		m.activeProviderLocked().SetListener(m)
	}

	if mock == nil {
		for _, c := range m.lastLocations {
			c.clearMock()
		}
		m.fudger.ResetOffsets()
		m.events.Record(m.name, eventlog.KindMock, "mock provider cleared")
	} else {
		m.events.Record(m.name, eventlog.KindMock, "mock provider set")
	}

	if m.started {
		m.onEnabledChangedLocked(location.UserAll)
		m.activeProviderLocked().SetRequest(m.merged)
	}

	ops := m.takeOpsLocked()
	m.mu.Unlock()
	m.flush(ops)
}

// SetMockProviderAllowed flips the mock driver's allowed state. Fails if
// no mock overlay is installed.
func (m *Manager) SetMockProviderAllowed(allowed bool) error {
	m.mu.Lock()
	mock := m.mock
	m.mu.Unlock()
	if mock == nil {
		return errors.NotMock(m.name)
	}
	mock.SetAllowed(allowed)
	return nil
}

// SetMockProviderLocation injects a fix through the mock overlay. Fails
// if no mock overlay is installed.
func (m *Manager) SetMockProviderLocation(loc *location.Location) error {
	m.mu.Lock()
	mock := m.mock
	m.mu.Unlock()
	if mock == nil {
		return errors.NotMock(m.name)
	}
	mock.ReportLocation(loc)
	return nil
}

// MergedRequest returns the provider request currently applied.
func (m *Manager) MergedRequest() location.ProviderRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.merged
}

// --- ProviderListener ---

// OnStateChanged reacts to driver state transitions: allowed changes
// feed the enabled-state machine, property changes re-derive high-power
// blame.
func (m *Manager) OnStateChanged() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.onEnabledChangedLocked(location.UserAll)
	for _, key := range m.keysLocked() {
		if r := m.regs[key]; r != nil {
			m.updateHighPowerLocked(r)
		}
	}
	ops := m.takeOpsLocked()
	m.mu.Unlock()
	m.flush(ops)
}

// OnReportLocation accepts one fix from the driver: validates it,
// updates the per-user caches, and fans it out to the eligible
// registrations.
func (m *Manager) OnReportLocation(loc *location.Location) {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}

	if !loc.FromMock && (loc.Latitude == 0 && loc.Longitude == 0) {
		m.mu.Unlock()
		m.logger.Warn("dropping fix on the zero island")
		return
	}
	if !loc.FromMock && !loc.Complete() {
		m.mu.Unlock()
		m.logger.Warn("dropping incomplete fix")
		return
	}

	fine := loc.Clone()
	fine.Provider = m.name
	coarse := m.fudger.CreateCoarse(fine)
	now := m.clk.ElapsedRealtime()

	m.events.Record(m.name, eventlog.KindReceive, "fix at %.5f,%.5f", fine.Latitude, fine.Longitude)

	// cache first, fan out second: a transport that reads the cache
	// during delivery sees the fix it is being handed
	for _, userID := range m.users.RunningUserIDs() {
		c := m.cacheLocked(userID)
		c.setBypass(fine, coarse)
		if m.enabled[userID] {
			c.set(fine, coarse)
		}
	}

	for _, key := range m.keysLocked() {
		r := m.regs[key]
		if r == nil || !r.active {
			continue
		}
		deliver := fine
		if r.level == location.PermissionCoarse {
			deliver = coarse
		}
		if op := m.acceptDeliveryLocked(r, deliver, now); op != nil {
			m.ops = append(m.ops, op)
		}
	}

	hook := m.passiveHook
	ops := m.takeOpsLocked()
	m.mu.Unlock()
	m.flush(ops)

	if hook != nil {
		hook(loc)
	}
}

// OnReportLocations passes a batch through verbatim. Only the GPS
// provider produces batches worth forwarding.
func (m *Manager) OnReportLocations(batch []*location.Location) {
	if m.name != GPSProvider {
		return
	}
	m.mu.Lock()
	hook := m.batchHook
	started := m.started
	m.mu.Unlock()
	if started && hook != nil {
		hook(batch)
	}
}

// --- registration lifecycle (locked) ---

func validateRegistration(level location.PermissionLevel, transport Transport) error {
	if level != location.PermissionCoarse && level != location.PermissionFine {
		return errors.InvalidInput("permission level must be coarse or fine")
	}
	if transport == nil {
		return errors.InvalidInput("transport must not be nil")
	}
	return nil
}

func (m *Manager) addRegistrationLocked(key ClientKey, kind regKind, req location.Request, identity location.CallerIdentity, level location.PermissionLevel, transport Transport) {
	var inherited *location.Location
	if old := m.regs[key]; old != nil {
		inherited = old.lastDelivered
		m.removeRegistrationLocked(old, false)
	}

	now := m.clk.ElapsedRealtime()
	r := &registration{
		key:           key,
		kind:          kind,
		request:       req,
		identity:      identity,
		level:         level,
		transport:     transport,
		lastDelivered: inherited,
		registerTime:  now,
		expiration:    req.ExpirationAt(now),
	}
	r.permitted = m.permissions.HasLocationPermissions(level, identity)
	r.foreground = m.foreground.IsAppForeground(identity.UID)
	r.effective = m.computeEffectiveLocked(r)

	m.regs[key] = r
	m.order = append(m.order, key)
	m.events.Record(m.name, eventlog.KindRegister, "%s %s", identity, req)

	if r.kind == kindContinuous && !r.effective.SettingsIgnored && !m.enabled[identity.UserID] {
		transport := r.transport
		name := m.name
		m.ops = append(m.ops, func() {
			if err := transport.DeliverProviderEnabled(name, false); err != nil {
				m.removeClient(key)
			}
		})
	}

	if r.expiration != location.NoExpiration {
		if now >= r.expiration {
			m.expireLocked(r)
			return
		}
		r.expirationAlarm = m.alarms.Schedule(r.expiration-now, r.effective.WorkSource, func() {
			m.onExpirationAlarm(r)
		})
	}

	if active := m.computeActiveLocked(r); active {
		m.onActiveChangedLocked(r, true)
	} else if r.kind == kindOneShot && !r.effective.SettingsIgnored {
		m.deliverNullLocked(r)
		m.removeRegistrationLocked(r, false)
		return
	}

	if m.regs[key] == r {
		m.updateProviderRequestLocked()
	}
}

func (m *Manager) removeRegistrationLocked(r *registration, recompute bool) {
	if m.regs[r.key] != r {
		return
	}
	delete(m.regs, r.key)
	for i, key := range m.order {
		if key == r.key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}

	if r.expirationAlarm != nil {
		r.expirationAlarm.Cancel()
		r.expirationAlarm = nil
	}
	if r.active {
		r.active = false
		m.updateHighPowerLocked(r)
		if !r.effective.HiddenFromAppOps {
			m.attribution.ReportLocationStop(r.identity)
		}
	}

	m.events.Record(m.name, eventlog.KindUnregister, "%s", r.identity)

	if recompute {
		m.updateProviderRequestLocked()
	}
}

// removeClient removes a registration from a delivery closure, after a
// transport failure or max-updates completion.
func (m *Manager) removeClient(key ClientKey) {
	m.mu.Lock()
	if r := m.regs[key]; r != nil {
		m.removeRegistrationLocked(r, true)
	}
	ops := m.takeOpsLocked()
	m.mu.Unlock()
	m.flush(ops)
}

func (m *Manager) onExpirationAlarm(r *registration) {
	m.mu.Lock()
	// the acceptance path re-checks expiration, so a late alarm is safe
	if m.regs[r.key] == r && m.clk.ElapsedRealtime() >= r.expiration {
		m.expireLocked(r)
	}
	ops := m.takeOpsLocked()
	m.mu.Unlock()
	m.flush(ops)
}

func (m *Manager) expireLocked(r *registration) {
	m.logger.WithField("client", string(r.key)).Debug("registration expired")
	if r.kind == kindOneShot && !r.effective.SettingsIgnored {
		m.deliverNullLocked(r)
	}
	m.removeRegistrationLocked(r, true)
}

func (m *Manager) deliverNullLocked(r *registration) {
	transport := r.transport
	key := r.key
	m.ops = append(m.ops, func() {
		done := newSingleUse(func() {})
		if err := transport.DeliverLocation(nil, func() { done.Run() }); err != nil {
			done.Run()
			m.removeClient(key)
		}
	})
}

// --- eligibility and effective requests (locked) ---

func (m *Manager) computeEffectiveLocked(r *registration) location.Request {
	req := r.request

	if r.level == location.PermissionCoarse {
		req.Quality = location.QualityLowPower
		if req.Interval != location.PassiveInterval && req.Interval < MinCoarseInterval {
			req.Interval = MinCoarseInterval
		}
		if req.MinUpdateInterval < MinCoarseInterval {
			req.MinUpdateInterval = MinCoarseInterval
		}
	}

	if req.SettingsIgnored && !m.bypassAllowedLocked(r.identity.Package) {
		req.SettingsIgnored = false
	}

	if !req.SettingsIgnored && !r.foreground && !m.throttleExemptLocked(r.identity.Package) &&
		req.Interval != location.PassiveInterval {
		if throttle := m.settings.BackgroundThrottleInterval(); req.Interval < throttle {
			req.Interval = throttle
		}
	}

	return req
}

func (m *Manager) bypassAllowedLocked(pkg string) bool {
	return m.settings.IsIgnoreSettingsAllowed(pkg) || m.isProviderPackageLocked(pkg)
}

func (m *Manager) throttleExemptLocked(pkg string) bool {
	return m.settings.IsBackgroundThrottleExempt(pkg) || m.isProviderPackageLocked(pkg)
}

func (m *Manager) isProviderPackageLocked(pkg string) bool {
	state := m.activeProviderLocked().State()
	return state.Identity != nil && state.Identity.Package == pkg
}

func (m *Manager) computeActiveLocked(r *registration) bool {
	if !r.permitted {
		return false
	}
	if r.effective.SettingsIgnored {
		return true
	}
	userID := r.identity.UserID
	if !m.enabled[userID] {
		return false
	}
	if !r.identity.System && !m.users.IsCurrentUser(userID) {
		return false
	}
	if !m.powerSaveAllowsLocked(r) {
		return false
	}
	if m.settings.IsPackageBlacklisted(userID, r.identity.Package) {
		return false
	}
	return true
}

func (m *Manager) powerSaveAllowsLocked(r *registration) bool {
	switch m.powerSave.LocationPowerSaveMode() {
	case support.PowerSaveForegroundOnly:
		return r.foreground
	case support.PowerSaveGPSDisabledScreenOff:
		if m.name == GPSProvider {
			return m.screen.IsInteractive()
		}
		return true
	case support.PowerSaveThrottleScreenOff, support.PowerSaveAllDisabledScreenOff:
		return m.screen.IsInteractive()
	default:
		return true
	}
}

func (m *Manager) onActiveChangedLocked(r *registration, active bool) {
	r.active = active
	m.updateHighPowerLocked(r)

	if !r.effective.HiddenFromAppOps {
		if active {
			m.attribution.ReportLocationStart(r.identity)
		} else {
			m.attribution.ReportLocationStop(r.identity)
		}
	}

	if active {
		m.events.Record(m.name, eventlog.KindActive, "%s", r.identity)
	} else {
		m.events.Record(m.name, eventlog.KindInactive, "%s", r.identity)
	}

	switch r.kind {
	case kindContinuous:
		if active && r.request.DeliverHistorical {
			m.deliverHistoricalLocked(r)
		}
	case kindOneShot:
		if active {
			m.satisfyOneShotFromCacheLocked(r)
		} else if !r.effective.SettingsIgnored {
			// the caller will never receive anything, so fail fast
			m.deliverNullLocked(r)
			m.removeRegistrationLocked(r, true)
		}
	}
}

func (m *Manager) updateHighPowerLocked(r *registration) {
	state := m.activeProviderLocked().State()
	hp := r.active &&
		r.effective.Interval < maxHighPowerInterval &&
		state.Properties.PowerUsage == PowerUsageHigh
	if hp == r.highPower {
		return
	}
	r.highPower = hp
	if r.effective.HiddenFromAppOps {
		return
	}
	if hp {
		m.attribution.ReportHighPowerLocationStart(r.identity)
	} else {
		m.attribution.ReportHighPowerLocationStop(r.identity)
	}
}

func (m *Manager) deliverHistoricalLocked(r *registration) {
	maxAge := r.effective.Interval
	if r.lastDelivered != nil {
		if age := r.lastDelivered.ElapsedAge(m.clk.ElapsedRealtime()) - 1; age < maxAge {
			maxAge = age
		}
	}
	if maxAge <= minRequestDelay {
		return
	}
	loc := m.getLastLocationUnsafeLocked(r.identity.UserID, r.level, r.effective.SettingsIgnored, maxAge)
	if loc == nil {
		return
	}
	if op := m.acceptDeliveryLocked(r, loc, m.clk.ElapsedRealtime()); op != nil {
		m.ops = append(m.ops, op)
	}
}

func (m *Manager) satisfyOneShotFromCacheLocked(r *registration) {
	loc := m.getLastLocationUnsafeLocked(r.identity.UserID, r.level, r.effective.SettingsIgnored, maxCurrentLocationAge)
	if loc == nil {
		return
	}
	if op := m.acceptDeliveryLocked(r, loc, m.clk.ElapsedRealtime()); op != nil {
		m.ops = append(m.ops, op)
	}
}

// getLastLocationUnsafeLocked reads the cache without caller gating.
// UserAll scans every running user for the most recent entry.
func (m *Manager) getLastLocationUnsafeLocked(userID int, level location.PermissionLevel, bypass bool, maxAge time.Duration) *location.Location {
	if userID == location.UserAll {
		var best *location.Location
		for _, u := range m.users.RunningUserIDs() {
			if loc := m.getLastLocationUnsafeLocked(u, level, bypass, maxAge); loc != nil {
				if best == nil || loc.ElapsedRealtime > best.ElapsedRealtime {
					best = loc
				}
			}
		}
		return best
	}

	c := m.lastLocations[userID]
	if c == nil {
		return nil
	}
	loc := c.get(level, bypass)
	if loc == nil || loc.ElapsedAge(m.clk.ElapsedRealtime()) > maxAge {
		return nil
	}
	return loc
}

// --- delivery (locked builders) ---

// acceptDeliveryLocked runs the acceptance test for one registration and
// one already-permission-leveled location, returning the delivery
// closure or nil.
func (m *Manager) acceptDeliveryLocked(r *registration, deliver *location.Location, now time.Duration) func() {
	// backstop for late expiration alarms
	if now >= r.expiration {
		m.expireLocked(r)
		return nil
	}

	if r.lastDelivered != nil {
		spacing := deliver.ElapsedRealtime - r.lastDelivered.ElapsedRealtime
		if spacing < r.minUpdateInterval()-r.jitterBudget() {
			return nil
		}
		if r.effective.MinUpdateDistance > 0 &&
			deliver.DistanceTo(r.lastDelivered) <= r.effective.MinUpdateDistance {
			return nil
		}
	}

	if !r.effective.HiddenFromAppOps && !m.appops.NoteOp(r.level, r.identity) {
		m.logger.WithField("client", string(r.key)).Debug("delivery suppressed by app op")
		return nil
	}

	return m.deliveryOpLocked(r, deliver)
}

func (m *Manager) deliveryOpLocked(r *registration, deliver *location.Location) func() {
	// one-shots never hold the system awake; their lifetime is bounded
	holdWakeLock := r.kind == kindContinuous && !deliver.FromMock
	if holdWakeLock {
		m.wakeLock.SetWorkSource(r.effective.WorkSource)
		m.wakeLock.Acquire(support.WakeLockTimeout)
	}
	r.lastDelivered = deliver.Clone()

	if r.kind == kindOneShot {
		// single delivery is terminal
		m.removeRegistrationLocked(r, true)
	}

	key := r.key
	reg := r
	transport := r.transport
	identity := r.identity
	kind := r.kind
	m.events.Record(m.name, eventlog.KindDeliver, "%s", identity)

	return func() {
		release := func() {}
		if holdWakeLock {
			release = m.wakeLock.Release
		}
		done := newSingleUse(release)

		loc := deliver
		if identity.PID == m.ownPID {
			loc = loc.Clone()
		}

		if err := transport.DeliverLocation(loc, func() { done.Run() }); err != nil {
			done.Run()
			m.logger.WithField("client", string(key)).WithError(err).
				Warn("removing registration after failed delivery")
			m.removeClient(key)
			return
		}

		if kind == kindOneShot {
			return
		}

		m.mu.Lock()
		if m.regs[key] == reg {
			reg.numDelivered++
			if reg.request.MaxUpdates > 0 && reg.numDelivered >= reg.request.MaxUpdates {
				m.removeRegistrationLocked(reg, true)
			}
		}
		ops := m.takeOpsLocked()
		m.mu.Unlock()
		m.flush(ops)
	}
}

// --- merged request (locked) ---

type updateWhat struct {
	permitted  bool
	foreground bool
	effective  bool
}

// updateRegistrationsLocked recomputes the requested cached fields on
// every registration matching pred, re-evaluates active-ness, and pushes
// a recomputed provider request when anything changed.
func (m *Manager) updateRegistrationsLocked(pred func(*registration) bool, what updateWhat) {
	changed := false
	for _, key := range m.keysLocked() {
		r := m.regs[key]
		if r == nil || !pred(r) {
			continue
		}

		if what.permitted {
			r.permitted = m.permissions.HasLocationPermissions(r.level, r.identity)
		}
		if what.foreground {
			r.foreground = m.foreground.IsAppForeground(r.identity.UID)
		}
		if what.effective {
			if effective := m.computeEffectiveLocked(r); !effective.Equal(r.effective) {
				r.effective = effective
				changed = true
				m.updateHighPowerLocked(r)
			}
		}

		if active := m.computeActiveLocked(r); active != r.active {
			m.onActiveChangedLocked(r, active)
			changed = true
		}
	}

	if changed {
		m.updateProviderRequestLocked()
	}
}

func (m *Manager) mergeLocked() location.ProviderRequest {
	merged := location.EmptyProviderRequest()
	contributors := 0

	for _, key := range m.order {
		r := m.regs[key]
		if r == nil || !r.contributes() {
			continue
		}
		contributors++
		if r.effective.Interval < merged.Interval {
			merged.Interval = r.effective.Interval
		}
		if contributors == 1 {
			merged.Quality = r.effective.Quality
			merged.LowPower = r.effective.LowPower
		} else {
			if r.effective.Quality < merged.Quality {
				merged.Quality = r.effective.Quality
			}
			merged.LowPower = merged.LowPower && r.effective.LowPower
		}
		merged.SettingsIgnored = merged.SettingsIgnored || r.effective.SettingsIgnored
	}

	if contributors == 0 {
		return location.EmptyProviderRequest()
	}

	// power blame goes to every registration close enough to the merged
	// interval to be plausibly driving the hardware
	threshold := location.PassiveInterval - 1
	if merged.Interval < (location.PassiveInterval-time.Second)/3*2 {
		threshold = (merged.Interval + time.Second) / 2 * 3
	}
	for _, key := range m.order {
		r := m.regs[key]
		if r == nil || !r.contributes() {
			continue
		}
		if r.effective.Interval <= threshold {
			merged.WorkSource = merged.WorkSource.Add(r.effective.WorkSource)
		}
	}

	return merged
}

func (m *Manager) updateProviderRequestLocked() {
	next := m.mergeLocked()

	// any pending delayed apply is superseded by this recomputation
	m.cancelDelayedLocked()

	if next.Equal(m.merged) {
		return
	}

	// settings-ignored transitions and slowdowns take effect at once;
	// only speedups may wait out the delay
	if (!m.merged.SettingsIgnored && next.SettingsIgnored) || next.Interval > m.merged.Interval {
		m.setProviderRequestLocked(next)
		return
	}

	delay := m.calculateRequestDelayLocked(next.Interval)
	if delay < minRequestDelay {
		m.setProviderRequestLocked(next)
		return
	}

	gen := m.delayedGen
	target := next
	m.delayedAlarm = m.alarms.Schedule(delay, next.WorkSource, func() {
		m.mu.Lock()
		if gen == m.delayedGen && m.started {
			m.delayedAlarm = nil
			m.setProviderRequestLocked(target)
		}
		ops := m.takeOpsLocked()
		m.mu.Unlock()
		m.flush(ops)
	})
}

// calculateRequestDelayLocked estimates how long the provider can keep
// its old cadence before any registration would miss an update.
func (m *Manager) calculateRequestDelayLocked(newInterval time.Duration) time.Duration {
	delay := newInterval
	now := m.clk.ElapsedRealtime()

	for _, key := range m.order {
		r := m.regs[key]
		if r == nil || !r.contributes() {
			continue
		}

		ref := r.lastDelivered
		if ref == nil && !r.effective.SettingsIgnored {
			ref = m.getLastLocationUnsafeLocked(r.identity.UserID, r.level, false, r.effective.Interval)
		}

		var regDelay time.Duration
		if ref != nil {
			regDelay = r.effective.Interval - ref.ElapsedAge(now)
			if regDelay < 0 {
				regDelay = 0
			}
		}
		if regDelay < delay {
			delay = regDelay
		}
	}

	return delay
}

func (m *Manager) cancelDelayedLocked() {
	m.delayedGen++
	if m.delayedAlarm != nil {
		m.delayedAlarm.Cancel()
		m.delayedAlarm = nil
	}
}

func (m *Manager) setProviderRequestLocked(req location.ProviderRequest) {
	m.merged = req
	m.activeProviderLocked().SetRequest(req)
	m.events.Record(m.name, eventlog.KindUpdateRequest, "%s", req)
	m.logger.WithField("request", req.String()).Debug("provider request updated")
}

// --- enabled-state machine (locked) ---

func (m *Manager) onEnabledChangedLocked(userID int) {
	if userID == location.UserAll {
		for _, u := range m.users.RunningUserIDs() {
			m.onEnabledChangedLocked(u)
		}
		return
	}
	if userID == location.UserNone {
		return
	}

	enabled := m.started &&
		m.activeProviderLocked().State().Allowed &&
		m.settings.IsLocationEnabled(userID)

	old, seen := m.enabled[userID]
	if seen && old == enabled {
		return
	}
	m.enabled[userID] = enabled
	if !seen {
		// first observation is stored silently
		return
	}

	m.events.Record(m.name, eventlog.KindEnabled, "user %d enabled=%t", userID, enabled)

	if !enabled {
		if c := m.lastLocations[userID]; c != nil {
			c.clearNormal()
		}
	}

	// fused and passive never broadcast, by legacy contract
	if m.broadcaster != nil && m.name != FusedProvider && m.name != PassiveProvider {
		b := m.broadcaster
		name := m.name
		u := userID
		e := enabled
		m.ops = append(m.ops, func() { b.BroadcastProviderEnabled(name, u, e) })
	}

	m.listenerMu.Lock()
	listeners := make([]func(int, bool), 0, len(m.enabledListeners))
	for _, fn := range m.enabledListeners {
		listeners = append(listeners, fn)
	}
	m.listenerMu.Unlock()
	for _, fn := range listeners {
		fn := fn
		u := userID
		e := enabled
		m.ops = append(m.ops, func() { fn(u, e) })
	}

	for _, key := range m.keysLocked() {
		r := m.regs[key]
		if r == nil || r.identity.UserID != userID {
			continue
		}
		if r.kind == kindContinuous && !r.effective.SettingsIgnored {
			transport := r.transport
			name := m.name
			key := key
			e := enabled
			m.ops = append(m.ops, func() {
				if err := transport.DeliverProviderEnabled(name, e); err != nil {
					m.removeClient(key)
				}
			})
		}
	}

	m.updateRegistrationsLocked(func(r *registration) bool {
		return r.identity.UserID == userID
	}, updateWhat{})
}

// --- policy subscriptions ---

func (m *Manager) subscribeLocked() {
	m.cancels = append(m.cancels,
		m.settings.OnLocationEnabledChanged(func(userID int) {
			m.withLock(func() { m.onEnabledChangedLocked(userID) })
		}),
		m.settings.OnBackgroundThrottleIntervalChanged(func() {
			m.withLock(func() {
				m.updateRegistrationsLocked(all, updateWhat{effective: true})
			})
		}),
		m.settings.OnBackgroundThrottleWhitelistChanged(func() {
			m.withLock(func() {
				m.updateRegistrationsLocked(all, updateWhat{effective: true})
			})
		}),
		m.settings.OnIgnoreSettingsWhitelistChanged(func() {
			m.withLock(func() {
				m.updateRegistrationsLocked(all, updateWhat{effective: true})
			})
		}),
		m.settings.OnBlacklistChanged(func(userID int) {
			m.withLock(func() {
				m.updateRegistrationsLocked(func(r *registration) bool {
					return r.identity.UserID == userID
				}, updateWhat{})
			})
		}),
		m.users.OnUserChanged(func(userID int, change support.UserChange) {
			m.withLock(func() { m.onUserChangedLocked(userID, change) })
		}),
		m.permissions.OnUIDPermissionsChanged(func(uid int) {
			m.withLock(func() {
				m.updateRegistrationsLocked(func(r *registration) bool {
					return r.identity.UID == uid
				}, updateWhat{permitted: true})
			})
		}),
		m.permissions.OnPackagePermissionsChanged(func(pkg string) {
			m.withLock(func() {
				m.updateRegistrationsLocked(func(r *registration) bool {
					return r.identity.Package == pkg
				}, updateWhat{permitted: true})
			})
		}),
		m.foreground.OnForegroundChanged(func(uid int, fg bool) {
			m.withLock(func() {
				m.updateRegistrationsLocked(func(r *registration) bool {
					return r.identity.UID == uid
				}, updateWhat{foreground: true, effective: true})
			})
		}),
		m.powerSave.OnPowerSaveModeChanged(func(mode support.PowerSaveMode) {
			m.withLock(func() {
				m.updateRegistrationsLocked(all, updateWhat{})
			})
		}),
		m.screen.OnScreenChanged(func(interactive bool) {
			m.withLock(func() {
				m.updateRegistrationsLocked(all, updateWhat{})
			})
		}),
	)
}

func all(*registration) bool { return true }

func (m *Manager) onUserChangedLocked(userID int, change support.UserChange) {
	switch change {
	case support.UserStarted:
		m.onEnabledChangedLocked(userID)
	case support.UserStopped:
		delete(m.enabled, userID)
		delete(m.lastLocations, userID)
		m.updateRegistrationsLocked(func(r *registration) bool {
			return r.identity.UserID == userID
		}, updateWhat{})
	case support.UserCurrentChanged:
		m.updateRegistrationsLocked(func(r *registration) bool {
			return r.identity.UserID == userID
		}, updateWhat{})
	}
}

// --- plumbing ---

func (m *Manager) activeProviderLocked() Provider {
	if m.mock != nil {
		return m.mock
	}
	return m.provider
}

func (m *Manager) cacheLocked(userID int) *lastLocationCache {
	c := m.lastLocations[userID]
	if c == nil {
		c = &lastLocationCache{}
		m.lastLocations[userID] = c
	}
	return c
}

func (m *Manager) keysLocked() []ClientKey {
	return append([]ClientKey(nil), m.order...)
}

func (m *Manager) takeOpsLocked() []func() {
	ops := m.ops
	m.ops = nil
	return ops
}

func (m *Manager) flush(ops []func()) {
	for _, op := range ops {
		m.executor.Execute(op)
	}
}

func (m *Manager) withLock(fn func()) {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	fn()
	ops := m.takeOpsLocked()
	m.mu.Unlock()
	m.flush(ops)
}
