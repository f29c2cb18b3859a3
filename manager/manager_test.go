package manager

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grovetools/locmux/clock"
	"github.com/grovetools/locmux/errors"
	"github.com/grovetools/locmux/location"
	"github.com/grovetools/locmux/settings"
	"github.com/grovetools/locmux/support"
)

const (
	testUID = 1000
	testPkg = "com.example.app"
)

type fixture struct {
	clk         *clock.Fake
	settings    *settings.Static
	users       *support.Users
	appops      *support.StaticAppOps
	permissions *support.StaticPermissions
	foreground  *support.StaticForeground
	powerSave   *support.StaticPowerSave
	screen      *support.StaticScreen
	attribution *support.AttributionRecorder
	broadcast   *support.BroadcastRecorder
	wakeLock    *support.CountedWakeLock
	provider    *MockProvider
	mgr         *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		clk:         clock.NewFake(time.Unix(1700000000, 0)),
		settings:    settings.NewStatic(),
		users:       support.NewUsers(0),
		appops:      support.NewAppOps(),
		permissions: support.NewPermissions(),
		foreground:  support.NewForeground(),
		powerSave:   support.NewPowerSave(),
		screen:      support.NewScreen(),
		attribution: &support.AttributionRecorder{},
		broadcast:   &support.BroadcastRecorder{},
	}
	f.wakeLock = support.NewWakeLock(f.clk)
	f.provider = NewMockProvider(f.clk)

	f.settings.SetLocationEnabled(0, true)
	f.permissions.Grant(testUID, testPkg, location.PermissionFine)
	f.foreground.SetForeground(testUID, true)

	f.mgr = New(Config{
		Name:        GPSProvider,
		Clock:       f.clk,
		Settings:    f.settings,
		Users:       f.users,
		Alarms:      support.NewAlarms(f.clk),
		AppOps:      f.appops,
		Permissions: f.permissions,
		Foreground:  f.foreground,
		PowerSave:   f.powerSave,
		Screen:      f.screen,
		Attribution: f.attribution,
		Broadcaster: f.broadcast,
		WakeLock:    f.wakeLock,
		Executor:    DirectExecutor{},
		OwnPID:      99999,
	}, f.provider)
	f.mgr.StartManager()
	t.Cleanup(f.mgr.StopManager)
	return f
}

func (f *fixture) identity() location.CallerIdentity {
	return location.CallerIdentity{UserID: 0, UID: testUID, PID: 1, Package: testPkg}
}

func (f *fixture) fix() *location.Location {
	return f.fixAt(37.42200, -122.08410)
}

func (f *fixture) fixAt(lat, lng float64) *location.Location {
	return &location.Location{
		Provider:        GPSProvider,
		Latitude:        lat,
		Longitude:       lng,
		Accuracy:        10,
		HasAccuracy:     true,
		Time:            f.clk.Now(),
		ElapsedRealtime: f.clk.ElapsedRealtime(),
	}
}

func streamingRequest(interval time.Duration) location.Request {
	return location.Request{
		Interval:   interval,
		Quality:    location.QualityBalanced,
		WorkSource: location.WorkSource{{UID: testUID, Package: testPkg}},
	}
}

// captureTransport records everything delivered to it.
type captureTransport struct {
	mu        sync.Mutex
	locations []*location.Location
	enabled   []bool
}

func (t *captureTransport) DeliverLocation(loc *location.Location, done func()) error {
	defer done()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.locations = append(t.locations, loc)
	return nil
}

func (t *captureTransport) DeliverProviderEnabled(provider string, enabled bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = append(t.enabled, enabled)
	return nil
}

func (t *captureTransport) deliveredLocations() []*location.Location {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*location.Location(nil), t.locations...)
}

func (t *captureTransport) enabledEvents() []bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]bool(nil), t.enabled...)
}

// failingTransport simulates a dead client on every location delivery.
type failingTransport struct{}

func (failingTransport) DeliverLocation(loc *location.Location, done func()) error {
	return errors.ClientGone("dead", nil)
}

func (failingTransport) DeliverProviderEnabled(string, bool) error { return nil }

func TestBackgroundThrottle(t *testing.T) {
	f := newFixture(t)
	f.settings.SetBackgroundThrottleInterval(30 * time.Second)
	f.foreground.SetForeground(testUID, true)

	sink := &captureTransport{}
	require.NoError(t, f.mgr.RegisterContinuous("c1", streamingRequest(time.Second),
		f.identity(), location.PermissionFine, sink))
	assert.Equal(t, time.Second, f.provider.LastRequest().Interval)

	f.mgr.OnReportLocation(f.fix())
	require.Len(t, sink.deliveredLocations(), 1)

	f.foreground.SetForeground(testUID, false)
	assert.Equal(t, 30*time.Second, f.provider.LastRequest().Interval)

	// spacing of 26s is under the 30s - 3s jitter budget
	f.clk.Advance(26 * time.Second)
	f.mgr.OnReportLocation(f.fix())
	assert.Len(t, sink.deliveredLocations(), 1)

	f.clk.Advance(2 * time.Second)
	f.mgr.OnReportLocation(f.fix())
	assert.Len(t, sink.deliveredLocations(), 2)
}

func TestCoarseCoercion(t *testing.T) {
	f := newFixture(t)
	f.permissions.Grant(testUID, testPkg, location.PermissionCoarse)

	sink := &captureTransport{}
	req := streamingRequest(5 * time.Second)
	require.NoError(t, f.mgr.RegisterContinuous("c1", req,
		f.identity(), location.PermissionCoarse, sink))

	merged := f.provider.LastRequest()
	assert.Equal(t, MinCoarseInterval, merged.Interval)
	assert.Equal(t, location.QualityLowPower, merged.Quality)

	f.mgr.OnReportLocation(f.fix())
	locs := sink.deliveredLocations()
	require.Len(t, locs, 1)
	assert.GreaterOrEqual(t, locs[0].Accuracy, 2000.0)

	// min update interval was coerced to the coarse floor
	f.clk.Advance(5 * time.Minute)
	f.mgr.OnReportLocation(f.fix())
	assert.Len(t, sink.deliveredLocations(), 1)

	f.clk.Advance(5 * time.Minute)
	f.mgr.OnReportLocation(f.fix())
	assert.Len(t, sink.deliveredLocations(), 2)
}

func TestDelayedReregister(t *testing.T) {
	t.Run("short delay applies immediately", func(t *testing.T) {
		f := newFixture(t)
		a := &captureTransport{}
		require.NoError(t, f.mgr.RegisterContinuous("a", streamingRequest(60*time.Second),
			f.identity(), location.PermissionFine, a))
		assert.Equal(t, 60*time.Second, f.provider.LastRequest().Interval)

		f.mgr.OnReportLocation(f.fix())
		f.clk.Advance(10 * time.Second)

		b := &captureTransport{}
		require.NoError(t, f.mgr.RegisterContinuous("b", streamingRequest(30*time.Second),
			f.identity(), location.PermissionFine, b))

		// delay = min(60-10, 30-10) = 20s, under the 30s threshold
		assert.Equal(t, 30*time.Second, f.provider.LastRequest().Interval)
	})

	t.Run("long delay waits for the alarm", func(t *testing.T) {
		f := newFixture(t)
		a := &captureTransport{}
		require.NoError(t, f.mgr.RegisterContinuous("a", streamingRequest(120*time.Second),
			f.identity(), location.PermissionFine, a))
		f.mgr.OnReportLocation(f.fix())
		f.clk.Advance(10 * time.Second)

		b := &captureTransport{}
		require.NoError(t, f.mgr.RegisterContinuous("b", streamingRequest(60*time.Second),
			f.identity(), location.PermissionFine, b))

		// delay = min(120-10, 60-10) = 50s, so the old request holds
		assert.Equal(t, 120*time.Second, f.provider.LastRequest().Interval)

		f.clk.Advance(50 * time.Second)
		assert.Equal(t, 60*time.Second, f.provider.LastRequest().Interval)
	})

	t.Run("superseded alarm never fires", func(t *testing.T) {
		f := newFixture(t)
		a := &captureTransport{}
		require.NoError(t, f.mgr.RegisterContinuous("a", streamingRequest(120*time.Second),
			f.identity(), location.PermissionFine, a))
		f.mgr.OnReportLocation(f.fix())
		f.clk.Advance(10 * time.Second)

		b := &captureTransport{}
		require.NoError(t, f.mgr.RegisterContinuous("b", streamingRequest(60*time.Second),
			f.identity(), location.PermissionFine, b))
		requestsBefore := len(f.provider.Requests())

		f.mgr.Unregister("b")
		f.clk.Advance(2 * time.Minute)

		// merged request went back to the applied one, no new push
		assert.Equal(t, 120*time.Second, f.provider.LastRequest().Interval)
		assert.Equal(t, requestsBefore, len(f.provider.Requests()))
	})
}

func TestOneShotFromCache(t *testing.T) {
	f := newFixture(t)
	f.mgr.OnReportLocation(f.fix())
	f.clk.Advance(4 * time.Second)
	requestsBefore := len(f.provider.Requests())

	sink := &captureTransport{}
	cancel, err := f.mgr.GetCurrentLocation("o1", streamingRequest(0),
		f.identity(), location.PermissionFine, sink)
	require.NoError(t, err)

	locs := sink.deliveredLocations()
	require.Len(t, locs, 1)
	require.NotNil(t, locs[0])
	assert.Equal(t, 37.42200, locs[0].Latitude)

	// satisfied from cache: the provider was never touched
	assert.Equal(t, requestsBefore, len(f.provider.Requests()))

	// one-shots never hold the system awake
	acquires, _ := f.wakeLock.Counts()
	assert.Equal(t, 0, acquires)

	cancel()
	assert.Len(t, sink.deliveredLocations(), 1)
}

func TestOneShotTimeout(t *testing.T) {
	f := newFixture(t)
	sink := &captureTransport{}
	_, err := f.mgr.GetCurrentLocation("o1", streamingRequest(time.Second),
		f.identity(), location.PermissionFine, sink)
	require.NoError(t, err)
	assert.True(t, f.provider.LastRequest().Active())

	f.clk.Advance(30 * time.Second)
	locs := sink.deliveredLocations()
	require.Len(t, locs, 1)
	assert.Nil(t, locs[0])
	assert.False(t, f.mgr.MergedRequest().Active())
}

func TestOneShotInactiveDeliversNull(t *testing.T) {
	f := newFixture(t)
	f.permissions.Revoke(testUID, testPkg)

	sink := &captureTransport{}
	_, err := f.mgr.GetCurrentLocation("o1", streamingRequest(time.Second),
		f.identity(), location.PermissionFine, sink)
	require.NoError(t, err)

	locs := sink.deliveredLocations()
	require.Len(t, locs, 1)
	assert.Nil(t, locs[0])
	assert.False(t, f.mgr.MergedRequest().Active())
}

func TestOneShotCancel(t *testing.T) {
	f := newFixture(t)
	sink := &captureTransport{}
	cancel, err := f.mgr.GetCurrentLocation("o1", streamingRequest(time.Second),
		f.identity(), location.PermissionFine, sink)
	require.NoError(t, err)

	cancel()
	cancel() // idempotent
	f.clk.Advance(time.Minute)
	assert.Empty(t, sink.deliveredLocations())
	assert.False(t, f.mgr.MergedRequest().Active())
}

func TestClientGoneDuringDelivery(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mgr.RegisterContinuous("c1", streamingRequest(time.Second),
		f.identity(), location.PermissionFine, failingTransport{}))
	assert.True(t, f.provider.LastRequest().Active())

	f.mgr.OnReportLocation(f.fix())

	// exactly one acquire and one release on the failure path
	acquires, releases := f.wakeLock.Counts()
	assert.Equal(t, 1, acquires)
	assert.Equal(t, 1, releases)
	assert.Equal(t, 0, f.wakeLock.Held())

	assert.False(t, f.mgr.MergedRequest().Active())
	assert.False(t, f.provider.LastRequest().Active())
	f.mgr.Unregister("c1") // second removal is a no-op
}

func TestScreenOffPowerSave(t *testing.T) {
	f := newFixture(t)
	sink := &captureTransport{}
	require.NoError(t, f.mgr.RegisterContinuous("c1", streamingRequest(time.Second),
		f.identity(), location.PermissionFine, sink))
	f.mgr.OnReportLocation(f.fix())

	f.powerSave.SetMode(support.PowerSaveAllDisabledScreenOff)
	assert.True(t, f.mgr.MergedRequest().Active())

	f.screen.SetInteractive(false)
	assert.False(t, f.mgr.MergedRequest().Active())

	// normal cache slots survive power-save inactivity
	assert.NotNil(t, f.mgr.GetLastLocation(f.identity(), location.PermissionFine, false))

	f.screen.SetInteractive(true)
	assert.True(t, f.mgr.MergedRequest().Active())
}

func TestMaxUpdates(t *testing.T) {
	f := newFixture(t)
	req := streamingRequest(time.Second)
	req.MaxUpdates = 2

	sink := &captureTransport{}
	require.NoError(t, f.mgr.RegisterContinuous("c1", req,
		f.identity(), location.PermissionFine, sink))

	for i := 0; i < 3; i++ {
		f.mgr.OnReportLocation(f.fix())
		f.clk.Advance(2 * time.Second)
	}

	assert.Len(t, sink.deliveredLocations(), 2)
	assert.False(t, f.mgr.MergedRequest().Active())
}

func TestReplaceInheritsLastDelivered(t *testing.T) {
	f := newFixture(t)
	sink := &captureTransport{}
	require.NoError(t, f.mgr.RegisterContinuous("c1", streamingRequest(30*time.Second),
		f.identity(), location.PermissionFine, sink))
	f.mgr.OnReportLocation(f.fix())
	require.Len(t, sink.deliveredLocations(), 1)

	f.clk.Advance(5 * time.Second)
	replacement := &captureTransport{}
	require.NoError(t, f.mgr.RegisterContinuous("c1", streamingRequest(30*time.Second),
		f.identity(), location.PermissionFine, replacement))

	// the inherited last-delivered location still rate-limits
	f.mgr.OnReportLocation(f.fix())
	assert.Empty(t, replacement.deliveredLocations())

	f.clk.Advance(30 * time.Second)
	f.mgr.OnReportLocation(f.fix())
	assert.Len(t, replacement.deliveredLocations(), 1)
}

func TestProviderEnabledTransitions(t *testing.T) {
	f := newFixture(t)
	f.settings.SetIgnoreSettingsWhitelist([]string{testPkg})

	sink := &captureTransport{}
	require.NoError(t, f.mgr.RegisterContinuous("c1", streamingRequest(time.Second),
		f.identity(), location.PermissionFine, sink))
	f.mgr.OnReportLocation(f.fix())
	assert.Empty(t, sink.enabledEvents())

	f.settings.SetLocationEnabled(0, false)
	assert.Equal(t, []bool{false}, sink.enabledEvents())

	records := f.broadcast.Records()
	require.Len(t, records, 1)
	assert.Equal(t, support.BroadcastRecord{Provider: GPSProvider, UserID: 0, Enabled: false}, records[0])

	// normal slots are cleared on disable, bypass slots persist
	assert.Nil(t, f.mgr.GetLastLocation(f.identity(), location.PermissionFine, false))
	assert.NotNil(t, f.mgr.GetLastLocation(f.identity(), location.PermissionFine, true))

	f.settings.SetLocationEnabled(0, true)
	assert.Equal(t, []bool{false, true}, sink.enabledEvents())
}

func TestRegisterWhileDisabled(t *testing.T) {
	f := newFixture(t)
	f.settings.SetLocationEnabled(0, false)

	sink := &captureTransport{}
	require.NoError(t, f.mgr.RegisterContinuous("c1", streamingRequest(time.Second),
		f.identity(), location.PermissionFine, sink))

	// an immediate disabled event tells the client why nothing arrives
	assert.Equal(t, []bool{false}, sink.enabledEvents())
	assert.False(t, f.mgr.MergedRequest().Active())
}

func TestGetLastLocationGating(t *testing.T) {
	f := newFixture(t)
	f.mgr.OnReportLocation(f.fix())

	t.Run("fine", func(t *testing.T) {
		loc := f.mgr.GetLastLocation(f.identity(), location.PermissionFine, false)
		require.NotNil(t, loc)
		assert.Equal(t, 37.42200, loc.Latitude)
	})

	t.Run("coarse is degraded", func(t *testing.T) {
		loc := f.mgr.GetLastLocation(f.identity(), location.PermissionCoarse, false)
		require.NotNil(t, loc)
		assert.GreaterOrEqual(t, loc.Accuracy, 2000.0)
	})

	t.Run("caller owns the returned copy", func(t *testing.T) {
		loc := f.mgr.GetLastLocation(f.identity(), location.PermissionFine, false)
		loc.Latitude = 0
		again := f.mgr.GetLastLocation(f.identity(), location.PermissionFine, false)
		assert.Equal(t, 37.42200, again.Latitude)
	})

	t.Run("blacklisted", func(t *testing.T) {
		f.settings.SetBlacklist(0, []string{testPkg})
		assert.Nil(t, f.mgr.GetLastLocation(f.identity(), location.PermissionFine, false))
		f.settings.SetBlacklist(0, nil)
	})

	t.Run("not current user", func(t *testing.T) {
		other := f.identity()
		other.UserID = 10
		assert.Nil(t, f.mgr.GetLastLocation(other, location.PermissionFine, false))
	})

	t.Run("app op denied", func(t *testing.T) {
		f.appops.SetDenied(testPkg, true)
		assert.Nil(t, f.mgr.GetLastLocation(f.identity(), location.PermissionFine, false))
		f.appops.SetDenied(testPkg, false)
	})
}

func TestPermissionRevocation(t *testing.T) {
	f := newFixture(t)
	sink := &captureTransport{}
	require.NoError(t, f.mgr.RegisterContinuous("c1", streamingRequest(time.Second),
		f.identity(), location.PermissionFine, sink))

	f.permissions.Revoke(testUID, testPkg)
	f.mgr.OnReportLocation(f.fix())
	assert.Empty(t, sink.deliveredLocations())
	assert.False(t, f.mgr.MergedRequest().Active())

	// the registration survives revocation and recovers on re-grant
	f.permissions.Grant(testUID, testPkg, location.PermissionFine)
	f.clk.Advance(2 * time.Second)
	f.mgr.OnReportLocation(f.fix())
	assert.Len(t, sink.deliveredLocations(), 1)
}

func TestContinuousExpiration(t *testing.T) {
	f := newFixture(t)
	req := streamingRequest(time.Second)
	req.Duration = time.Minute

	sink := &captureTransport{}
	require.NoError(t, f.mgr.RegisterContinuous("c1", req,
		f.identity(), location.PermissionFine, sink))
	assert.True(t, f.mgr.MergedRequest().Active())

	f.clk.Advance(time.Minute)
	assert.False(t, f.mgr.MergedRequest().Active())

	f.mgr.OnReportLocation(f.fix())
	assert.Empty(t, sink.deliveredLocations())
}

func TestInjectLastLocation(t *testing.T) {
	f := newFixture(t)
	first := f.fix()
	require.NoError(t, f.mgr.InjectLastLocation(first, 0))

	loc := f.mgr.GetLastLocation(f.identity(), location.PermissionFine, false)
	require.NotNil(t, loc)
	assert.Equal(t, first.Latitude, loc.Latitude)

	// a second inject must not displace the known location
	require.NoError(t, f.mgr.InjectLastLocation(f.fixAt(1, 1), 0))
	again := f.mgr.GetLastLocation(f.identity(), location.PermissionFine, false)
	assert.Equal(t, first.Latitude, again.Latitude)
}

func TestHistoricalDelivery(t *testing.T) {
	f := newFixture(t)
	f.mgr.OnReportLocation(f.fix())

	req := streamingRequest(60 * time.Second)
	req.DeliverHistorical = true
	sink := &captureTransport{}
	require.NoError(t, f.mgr.RegisterContinuous("c1", req,
		f.identity(), location.PermissionFine, sink))

	locs := sink.deliveredLocations()
	require.Len(t, locs, 1)
	assert.Equal(t, 37.42200, locs[0].Latitude)
}

func TestSettingsIgnoredBypass(t *testing.T) {
	f := newFixture(t)
	f.settings.SetLocationEnabled(0, false)
	f.settings.SetIgnoreSettingsWhitelist([]string{testPkg})

	req := streamingRequest(time.Second)
	req.SettingsIgnored = true
	sink := &captureTransport{}
	require.NoError(t, f.mgr.RegisterContinuous("c1", req,
		f.identity(), location.PermissionFine, sink))

	merged := f.mgr.MergedRequest()
	assert.True(t, merged.Active())
	assert.True(t, merged.SettingsIgnored)

	f.mgr.OnReportLocation(f.fix())
	assert.Len(t, sink.deliveredLocations(), 1)
}

func TestSettingsIgnoredDeniedWithoutWhitelist(t *testing.T) {
	f := newFixture(t)
	f.settings.SetLocationEnabled(0, false)

	req := streamingRequest(time.Second)
	req.SettingsIgnored = true
	sink := &captureTransport{}
	require.NoError(t, f.mgr.RegisterContinuous("c1", req,
		f.identity(), location.PermissionFine, sink))

	// the bypass flag is stripped for unprivileged callers
	assert.False(t, f.mgr.MergedRequest().Active())
	f.mgr.OnReportLocation(f.fix())
	assert.Empty(t, sink.deliveredLocations())
}

func TestMergeWorkSourceBlame(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mgr.RegisterContinuous("slow", streamingRequest(10*time.Minute),
		f.identity(), location.PermissionFine, &captureTransport{}))

	fast := streamingRequest(time.Second)
	fast.WorkSource = location.WorkSource{{UID: 2000, Package: "com.example.fast"}}
	ident := f.identity()
	ident.UID = 2000
	ident.Package = "com.example.fast"
	f.permissions.Grant(2000, "com.example.fast", location.PermissionFine)
	f.foreground.SetForeground(2000, true)
	require.NoError(t, f.mgr.RegisterContinuous("fast", fast,
		ident, location.PermissionFine, &captureTransport{}))

	merged := f.provider.LastRequest()
	assert.Equal(t, time.Second, merged.Interval)

	// blame threshold is (1s+1s)/2*3 = 3s, far under the slow interval
	expected := location.WorkSource{{UID: 2000, Package: "com.example.fast"}}
	assert.True(t, merged.WorkSource.Equal(expected), "got %v", merged.WorkSource)
}

func TestCoarseCacheGrid(t *testing.T) {
	f := newFixture(t)
	f.mgr.OnReportLocation(f.fix())
	start := f.clk.ElapsedRealtime()

	coarse := func() time.Duration {
		loc := f.mgr.GetLastLocation(f.identity(), location.PermissionCoarse, false)
		require.NotNil(t, loc)
		return loc.ElapsedRealtime
	}
	require.Equal(t, start, coarse())

	// a candidate inside the 10 minute grid step is ignored
	f.clk.Advance(5 * time.Minute)
	f.mgr.OnReportLocation(f.fix())
	assert.Equal(t, start, coarse())

	f.clk.Advance(6 * time.Minute)
	f.mgr.OnReportLocation(f.fix())
	assert.Equal(t, start+11*time.Minute, coarse())

	// the fine slot tracked every fix
	fine := f.mgr.GetLastLocation(f.identity(), location.PermissionFine, false)
	assert.Equal(t, start+11*time.Minute, fine.ElapsedRealtime)
}

func TestMockOverlay(t *testing.T) {
	f := newFixture(t)
	sink := &captureTransport{}
	require.NoError(t, f.mgr.RegisterContinuous("c1", streamingRequest(time.Second),
		f.identity(), location.PermissionFine, sink))

	err := f.mgr.SetMockProviderAllowed(true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeNotMock))

	mock := NewMockProvider(f.clk)
	f.mgr.SetMockProvider(mock)
	require.NoError(t, f.mgr.SetMockProviderLocation(f.fix()))

	locs := sink.deliveredLocations()
	require.Len(t, locs, 1)
	assert.True(t, locs[0].FromMock)

	// mock fixes never hold a wakelock
	acquires, _ := f.wakeLock.Counts()
	assert.Equal(t, 0, acquires)

	// clearing the mock purges mock-sourced cache entries
	f.mgr.SetMockProvider(nil)
	assert.Nil(t, f.mgr.GetLastLocation(f.identity(), location.PermissionFine, false))
	assert.True(t, errors.Is(f.mgr.SetMockProviderLocation(f.fix()), errors.ErrCodeNotMock))
}

func TestWakeLockDiscipline(t *testing.T) {
	f := newFixture(t)
	sink := &captureTransport{}
	require.NoError(t, f.mgr.RegisterContinuous("c1", streamingRequest(time.Second),
		f.identity(), location.PermissionFine, sink))

	f.mgr.OnReportLocation(f.fix())
	acquires, releases := f.wakeLock.Counts()
	assert.Equal(t, 1, acquires)
	assert.Equal(t, 1, releases)
	assert.True(t, f.wakeLock.WorkSource().Equal(location.WorkSource{{UID: testUID, Package: testPkg}}))
}

func TestAppOpNotedOnDelivery(t *testing.T) {
	f := newFixture(t)
	sink := &captureTransport{}
	require.NoError(t, f.mgr.RegisterContinuous("c1", streamingRequest(time.Second),
		f.identity(), location.PermissionFine, sink))

	f.mgr.OnReportLocation(f.fix())
	require.Len(t, sink.deliveredLocations(), 1)
	assert.NotEmpty(t, f.appops.Noted())

	// a denied op drops the delivery but keeps the registration
	f.appops.SetDenied(testPkg, true)
	f.clk.Advance(2 * time.Second)
	f.mgr.OnReportLocation(f.fix())
	assert.Len(t, sink.deliveredLocations(), 1)
	assert.True(t, f.mgr.MergedRequest().Active())
}

func TestHighPowerAttribution(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mgr.RegisterContinuous("c1", streamingRequest(time.Second),
		f.identity(), location.PermissionFine, &captureTransport{}))

	var highPowerStarts int
	for _, ev := range f.attribution.Events() {
		if ev.HighPower && ev.Start {
			highPowerStarts++
		}
	}
	assert.Equal(t, 1, highPowerStarts)

	f.mgr.Unregister("c1")
	var highPowerStops int
	for _, ev := range f.attribution.Events() {
		if ev.HighPower && !ev.Start {
			highPowerStops++
		}
	}
	assert.Equal(t, 1, highPowerStops)
}

func TestUserSwitch(t *testing.T) {
	f := newFixture(t)
	sink := &captureTransport{}
	require.NoError(t, f.mgr.RegisterContinuous("c1", streamingRequest(time.Second),
		f.identity(), location.PermissionFine, sink))
	assert.True(t, f.mgr.MergedRequest().Active())

	f.settings.SetLocationEnabled(10, true)
	f.users.StartUser(10)
	f.users.SetCurrentUser(10)

	// user 0 is no longer current, so its registrations go inactive
	assert.False(t, f.mgr.MergedRequest().Active())

	f.users.SetCurrentUser(0)
	assert.True(t, f.mgr.MergedRequest().Active())
}

func TestUserStopClearsCache(t *testing.T) {
	f := newFixture(t)
	f.settings.SetLocationEnabled(10, true)
	f.users.StartUser(10)

	f.mgr.OnReportLocation(f.fix())

	sysIdent := location.CallerIdentity{UserID: 10, UID: testUID, Package: testPkg, System: true}
	require.NotNil(t, f.mgr.GetLastLocation(sysIdent, location.PermissionFine, false))

	// stopping drops the user's cache; restarting finds it empty
	f.users.StopUser(10)
	f.users.StartUser(10)
	assert.Nil(t, f.mgr.GetLastLocation(sysIdent, location.PermissionFine, false))

	// user 0 keeps its cache
	assert.NotNil(t, f.mgr.GetLastLocation(f.identity(), location.PermissionFine, false))
}

func TestForegroundOnlyPowerSave(t *testing.T) {
	f := newFixture(t)
	sink := &captureTransport{}
	require.NoError(t, f.mgr.RegisterContinuous("c1", streamingRequest(time.Second),
		f.identity(), location.PermissionFine, sink))

	f.powerSave.SetMode(support.PowerSaveForegroundOnly)
	assert.True(t, f.mgr.MergedRequest().Active())

	// only background apps are cut off in this mode
	f.foreground.SetForeground(testUID, false)
	assert.False(t, f.mgr.MergedRequest().Active())
	f.mgr.OnReportLocation(f.fix())
	assert.Empty(t, sink.deliveredLocations())

	f.foreground.SetForeground(testUID, true)
	assert.Equal(t, time.Second, f.provider.LastRequest().Interval)
	f.mgr.OnReportLocation(f.fix())
	assert.Len(t, sink.deliveredLocations(), 1)
}

func TestBlacklistDeactivatesRegistration(t *testing.T) {
	f := newFixture(t)
	sink := &captureTransport{}
	require.NoError(t, f.mgr.RegisterContinuous("c1", streamingRequest(time.Second),
		f.identity(), location.PermissionFine, sink))

	f.mgr.OnReportLocation(f.fix())
	require.Len(t, sink.deliveredLocations(), 1)

	f.settings.SetBlacklist(0, []string{testPkg})
	assert.False(t, f.mgr.MergedRequest().Active())
	f.mgr.OnReportLocation(f.fix())
	assert.Len(t, sink.deliveredLocations(), 1)
	assert.Nil(t, f.mgr.GetLastLocation(f.identity(), location.PermissionFine, false))

	f.settings.SetBlacklist(0, nil)
	assert.True(t, f.mgr.MergedRequest().Active())
	f.clk.Advance(time.Second)
	f.mgr.OnReportLocation(f.fix())
	assert.Len(t, sink.deliveredLocations(), 2)
}

func TestInvalidFixDropped(t *testing.T) {
	f := newFixture(t)
	sink := &captureTransport{}
	require.NoError(t, f.mgr.RegisterContinuous("c1", streamingRequest(time.Second),
		f.identity(), location.PermissionFine, sink))

	zero := f.fixAt(0, 0)
	f.mgr.OnReportLocation(zero)

	incomplete := f.fix()
	incomplete.HasAccuracy = false
	f.mgr.OnReportLocation(incomplete)

	assert.Empty(t, sink.deliveredLocations())
	assert.Nil(t, f.mgr.GetLastLocation(f.identity(), location.PermissionFine, false))
}

func TestStopManager(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mgr.RegisterContinuous("c1", streamingRequest(time.Second),
		f.identity(), location.PermissionFine, &captureTransport{}))
	assert.True(t, f.provider.LastRequest().Active())

	f.mgr.StopManager()
	assert.False(t, f.provider.LastRequest().Active())
	assert.False(t, f.mgr.MergedRequest().Active())

	err := f.mgr.RegisterContinuous("c2", streamingRequest(time.Second),
		f.identity(), location.PermissionFine, &captureTransport{})
	assert.True(t, errors.Is(err, errors.ErrCodeNotStarted))
}

func TestRegistrationValidation(t *testing.T) {
	f := newFixture(t)

	t.Run("empty work source", func(t *testing.T) {
		req := streamingRequest(time.Second)
		req.WorkSource = nil
		err := f.mgr.RegisterContinuous("c1", req, f.identity(), location.PermissionFine, &captureTransport{})
		assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
	})

	t.Run("bad permission level", func(t *testing.T) {
		err := f.mgr.RegisterContinuous("c1", streamingRequest(time.Second),
			f.identity(), location.PermissionNone, &captureTransport{})
		assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
	})

	t.Run("nil transport", func(t *testing.T) {
		err := f.mgr.RegisterContinuous("c1", streamingRequest(time.Second),
			f.identity(), location.PermissionFine, nil)
		assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
	})
}

func TestSendExtraCommand(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mgr.SendExtraCommand("delete_aiding_data", nil))
	assert.Equal(t, []string{"delete_aiding_data"}, f.provider.Commands())
}

func TestDump(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mgr.RegisterContinuous("c1", streamingRequest(time.Second),
		f.identity(), location.PermissionFine, &captureTransport{}))
	f.mgr.OnReportLocation(f.fix())

	dump := f.mgr.Dump()
	assert.Contains(t, dump, "provider gps")
	assert.Contains(t, dump, "registrations: 1")
	assert.Contains(t, dump, "enabled=true")
}
