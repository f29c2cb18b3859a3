package settings

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticDefaults(t *testing.T) {
	s := NewStatic()

	assert.False(t, s.IsLocationEnabled(0), "location starts disabled")
	assert.Equal(t, DefaultBackgroundThrottleInterval, s.BackgroundThrottleInterval())
	assert.Equal(t, DefaultCoarseAccuracyM, s.CoarseAccuracyM())
	assert.False(t, s.IsPackageBlacklisted(0, "com.example.app"))
	assert.False(t, s.IsBackgroundThrottleExempt("com.example.app"))
	assert.False(t, s.IsIgnoreSettingsAllowed("com.example.app"))
}

func TestStaticListeners(t *testing.T) {
	s := NewStatic()

	t.Run("location enabled", func(t *testing.T) {
		var got []int
		cancel := s.OnLocationEnabledChanged(func(userID int) { got = append(got, userID) })
		defer cancel()

		s.SetLocationEnabled(10, true)
		require.Equal(t, []int{10}, got)

		// unchanged value does not fire
		s.SetLocationEnabled(10, true)
		require.Equal(t, []int{10}, got)

		cancel()
		s.SetLocationEnabled(10, false)
		require.Equal(t, []int{10}, got, "cancelled listener must not fire")
	})

	t.Run("throttle interval", func(t *testing.T) {
		fired := 0
		cancel := s.OnBackgroundThrottleIntervalChanged(func() { fired++ })
		defer cancel()

		s.SetBackgroundThrottleInterval(30 * time.Second)
		assert.Equal(t, 1, fired)
		assert.Equal(t, 30*time.Second, s.BackgroundThrottleInterval())
	})

	t.Run("blacklist", func(t *testing.T) {
		var got []int
		cancel := s.OnBlacklistChanged(func(userID int) { got = append(got, userID) })
		defer cancel()

		s.SetBlacklist(0, []string{"com.example.bad"})
		assert.Equal(t, []int{0}, got)
		assert.True(t, s.IsPackageBlacklisted(0, "com.example.bad"))
		assert.False(t, s.IsPackageBlacklisted(10, "com.example.bad"))
	})

	t.Run("whitelists", func(t *testing.T) {
		s.SetBackgroundThrottleWhitelist([]string{"com.example.nav"})
		s.SetIgnoreSettingsWhitelist([]string{"com.example.emergency"})
		assert.True(t, s.IsBackgroundThrottleExempt("com.example.nav"))
		assert.True(t, s.IsIgnoreSettingsAllowed("com.example.emergency"))
	})
}

func TestApplyFiresOnlyChangedSections(t *testing.T) {
	s := NewStatic()
	s.SetLocationEnabled(0, true)

	var enabledUsers []int
	intervalFired := 0
	s.OnLocationEnabledChanged(func(userID int) { enabledUsers = append(enabledUsers, userID) })
	s.OnBackgroundThrottleIntervalChanged(func() { intervalFired++ })

	s.Apply(Data{
		LocationEnabled:            map[int]bool{0: true, 10: true},
		BackgroundThrottleInterval: 0, // unchanged
	})

	assert.Equal(t, []int{10}, enabledUsers, "only the new user changed")
	assert.Equal(t, 0, intervalFired)

	s.Apply(Data{
		LocationEnabled:            map[int]bool{0: true, 10: true},
		BackgroundThrottleInterval: time.Minute,
	})
	assert.Equal(t, 1, intervalFired)
}

func TestLoadFileYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
location_enabled:
  0: true
  10: false
background_throttle_interval: 30s
background_throttle_whitelist: [com.example.nav]
ignore_settings_whitelist: [com.example.emergency]
blacklist:
  0: [com.example.bad]
coarse_accuracy_m: 1500
`), 0644))

	data, err := loadFile(path)
	require.NoError(t, err)

	assert.True(t, data.LocationEnabled[0])
	assert.False(t, data.LocationEnabled[10])
	assert.Equal(t, 30*time.Second, data.BackgroundThrottleInterval)
	assert.Equal(t, []string{"com.example.nav"}, data.BackgroundThrottleWhitelist)
	assert.Equal(t, []string{"com.example.bad"}, data.Blacklist[0])
	assert.Equal(t, 1500.0, data.CoarseAccuracyM)
}

func TestLoadFileTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
background_throttle_interval = "1m"
ignore_settings_whitelist = ["com.example.emergency"]

[location_enabled]
0 = true
`), 0644))

	data, err := loadFile(path)
	require.NoError(t, err)
	assert.True(t, data.LocationEnabled[0])
	assert.Equal(t, time.Minute, data.BackgroundThrottleInterval)
	assert.Equal(t, []string{"com.example.emergency"}, data.IgnoreSettingsWhitelist)
}

func TestLoadFileUnsupportedFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0644))

	_, err := loadFile(path)
	assert.Error(t, err)
}

func TestFileStoreReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yml")
	require.NoError(t, os.WriteFile(path, []byte("location_enabled:\n  0: false\n"), 0644))

	fs, err := NewFileStore(path)
	require.NoError(t, err)
	defer fs.Close()

	require.False(t, fs.IsLocationEnabled(0))

	require.NoError(t, os.WriteFile(path, []byte("location_enabled:\n  0: true\n"), 0644))

	require.Eventually(t, func() bool {
		return fs.IsLocationEnabled(0)
	}, 5*time.Second, 10*time.Millisecond, "file change should be picked up")
}
