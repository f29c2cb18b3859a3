package support

import "sync"

// Broadcaster announces provider enabled-state changes to the outside
// world.
type Broadcaster interface {
	BroadcastProviderEnabled(provider string, userID int, enabled bool)
}

// BroadcasterFunc adapts a function to the Broadcaster interface.
type BroadcasterFunc func(provider string, userID int, enabled bool)

func (f BroadcasterFunc) BroadcastProviderEnabled(provider string, userID int, enabled bool) {
	f(provider, userID, enabled)
}

// BroadcastRecord is one captured enabled-state broadcast.
type BroadcastRecord struct {
	Provider string
	UserID   int
	Enabled  bool
}

// BroadcastRecorder captures broadcasts for tests.
type BroadcastRecorder struct {
	mu      sync.Mutex
	records []BroadcastRecord
}

func (b *BroadcastRecorder) BroadcastProviderEnabled(provider string, userID int, enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = append(b.records, BroadcastRecord{Provider: provider, UserID: userID, Enabled: enabled})
}

// Records returns a copy of all captured broadcasts.
func (b *BroadcastRecorder) Records() []BroadcastRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]BroadcastRecord(nil), b.records...)
}
