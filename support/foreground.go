package support

import "sync"

// AppForeground tracks which uids have a foreground app.
type AppForeground interface {
	IsAppForeground(uid int) bool
	OnForegroundChanged(fn func(uid int, foreground bool)) (cancel func())
}

// NewForeground returns an in-memory AppForeground where every uid starts
// in the background.
func NewForeground() *StaticForeground {
	return &StaticForeground{foreground: map[int]bool{}}
}

// StaticForeground is the in-memory AppForeground implementation.
type StaticForeground struct {
	mu         sync.Mutex
	foreground map[int]bool
	listeners  listenerSet[func(int, bool)]
}

func (f *StaticForeground) IsAppForeground(uid int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.foreground[uid]
}

func (f *StaticForeground) OnForegroundChanged(fn func(int, bool)) func() {
	return f.listeners.add(fn)
}

// SetForeground moves a uid between foreground and background.
func (f *StaticForeground) SetForeground(uid int, foreground bool) {
	f.mu.Lock()
	if f.foreground[uid] == foreground {
		f.mu.Unlock()
		return
	}
	f.foreground[uid] = foreground
	f.mu.Unlock()

	for _, fn := range f.listeners.snapshot() {
		fn(uid, foreground)
	}
}
