package support

import "sync"

// Screen reports whether the display is interactive. Power-save modes
// that key off "screen off" consult this.
type Screen interface {
	IsInteractive() bool
	OnScreenChanged(fn func(interactive bool)) (cancel func())
}

// NewScreen returns an in-memory Screen that starts interactive.
func NewScreen() *StaticScreen {
	return &StaticScreen{interactive: true}
}

// StaticScreen is the in-memory Screen implementation.
type StaticScreen struct {
	mu          sync.Mutex
	interactive bool
	listeners   listenerSet[func(bool)]
}

func (s *StaticScreen) IsInteractive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interactive
}

func (s *StaticScreen) OnScreenChanged(fn func(bool)) func() {
	return s.listeners.add(fn)
}

// SetInteractive turns the screen on or off.
func (s *StaticScreen) SetInteractive(interactive bool) {
	s.mu.Lock()
	if s.interactive == interactive {
		s.mu.Unlock()
		return
	}
	s.interactive = interactive
	s.mu.Unlock()

	for _, fn := range s.listeners.snapshot() {
		fn(interactive)
	}
}
