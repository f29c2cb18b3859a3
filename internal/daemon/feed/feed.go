// Package feed implements the provider drivers the locmux daemon can run
// behind a manager: a replay driver that follows a JSON-lines fix file, and
// a random-walk driver that synthesizes a plausible track.
package feed

import (
	"sync"

	"github.com/grovetools/locmux/location"
	"github.com/grovetools/locmux/manager"
)

// base carries the listener/state/request plumbing shared by the feed
// drivers. Embedders override SetRequest when they need to react to it.
type base struct {
	mu       sync.Mutex
	listener manager.ProviderListener
	state    manager.ProviderState
	req      location.ProviderRequest
}

func newBase(props manager.ProviderProperties) base {
	return base{
		state: manager.ProviderState{Allowed: true, Properties: props},
		req:   location.EmptyProviderRequest(),
	}
}

func (b *base) State() manager.ProviderState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *base) SetRequest(req location.ProviderRequest) {
	b.mu.Lock()
	b.req = req
	b.mu.Unlock()
}

func (b *base) SetListener(l manager.ProviderListener) {
	b.mu.Lock()
	b.listener = l
	b.mu.Unlock()
}

func (b *base) SendExtraCommand(command string, extras map[string]string) error {
	return nil
}

// wants reports whether anyone is currently asking for fixes.
func (b *base) wants() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.req.Active()
}

// report hands a fix to the listener, outside the driver lock.
func (b *base) report(loc *location.Location) {
	b.mu.Lock()
	l := b.listener
	b.mu.Unlock()
	if l != nil {
		l.OnReportLocation(loc)
	}
}
