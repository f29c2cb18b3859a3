package support

import (
	"sync"

	"github.com/grovetools/locmux/location"
)

// Permissions answers whether a caller holds location permission at a
// given level, and notifies about asynchronous grants and revocations.
type Permissions interface {
	HasLocationPermissions(level location.PermissionLevel, identity location.CallerIdentity) bool
	OnPackagePermissionsChanged(fn func(pkg string)) (cancel func())
	OnUIDPermissionsChanged(fn func(uid int)) (cancel func())
}

// NewPermissions returns an in-memory Permissions store with nothing
// granted.
func NewPermissions() *StaticPermissions {
	return &StaticPermissions{granted: map[int]location.PermissionLevel{}}
}

// StaticPermissions is the in-memory Permissions implementation, keyed by
// uid.
type StaticPermissions struct {
	mu      sync.Mutex
	granted map[int]location.PermissionLevel

	pkgListeners listenerSet[func(string)]
	uidListeners listenerSet[func(int)]
}

func (p *StaticPermissions) HasLocationPermissions(level location.PermissionLevel, identity location.CallerIdentity) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.granted[identity.UID] >= level
}

func (p *StaticPermissions) OnPackagePermissionsChanged(fn func(string)) func() {
	return p.pkgListeners.add(fn)
}

func (p *StaticPermissions) OnUIDPermissionsChanged(fn func(int)) func() {
	return p.uidListeners.add(fn)
}

// Grant sets the permission level held by a uid and notifies uid and
// package listeners.
func (p *StaticPermissions) Grant(uid int, pkg string, level location.PermissionLevel) {
	p.mu.Lock()
	p.granted[uid] = level
	p.mu.Unlock()

	for _, fn := range p.uidListeners.snapshot() {
		fn(uid)
	}
	for _, fn := range p.pkgListeners.snapshot() {
		fn(pkg)
	}
}

// Revoke removes all location permission from a uid.
func (p *StaticPermissions) Revoke(uid int, pkg string) {
	p.Grant(uid, pkg, location.PermissionNone)
}
