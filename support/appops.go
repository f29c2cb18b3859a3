package support

import (
	"sync"

	"github.com/grovetools/locmux/location"
)

// AppOps notes location accesses against the app-ops ledger. NoteOp
// returning false means the delivery must be silently dropped.
type AppOps interface {
	NoteOp(level location.PermissionLevel, identity location.CallerIdentity) bool
}

// NewAppOps returns an in-memory AppOps that allows everything until told
// otherwise.
func NewAppOps() *StaticAppOps {
	return &StaticAppOps{denied: map[string]bool{}}
}

// StaticAppOps is the in-memory AppOps implementation. It records every
// noted op, which tests use to assert the noting discipline.
type StaticAppOps struct {
	mu     sync.Mutex
	denied map[string]bool
	noted  []location.CallerIdentity
}

func (a *StaticAppOps) NoteOp(level location.PermissionLevel, identity location.CallerIdentity) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.denied[identity.Package] {
		return false
	}
	a.noted = append(a.noted, identity)
	return true
}

// SetDenied blocks or unblocks a package.
func (a *StaticAppOps) SetDenied(pkg string, denied bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.denied[pkg] = denied
}

// Noted returns the identities whose ops were noted so far.
func (a *StaticAppOps) Noted() []location.CallerIdentity {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]location.CallerIdentity(nil), a.noted...)
}
