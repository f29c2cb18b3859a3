// Package support provides the system collaborators the multiplexer
// depends on: user state, alarms, app-ops, permissions, app foreground
// state, power-save mode, screen state, power attribution, wakelocks and
// the provider-changed broadcast.
//
// Each collaborator is an interface plus an in-memory reference
// implementation driven by the embedding application (and by tests). The
// multiplexer never talks to the operating system directly.
package support

import "sync"

// listenerSet is a registry of callbacks with cancel-on-unsubscribe
// semantics. Zero value is ready to use.
type listenerSet[T any] struct {
	mu   sync.Mutex
	next int
	m    map[int]T
}

func (l *listenerSet[T]) add(fn T) (cancel func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.m == nil {
		l.m = make(map[int]T)
	}
	id := l.next
	l.next++
	l.m[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.m, id)
	}
}

func (l *listenerSet[T]) snapshot() []T {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]T, 0, len(l.m))
	for _, fn := range l.m {
		out = append(out, fn)
	}
	return out
}
