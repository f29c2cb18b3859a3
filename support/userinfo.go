package support

import "sync"

// UserChange describes a user lifecycle event.
type UserChange int

const (
	UserCurrentChanged UserChange = iota
	UserStarted
	UserStopped
)

// UserInfo exposes the running users and the current (foreground) user.
type UserInfo interface {
	RunningUserIDs() []int
	IsCurrentUser(userID int) bool
	OnUserChanged(fn func(userID int, change UserChange)) (cancel func())
}

// NewUsers returns an in-memory UserInfo with the given user running and
// current.
func NewUsers(current int) *Users {
	return &Users{
		running: map[int]bool{current: true},
		current: current,
	}
}

// Users is the in-memory UserInfo implementation.
type Users struct {
	mu        sync.Mutex
	running   map[int]bool
	current   int
	listeners listenerSet[func(int, UserChange)]
}

func (u *Users) RunningUserIDs() []int {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]int, 0, len(u.running))
	for id := range u.running {
		out = append(out, id)
	}
	return out
}

func (u *Users) IsCurrentUser(userID int) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return userID == u.current
}

func (u *Users) OnUserChanged(fn func(int, UserChange)) func() {
	return u.listeners.add(fn)
}

// StartUser marks a user as running and notifies listeners.
func (u *Users) StartUser(userID int) {
	u.mu.Lock()
	if u.running[userID] {
		u.mu.Unlock()
		return
	}
	u.running[userID] = true
	u.mu.Unlock()

	u.notify(userID, UserStarted)
}

// StopUser marks a user as stopped and notifies listeners.
func (u *Users) StopUser(userID int) {
	u.mu.Lock()
	if !u.running[userID] {
		u.mu.Unlock()
		return
	}
	delete(u.running, userID)
	u.mu.Unlock()

	u.notify(userID, UserStopped)
}

// SetCurrentUser switches the foreground user; both the old and the new
// current user are notified.
func (u *Users) SetCurrentUser(userID int) {
	u.mu.Lock()
	old := u.current
	if old == userID {
		u.mu.Unlock()
		return
	}
	u.current = userID
	u.running[userID] = true
	u.mu.Unlock()

	u.notify(old, UserCurrentChanged)
	u.notify(userID, UserCurrentChanged)
}

func (u *Users) notify(userID int, change UserChange) {
	for _, fn := range u.listeners.snapshot() {
		fn(userID, change)
	}
}
