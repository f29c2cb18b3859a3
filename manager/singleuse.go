package manager

import "sync/atomic"

// singleUse wraps a function so it runs at most once no matter how many
// times, or from how many goroutines, Run is invoked. Delivery completion
// callbacks that release wakelocks go through this.
type singleUse struct {
	fn atomic.Pointer[func()]
}

func newSingleUse(fn func()) *singleUse {
	s := &singleUse{}
	s.fn.Store(&fn)
	return s
}

// Run invokes the wrapped function if it has not run yet. Reports whether
// this call was the one that ran it.
func (s *singleUse) Run() bool {
	fn := s.fn.Swap(nil)
	if fn == nil {
		return false
	}
	(*fn)()
	return true
}
