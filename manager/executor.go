package manager

import "sync"

// Executor runs delivery closures built under the manager lock. Closures
// may re-acquire the lock, so they must never run while it is held.
type Executor interface {
	Execute(fn func())
}

// DirectExecutor runs closures inline on the calling goroutine. Tests use
// it to make deliveries synchronous and deterministic.
type DirectExecutor struct{}

func (DirectExecutor) Execute(fn func()) { fn() }

// SerialExecutor runs closures FIFO on a single background goroutine,
// preserving per-registration delivery order.
type SerialExecutor struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	done   chan struct{}
}

// NewSerialExecutor starts the executor goroutine.
func NewSerialExecutor() *SerialExecutor {
	e := &SerialExecutor{done: make(chan struct{})}
	e.cond = sync.NewCond(&e.mu)
	go e.run()
	return e
}

// Execute enqueues fn. Closures enqueued after Close are dropped.
func (e *SerialExecutor) Execute(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.queue = append(e.queue, fn)
	e.cond.Signal()
}

// Close drains the pending queue and stops the goroutine.
func (e *SerialExecutor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		<-e.done
		return
	}
	e.closed = true
	e.cond.Signal()
	e.mu.Unlock()
	<-e.done
}

func (e *SerialExecutor) run() {
	defer close(e.done)
	for {
		e.mu.Lock()
		for len(e.queue) == 0 && !e.closed {
			e.cond.Wait()
		}
		if len(e.queue) == 0 && e.closed {
			e.mu.Unlock()
			return
		}
		fn := e.queue[0]
		e.queue = e.queue[1:]
		e.mu.Unlock()

		fn()
	}
}
