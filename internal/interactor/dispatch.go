package interactor

import (
	"sync"
)

// Dispatcher delivers completion callbacks on the context that owns the
// caller's state, such as a UI goroutine.
type Dispatcher interface {
	Dispatch(fn func())
}

// DispatchFunc adapts a function to Dispatcher.
type DispatchFunc func(fn func())

// Dispatch implements Dispatcher.
func (f DispatchFunc) Dispatch(fn func()) { f(fn) }

// Inline runs callbacks on the goroutine that produced the result.
var Inline Dispatcher = DispatchFunc(func(fn func()) { fn() })

// SerialDispatcher runs callbacks one at a time, in submission order, on
// its own goroutine.
type SerialDispatcher struct {
	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	closed bool
	done   chan struct{}
}

// NewSerialDispatcher starts the delivery goroutine.
func NewSerialDispatcher() *SerialDispatcher {
	d := &SerialDispatcher{wake: make(chan struct{}, 1), done: make(chan struct{})}
	go d.loop()
	return d
}

// Dispatch queues fn. It never blocks. Callbacks dispatched after Close
// are dropped.
func (d *SerialDispatcher) Dispatch(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.queue = append(d.queue, fn)
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Close delivers what is queued and stops the goroutine.
func (d *SerialDispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.wake)
	}
	d.mu.Unlock()
	<-d.done
}

func (d *SerialDispatcher) loop() {
	defer close(d.done)
	for {
		d.mu.Lock()
		batch := d.queue
		d.queue = nil
		closed := d.closed
		d.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-d.wake
	}
}
