package operation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/marcus/offsync/internal/errkind"
	"github.com/marcus/offsync/internal/session"
)

// SessionProvider supplies the session an operation runs under.
// *session.Context implements it.
type SessionProvider interface {
	Current() (*session.Session, bool)
}

// Task tracks one enqueued operation.
type Task struct {
	op     Operation
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	state State
	err   error
}

func newTask(op Operation) *Task {
	ctx, cancel := context.WithCancel(context.Background())
	return &Task{op: op, ctx: ctx, cancel: cancel, done: make(chan struct{}), state: Validated}
}

// Operation returns the queued operation.
func (t *Task) Operation() Operation {
	return t.op
}

// State returns the current lifecycle state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Err returns the terminal error, or nil while running or on success.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Done is closed once the task reaches a terminal state.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Cancel requests cancellation. A task that has not started finishes
// Cancelled immediately; a running task has its context cancelled and
// finishes Cancelled when Run returns.
func (t *Task) Cancel() {
	t.mu.Lock()
	if t.state.Terminal() {
		t.mu.Unlock()
		return
	}
	if t.state < Running {
		t.settle(errkind.New(errkind.Cancelled, "cancelled before start"))
		t.mu.Unlock()
		t.release()
		return
	}
	t.mu.Unlock()
	t.cancel()
}

// Wait blocks until the task finishes and returns its error. If ctx ends
// first the task is cancelled and Wait still returns its terminal error.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
	case <-ctx.Done():
		t.Cancel()
		<-t.done
	}
	return t.Err()
}

// start moves the task to Running. It reports false if the task already
// finished.
func (t *Task) start() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Terminal() {
		return false
	}
	t.state = Running
	return true
}

// finish records the outcome once; later calls are ignored.
func (t *Task) finish(err error) {
	t.mu.Lock()
	if t.state.Terminal() {
		t.mu.Unlock()
		return
	}
	t.settle(err)
	t.mu.Unlock()
	t.release()
}

// settle sets the terminal state for err. t.mu must be held and the task
// must not be terminal yet.
func (t *Task) settle(err error) {
	switch {
	case err == nil:
		t.state = Succeeded
	case errkind.Is(err, errkind.Cancelled):
		t.state = Cancelled
	default:
		t.state = Failed
	}
	t.err = err
}

// release runs once, after settle.
func (t *Task) release() {
	t.cancel()
	close(t.done)
}

// Queue runs operations one at a time in enqueue order.
type Queue struct {
	sessions SessionProvider
	logger   *slog.Logger

	mu      sync.Mutex
	pending []*Task
	closed  bool
	wake    chan struct{}
	stopped chan struct{}
}

// NewQueue starts the worker. A nil logger means slog.Default().
func NewQueue(sessions SessionProvider, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		sessions: sessions,
		logger:   logger,
		wake:     make(chan struct{}, 1),
		stopped:  make(chan struct{}),
	}
	go q.loop()
	return q
}

// Enqueue validates op and queues it. A validation failure is returned as
// ValidationFailed and nothing is queued.
func (q *Queue) Enqueue(op Operation) (*Task, error) {
	if err := op.Validate(); err != nil {
		return nil, errkind.Wrap(errkind.ValidationFailed, err)
	}

	t := newTask(op)
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, errkind.New(errkind.AbortedDueToPreconditions, "operation queue closed")
	}
	q.pending = append(q.pending, t)
	select {
	case q.wake <- struct{}{}:
	default:
	}
	q.mu.Unlock()
	return t, nil
}

// Len returns the number of queued tasks not yet picked up.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close stops accepting work, runs what is already queued, and waits for
// the worker to exit.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.wake)
	}
	q.mu.Unlock()
	<-q.stopped
}

func (q *Queue) loop() {
	defer close(q.stopped)
	for {
		t, ok := q.next()
		if !ok {
			return
		}
		q.run(t)
	}
}

// next pops the head task, blocking until one is queued. ok is false once
// the queue is closed and drained.
func (q *Queue) next() (*Task, bool) {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			t := q.pending[0]
			q.pending[0] = nil
			q.pending = q.pending[1:]
			q.mu.Unlock()
			return t, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, false
		}
		<-q.wake
	}
}

func (q *Queue) run(t *Task) {
	name := NameOf(t.op)
	if !t.start() {
		q.logger.Debug("operation: skipped", "op", name, "state", t.State())
		return
	}

	if p, ok := t.op.(PreRunner); ok && !p.PreRun() {
		t.finish(errkind.New(errkind.AbortedDueToPreconditions, "precondition not met"))
		return
	}
	s, ok := q.sessions.Current()
	if !ok {
		t.finish(errkind.New(errkind.AbortedDueToPreconditions, "no session"))
		return
	}

	start := time.Now()
	err := t.op.Run(t.ctx, s)
	if t.ctx.Err() != nil && err != nil {
		err = errkind.Wrap(errkind.Cancelled, err)
	} else if t.ctx.Err() != nil {
		err = errkind.New(errkind.Cancelled, "cancelled")
	}
	err = errkind.Normalize(err)
	t.finish(err)

	q.logger.Debug("operation: finished", "op", name, "state", t.State(), "elapsed", time.Since(start))
}
