package operation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marcus/offsync/internal/errkind"
	"github.com/marcus/offsync/internal/session"
)

type fakeOp struct {
	validate func() error
	run      func(ctx context.Context, s *session.Session) error
	preRun   *bool
}

func (o *fakeOp) Validate() error {
	if o.validate != nil {
		return o.validate()
	}
	return nil
}

func (o *fakeOp) Run(ctx context.Context, s *session.Session) error {
	if o.run != nil {
		return o.run(ctx, s)
	}
	return nil
}

type preRunOp struct {
	fakeOp
	ok bool
}

func (o *preRunOp) PreRun() bool { return o.ok }

type staticSessions struct{ s *session.Session }

func (p staticSessions) Current() (*session.Session, bool) {
	return p.s, p.s != nil
}

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	q := NewQueue(staticSessions{&session.Session{ServerURL: "http://example.test", UserID: 1}}, nil)
	t.Cleanup(q.Close)
	return q
}

func waitTask(t *testing.T, task *Task) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	select {
	case <-task.Done():
		return task.Err()
	case <-ctx.Done():
		t.Fatal("task did not finish")
		return nil
	}
}

func TestQueueRunsInOrderOneAtATime(t *testing.T) {
	q := newTestQueue(t)

	var (
		mu       sync.Mutex
		order    []int
		inFlight atomic.Int32
		maxSeen  atomic.Int32
	)
	var tasks []*Task
	for i := 0; i < 10; i++ {
		i := i
		task, err := q.Enqueue(&fakeOp{run: func(ctx context.Context, s *session.Session) error {
			n := inFlight.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(time.Millisecond)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			inFlight.Add(-1)
			return nil
		}})
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		tasks = append(tasks, task)
	}
	for _, task := range tasks {
		if err := waitTask(t, task); err != nil {
			t.Fatalf("task: %v", err)
		}
		if task.State() != Succeeded {
			t.Fatalf("state: got %v, want succeeded", task.State())
		}
	}
	if maxSeen.Load() != 1 {
		t.Fatalf("concurrency: saw %d in flight", maxSeen.Load())
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("order: got %v", order)
		}
	}
}

func TestQueueValidationFailure(t *testing.T) {
	q := newTestQueue(t)
	ran := false
	_, err := q.Enqueue(&fakeOp{
		validate: func() error { return errors.New("title required") },
		run: func(ctx context.Context, s *session.Session) error {
			ran = true
			return nil
		},
	})
	if !errkind.Is(err, errkind.ValidationFailed) {
		t.Fatalf("got %v, want validation_failed", err)
	}
	if q.Len() != 0 || ran {
		t.Fatal("invalid operation was queued")
	}
}

func TestQueueNoSession(t *testing.T) {
	q := NewQueue(staticSessions{}, nil)
	defer q.Close()

	task, err := q.Enqueue(&fakeOp{})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := waitTask(t, task); !errkind.Is(err, errkind.AbortedDueToPreconditions) {
		t.Fatalf("got %v, want aborted_due_to_preconditions", err)
	}
	if task.State() != Failed {
		t.Fatalf("state: got %v, want failed", task.State())
	}
}

func TestQueuePreRunFalse(t *testing.T) {
	q := newTestQueue(t)
	ran := false
	op := &preRunOp{fakeOp: fakeOp{run: func(context.Context, *session.Session) error {
		ran = true
		return nil
	}}}
	task, _ := q.Enqueue(op)
	if err := waitTask(t, task); !errkind.Is(err, errkind.AbortedDueToPreconditions) {
		t.Fatalf("got %v, want aborted_due_to_preconditions", err)
	}
	if ran {
		t.Fatal("Run called despite failed precondition")
	}
}

func TestQueueCancelBeforeStart(t *testing.T) {
	q := newTestQueue(t)

	release := make(chan struct{})
	blocker, _ := q.Enqueue(&fakeOp{run: func(ctx context.Context, s *session.Session) error {
		<-release
		return nil
	}})
	ran := false
	queued, _ := q.Enqueue(&fakeOp{run: func(context.Context, *session.Session) error {
		ran = true
		return nil
	}})

	queued.Cancel()
	if err := waitTask(t, queued); !errkind.Is(err, errkind.Cancelled) {
		t.Fatalf("got %v, want cancelled", err)
	}
	close(release)
	waitTask(t, blocker)

	q.Close()
	if ran {
		t.Fatal("cancelled task ran")
	}
	if queued.State() != Cancelled {
		t.Fatalf("state: got %v", queued.State())
	}
}

func TestTaskCancelRacesStart(t *testing.T) {
	for i := 0; i < 500; i++ {
		task := newTask(&fakeOp{})
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			task.Cancel()
		}()
		started := task.start()
		wg.Wait()

		state := task.State()
		if started && state != Running {
			t.Fatalf("iteration %d: start won but state is %v", i, state)
		}
		if !started && state != Cancelled {
			t.Fatalf("iteration %d: start lost but state is %v", i, state)
		}
		if started {
			task.finish(errkind.New(errkind.Cancelled, "cancelled"))
		}
		<-task.Done()
	}
}

func TestQueueCancelMidFlight(t *testing.T) {
	q := newTestQueue(t)

	started := make(chan struct{})
	task, _ := q.Enqueue(&fakeOp{run: func(ctx context.Context, s *session.Session) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}})
	<-started
	task.Cancel()

	if err := waitTask(t, task); !errkind.Is(err, errkind.Cancelled) {
		t.Fatalf("got %v, want cancelled", err)
	}
}

func TestTaskWaitCancelsOnContext(t *testing.T) {
	q := newTestQueue(t)

	started := make(chan struct{})
	task, _ := q.Enqueue(&fakeOp{run: func(ctx context.Context, s *session.Session) error {
		close(started)
		<-ctx.Done()
		return nil
	}})
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := task.Wait(ctx); !errkind.Is(err, errkind.Cancelled) {
		t.Fatalf("got %v, want cancelled", err)
	}
}

func TestQueueNormalizesTransportErrors(t *testing.T) {
	q := newTestQueue(t)
	task, _ := q.Enqueue(&fakeOp{run: func(context.Context, *session.Session) error {
		return context.DeadlineExceeded
	}})
	if err := waitTask(t, task); !errkind.Is(err, errkind.NotAvailable) {
		t.Fatalf("got %v, want not_available", err)
	}
}

func TestQueueClose(t *testing.T) {
	q := NewQueue(staticSessions{&session.Session{}}, nil)
	var ran atomic.Int32
	for i := 0; i < 3; i++ {
		q.Enqueue(&fakeOp{run: func(context.Context, *session.Session) error {
			ran.Add(1)
			return nil
		}})
	}
	q.Close()
	if ran.Load() != 3 {
		t.Fatalf("drained: ran %d, want 3", ran.Load())
	}
	if _, err := q.Enqueue(&fakeOp{}); !errkind.Is(err, errkind.AbortedDueToPreconditions) {
		t.Fatalf("enqueue after close: got %v", err)
	}
	q.Close()
}
