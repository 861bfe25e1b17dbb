package operation

import (
	"context"
	"errors"
	"testing"

	"github.com/marcus/offsync/internal/errkind"
	"github.com/marcus/offsync/internal/session"
)

type counterOp struct {
	in     int
	result int
	fail   bool
	valid  bool
}

func (o *counterOp) Validate() error {
	if !o.valid {
		return errors.New("invalid step")
	}
	return nil
}

func (o *counterOp) Run(ctx context.Context, s *session.Session) error {
	if o.fail {
		return errkind.New(errkind.NotAvailable, "offline")
	}
	o.result = o.in * 2
	return nil
}

func TestChainFeedsResults(t *testing.T) {
	head := &counterOp{in: 1, valid: true}
	c := NewChain(head, func(prev Operation, step int) Operation {
		if step > 2 {
			return nil
		}
		return &counterOp{in: prev.(*counterOp).result, valid: true}
	})

	q := newTestQueue(t)
	task, err := q.Enqueue(c)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := waitTask(t, task); err != nil {
		t.Fatalf("chain: %v", err)
	}

	if c.Head() != head || head.result != 2 {
		t.Fatalf("head result: got %d", head.result)
	}
	last := c.Current().(*counterOp)
	if last.result != 8 {
		t.Fatalf("last result: got %d, want 8", last.result)
	}
}

func TestChainStopsOnError(t *testing.T) {
	calls := 0
	c := NewChain(&counterOp{in: 1, valid: true, fail: true}, func(prev Operation, step int) Operation {
		calls++
		return &counterOp{valid: true}
	})
	err := c.Run(context.Background(), &session.Session{})
	if !errkind.Is(err, errkind.NotAvailable) {
		t.Fatalf("got %v, want not_available", err)
	}
	if calls != 0 {
		t.Fatal("next step built after failure")
	}
}

func TestChainValidatesLaterSteps(t *testing.T) {
	c := NewChain(&counterOp{in: 1, valid: true}, func(prev Operation, step int) Operation {
		if step == 1 {
			return &counterOp{valid: false}
		}
		return nil
	})
	err := c.Run(context.Background(), &session.Session{})
	if !errkind.Is(err, errkind.ValidationFailed) {
		t.Fatalf("got %v, want validation_failed", err)
	}
}

func TestChainName(t *testing.T) {
	c := NewChain(&counterOp{valid: true}, nil)
	if got := c.Name(); got != "chain(*operation.counterOp)" {
		t.Fatalf("Name: got %q", got)
	}
	if !c.PreRun() {
		t.Fatal("PreRun without PreRunner head should be true")
	}
}
