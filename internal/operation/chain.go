package operation

import (
	"context"
	"sync"

	"github.com/marcus/offsync/internal/errkind"
	"github.com/marcus/offsync/internal/session"
)

// NextFunc builds step n (n >= 1) from the finished previous step. Returning
// nil ends the chain.
type NextFunc func(prev Operation, step int) Operation

// Chain runs dependent operations in sequence as one queued unit. Each step
// is built from the result of the one before it.
type Chain struct {
	head Operation
	next NextFunc

	mu      sync.Mutex
	current Operation
}

// NewChain returns a chain starting at head.
func NewChain(head Operation, next NextFunc) *Chain {
	return &Chain{head: head, next: next, current: head}
}

// Head returns the first step.
func (c *Chain) Head() Operation {
	return c.head
}

// Current returns the step running now, or the last step once finished.
func (c *Chain) Current() Operation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Name implements Namer.
func (c *Chain) Name() string {
	return "chain(" + NameOf(c.head) + ")"
}

// Validate validates the head step only; later steps do not exist yet.
func (c *Chain) Validate() error {
	return c.head.Validate()
}

// PreRun delegates to the head step.
func (c *Chain) PreRun() bool {
	if p, ok := c.head.(PreRunner); ok {
		return p.PreRun()
	}
	return true
}

// Run runs each step in turn, stopping at the first error.
func (c *Chain) Run(ctx context.Context, s *session.Session) error {
	op := c.head
	for step := 0; ; step++ {
		if step > 0 {
			if err := op.Validate(); err != nil {
				return errkind.Wrap(errkind.ValidationFailed, err)
			}
		}
		c.mu.Lock()
		c.current = op
		c.mu.Unlock()

		if err := op.Run(ctx, s); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return errkind.Wrap(errkind.Cancelled, ctx.Err())
		}
		if c.next == nil {
			return nil
		}
		nxt := c.next(op, step+1)
		if nxt == nil {
			return nil
		}
		op = nxt
	}
}
