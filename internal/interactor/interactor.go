// Package interactor runs one request through a cache strategy and reports a
// single terminal outcome to the caller.
package interactor

import (
	"context"
	"sync"

	"github.com/marcus/offsync/internal/errkind"
	"github.com/marcus/offsync/internal/strategy"
)

// Interactor runs requests under one strategy. A nil Dispatcher delivers
// callbacks inline. Cancel applies to the most recently started request.
type Interactor struct {
	Engine *strategy.Engine
	// Strategy overrides Policy when set.
	Strategy   strategy.Strategy
	Policy     strategy.Policy
	Dispatcher Dispatcher

	OnSuccess func(c *strategy.Call)
	OnFailure func(err error)

	mu     sync.Mutex
	cancel context.CancelFunc
}

func (i *Interactor) strategy() strategy.Strategy {
	if i.Strategy != nil {
		return i.Strategy
	}
	return strategy.For(i.Policy)
}

func (i *Interactor) dispatcher() Dispatcher {
	if i.Dispatcher != nil {
		return i.Dispatcher
	}
	return Inline
}

// Run executes req synchronously and returns the call and its error.
func (i *Interactor) Run(ctx context.Context, req strategy.Request) (*strategy.Call, error) {
	ctx, cancel := context.WithCancel(ctx)
	i.mu.Lock()
	i.cancel = cancel
	i.mu.Unlock()
	defer func() {
		i.mu.Lock()
		i.cancel = nil
		i.mu.Unlock()
		cancel()
	}()

	c := i.Engine.NewCall(req)
	err := i.strategy()(ctx, c)
	if err == nil && ctx.Err() != nil {
		err = errkind.Wrap(errkind.Cancelled, ctx.Err())
	}
	return c, err
}

// Start runs req in the background and delivers exactly one of OnSuccess or
// OnFailure through the dispatcher. It returns false, after failing with
// AbortedDueToPreconditions, when req cannot build a remote operation.
func (i *Interactor) Start(ctx context.Context, req strategy.Request) bool {
	if req.Operation() == nil {
		i.fail(errkind.New(errkind.AbortedDueToPreconditions, "request has no remote operation"))
		return false
	}

	go func() {
		c, err := i.Run(ctx, req)
		if err != nil {
			i.fail(err)
			return
		}
		i.succeed(c)
	}()
	return true
}

// Cancel cancels the request in flight, if any. Its remote operation ends
// Cancelled; cache writes already issued still complete.
func (i *Interactor) Cancel() {
	i.mu.Lock()
	cancel := i.cancel
	i.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (i *Interactor) succeed(c *strategy.Call) {
	if i.OnSuccess == nil {
		return
	}
	i.dispatcher().Dispatch(func() { i.OnSuccess(c) })
}

func (i *Interactor) fail(err error) {
	if i.OnFailure == nil {
		return
	}
	i.dispatcher().Dispatch(func() { i.OnFailure(err) })
}
