// Package strategy decides, per request, how the remote and the offline cache
// are combined: which runs first, and which runs when the other fails.
//
// A Strategy runs to completion and returns one error. Only errors of kind
// errkind.NotAvailable divert into a fallback branch; every other kind is
// returned to the caller as is.
package strategy

import (
	"context"
	"log/slog"
	"sync"

	"github.com/marcus/offsync/internal/errkind"
	"github.com/marcus/offsync/internal/operation"
	"golang.org/x/sync/errgroup"
)

// Request is one logical request a strategy can satisfy from the remote, the
// cache, or both.
type Request interface {
	// Operation builds the remote operation, or returns nil when the request
	// cannot be served remotely.
	Operation() operation.Operation
	// ReadFromCache loads the cached result. found is false on a miss.
	ReadFromCache(ctx context.Context) (found bool, err error)
	// WriteToCache stores the result. sent reports whether the remote step
	// of this call succeeded, which decides clean or dirty.
	WriteToCache(ctx context.Context, sent bool) error
}

// Strategy runs one Call.
type Strategy func(ctx context.Context, c *Call) error

// Engine owns the remote queue and the background cache writer.
type Engine struct {
	queue  *operation.Queue
	logger *slog.Logger

	mu     sync.Mutex
	writes *errgroup.Group
}

// NewEngine returns an engine sending remote operations through queue.
func NewEngine(queue *operation.Queue, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{queue: queue, logger: logger, writes: new(errgroup.Group)}
}

// Queue returns the remote operation queue.
func (e *Engine) Queue() *operation.Queue {
	return e.queue
}

// Run executes s for req and returns the call for inspection.
func (e *Engine) Run(ctx context.Context, s Strategy, req Request) (*Call, error) {
	c := e.NewCall(req)
	return c, s(ctx, c)
}

// NewCall binds req to the engine.
func (e *Engine) NewCall(req Request) *Call {
	return &Call{Request: req, Engine: e}
}

// Flush waits for every cache write issued so far and returns the first
// write error.
func (e *Engine) Flush() error {
	e.mu.Lock()
	g := e.writes
	e.writes = new(errgroup.Group)
	e.mu.Unlock()
	return g.Wait()
}

// background runs fn on the write group with a context that outlives
// cancellation of ctx.
func (e *Engine) background(ctx context.Context, fn func(ctx context.Context) error) {
	wctx := context.WithoutCancel(ctx)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.writes.Go(func() error {
		if err := fn(wctx); err != nil {
			e.logger.Warn("strategy: cache write failed", "err", err)
			return err
		}
		return nil
	})
}

// Call is the state of one strategy run.
type Call struct {
	Request Request
	Engine  *Engine

	mu   sync.Mutex
	sent bool
	task *operation.Task
}

// Sent reports whether the remote step succeeded.
func (c *Call) Sent() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent
}

// Task returns the last enqueued remote task, or nil.
func (c *Call) Task() *operation.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.task
}

// Remote validates and enqueues the request's operation and waits for it.
func Remote(ctx context.Context, c *Call) error {
	op := c.Request.Operation()
	if op == nil {
		return errkind.New(errkind.AbortedDueToPreconditions, "request has no remote operation")
	}
	task, err := c.Engine.queue.Enqueue(op)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.task = task
	c.mu.Unlock()

	if err := task.Wait(ctx); err != nil {
		return errkind.Normalize(err)
	}
	c.mu.Lock()
	c.sent = true
	c.mu.Unlock()
	return nil
}

// ReadFromCache succeeds when the request finds its result in the cache and
// fails with NotAvailable otherwise.
func ReadFromCache(ctx context.Context, c *Call) error {
	found, err := c.Request.ReadFromCache(ctx)
	if err != nil {
		if errkind.Of(err) == errkind.Unknown {
			return errkind.Wrap(errkind.NotAvailable, err)
		}
		return err
	}
	if !found {
		return errkind.New(errkind.NotAvailable, "not cached")
	}
	return nil
}

// WriteToCache succeeds immediately and stores the result in the background.
func WriteToCache(ctx context.Context, c *Call) error {
	sent := c.Sent()
	c.Engine.background(ctx, func(ctx context.Context) error {
		return c.Request.WriteToCache(ctx, sent)
	})
	return nil
}

// WhenFails runs fallback only when main fails with NotAvailable.
func WhenFails(main, fallback Strategy) Strategy {
	return func(ctx context.Context, c *Call) error {
		err := main(ctx, c)
		if errkind.Is(err, errkind.NotAvailable) {
			return fallback(ctx, c)
		}
		return err
	}
}

// WhenSucceeds runs next after main succeeds.
func WhenSucceeds(main, next Strategy) Strategy {
	return func(ctx context.Context, c *Call) error {
		if err := main(ctx, c); err != nil {
			return err
		}
		return next(ctx, c)
	}
}

// FirstThen runs second after first succeeds or fails with NotAvailable.
// The result is second's. Other failures of first skip second.
func FirstThen(first, second Strategy) Strategy {
	return func(ctx context.Context, c *Call) error {
		err := first(ctx, c)
		if err != nil && !errkind.Is(err, errkind.NotAvailable) {
			return err
		}
		return second(ctx, c)
	}
}
