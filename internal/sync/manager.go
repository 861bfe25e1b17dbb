// Package sync replays dirty cache entries against the remote, one entry at
// a time across the whole store.
//
// Each cache collection is a tag. A Synchronizer registered for the tag
// replays one entry and ends it with Replay.Done or Replay.Fail; entries
// whose tag has no synchronizer are skipped.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/marcus/offsync/internal/cache"
	"github.com/marcus/offsync/internal/forms"
	"github.com/marcus/offsync/internal/portrait"
	"github.com/marcus/offsync/internal/session"
	"github.com/marcus/offsync/internal/strategy"
	"golang.org/x/sync/semaphore"
)

// Synchronizer replays one entry. It must end r exactly once, from any
// goroutine.
type Synchronizer func(ctx context.Context, r *Replay)

// Manager runs sync passes. Passes are serialized in start order; within a
// pass entries replay strictly one after another.
type Manager struct {
	session  *session.Context
	store    *cache.Store
	engine   *strategy.Engine
	delegate Delegate
	logger   *slog.Logger

	mu            sync.RWMutex
	synchronizers map[string]Synchronizer

	// worker admits one pass at a time, FIFO.
	worker *semaphore.Weighted
}

// NewManager returns a manager with the record and portrait synchronizers
// registered. A nil delegate resolves every conflict with Ignore.
func NewManager(sc *session.Context, engine *strategy.Engine, delegate Delegate, logger *slog.Logger) *Manager {
	if delegate == nil {
		delegate = Events{}
	}
	if logger == nil {
		logger = sc.Logger()
	}
	m := &Manager{
		session:       sc,
		store:         sc.Cache(),
		engine:        engine,
		delegate:      delegate,
		logger:        logger,
		synchronizers: make(map[string]Synchronizer),
		worker:        semaphore.NewWeighted(1),
	}
	m.Register(forms.Collection, m.syncForm)
	m.Register(portrait.Collection, m.syncPortrait)
	return m
}

// Register installs fn for tag, replacing any previous one.
func (m *Manager) Register(tag string, fn Synchronizer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fn == nil {
		delete(m.synchronizers, tag)
		return
	}
	m.synchronizers[tag] = fn
}

func (m *Manager) synchronizer(tag string) Synchronizer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.synchronizers[tag]
}

// Pass is a sync pass started with StartSync.
type Pass struct {
	done   chan struct{}
	report Report
}

// Done is closed when the pass has finished.
func (p *Pass) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the pass has finished and returns its report.
func (p *Pass) Wait() Report {
	<-p.done
	return p.report
}

// StartSync begins a pass in the background. Cancelling ctx stops the pass
// after the entry in flight, if any, has ended.
func (m *Manager) StartSync(ctx context.Context) *Pass {
	p := &Pass{done: make(chan struct{})}
	go func() {
		defer close(p.done)
		p.report = m.Sync(ctx)
	}()
	return p
}

// Sync runs one pass and returns its report.
func (m *Manager) Sync(ctx context.Context) Report {
	if err := m.worker.Acquire(ctx, 1); err != nil {
		return Report{Err: fmt.Errorf("sync: %w", err)}
	}
	defer m.worker.Release(1)
	return m.pass(ctx)
}

func (m *Manager) pass(ctx context.Context) Report {
	var rep Report

	n, err := m.store.CountPending(ctx)
	if err != nil {
		rep.Err = fmt.Errorf("sync: count pending: %w", err)
		return rep
	}
	rep.Count = n
	m.delegate.OnCount(n)
	if n == 0 {
		return rep
	}

	var entries []cache.Pending
	err = m.store.ForEachPending(ctx, func(p cache.Pending) bool {
		entries = append(entries, p)
		return true
	})
	if err != nil {
		rep.Err = fmt.Errorf("sync: list pending: %w", err)
		return rep
	}

	m.logger.Debug("sync: pass start", "pending", len(entries))
	for _, p := range entries {
		if err := ctx.Err(); err != nil {
			rep.Err = fmt.Errorf("sync: %w", err)
			break
		}
		fn := m.synchronizer(p.Collection)
		if fn == nil {
			rep.Skipped++
			continue
		}

		r := newReplay(ctx, m, p)
		m.delegate.OnItemStart(r.Tag, r.Key, r.Attributes)
		fn(ctx, r)
		r.wait()

		if r.conflicted.Load() {
			rep.Conflicts++
		}
		switch r.result {
		case outcomeDone:
			rep.Done++
		case outcomeFailed:
			rep.Failed++
		}
	}
	m.logger.Debug("sync: pass end", "done", rep.Done, "failed", rep.Failed, "conflicts", rep.Conflicts, "skipped", rep.Skipped)
	return rep
}

// Clear waits for any running pass and wipes the whole store.
func (m *Manager) Clear(ctx context.Context) error {
	if err := m.worker.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("sync: clear: %w", err)
	}
	defer m.worker.Release(1)
	return m.store.RemoveAll(ctx)
}
