package sync

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/marcus/offsync/internal/cache"
)

type outcome int

const (
	outcomeNone outcome = iota
	outcomeDone
	outcomeFailed
)

// Replay is one dirty entry handed to a Synchronizer. Exactly one of Done or
// Fail ends it; the pass does not move on until one has been called. Calls
// after the first terminal are ignored.
type Replay struct {
	Tag        string
	Key        string
	Attributes cache.Attributes

	ctx context.Context
	m   *Manager

	once       sync.Once
	finished   chan struct{}
	result     outcome
	err        error
	conflicted atomic.Bool
}

func newReplay(ctx context.Context, m *Manager, p cache.Pending) *Replay {
	return &Replay{
		Tag:        p.Collection,
		Key:        p.Key,
		Attributes: p.Attributes,
		ctx:        ctx,
		m:          m,
		finished:   make(chan struct{}),
	}
}

// Done reports the entry as synchronized.
func (r *Replay) Done() {
	r.once.Do(func() {
		r.result = outcomeDone
		r.m.delegate.OnItemDone(r.Tag, r.Key, r.Attributes)
		close(r.finished)
	})
}

// Fail reports the entry as failed. It stays dirty for the next pass.
func (r *Replay) Fail(err error) {
	r.once.Do(func() {
		r.result = outcomeFailed
		r.err = err
		r.m.logger.Warn("sync: entry failed", "tag", r.Tag, "key", r.Key, "err", err)
		r.m.delegate.OnItemFailed(r.Tag, r.Key, r.Attributes, err)
		close(r.finished)
	})
}

// Conflict hands both versions to the delegate and passes its choice to
// resolve, once. resolve must end the replay with Done or Fail. A pass
// cancelled while waiting for a choice resolves with Ignore. Only the first
// Conflict call per replay has any effect.
func (r *Replay) Conflict(remote, local any, resolve func(Resolution)) {
	if !r.conflicted.CompareAndSwap(false, true) {
		return
	}
	var once sync.Once
	deliver := func(res Resolution) {
		once.Do(func() {
			r.m.logConflict(r, remote, local, res)
			resolve(res)
		})
	}
	go func() {
		select {
		case <-r.ctx.Done():
			deliver(Ignore)
		case <-r.finished:
		}
	}()
	r.m.delegate.OnItemConflict(r.Tag, r.Key, remote, local, deliver)
}

// Context is the pass context.
func (r *Replay) Context() context.Context {
	return r.ctx
}

func (r *Replay) wait() {
	<-r.finished
}

func (m *Manager) logConflict(r *Replay, remote, local any, res Resolution) {
	c := cache.Conflict{
		Collection: r.Tag,
		Key:        r.Key,
		LocalData:  marshalOrNull(local),
		RemoteData: marshalOrNull(remote),
		Resolution: res.String(),
	}
	if err := m.store.RecordConflict(context.WithoutCancel(r.ctx), c); err != nil {
		m.logger.Warn("sync: record conflict", "tag", r.Tag, "key", r.Key, "err", err)
	}
}

func marshalOrNull(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(data)
}
