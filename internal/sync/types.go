package sync

import (
	"fmt"
	"strings"

	"github.com/marcus/offsync/internal/cache"
)

// Resolution is the caller's choice for a conflicted entry.
type Resolution int

const (
	// Ignore leaves the entry dirty and fails it for this pass.
	Ignore Resolution = iota
	// UseLocal sends the local version over the remote one.
	UseLocal
	// UseRemote overwrites the local entry with the remote version, clean.
	UseRemote
	// Discard removes the local entry.
	Discard
)

var resolutionNames = [...]string{
	Ignore:    "ignore",
	UseLocal:  "use-local",
	UseRemote: "use-remote",
	Discard:   "discard",
}

// Resolutions lists every resolution in flag order.
var Resolutions = []Resolution{Ignore, UseLocal, UseRemote, Discard}

func (r Resolution) String() string {
	if r < 0 || int(r) >= len(resolutionNames) {
		return fmt.Sprintf("resolution(%d)", int(r))
	}
	return resolutionNames[r]
}

// ParseResolution accepts the flag spellings plus underscore and camel case
// variants ("use_local", "useLocal").
func ParseResolution(s string) (Resolution, error) {
	norm := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", "-"))
	switch norm {
	case "", "ignore":
		return Ignore, nil
	case "use-local", "uselocal", "local":
		return UseLocal, nil
	case "use-remote", "useremote", "remote":
		return UseRemote, nil
	case "discard":
		return Discard, nil
	}
	return Ignore, fmt.Errorf("unknown resolution %q (want ignore, use-local, use-remote or discard)", s)
}

// Set implements pflag.Value.
func (r *Resolution) Set(s string) error {
	v, err := ParseResolution(s)
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// Type implements pflag.Value.
func (r *Resolution) Type() string { return "resolution" }

// Report summarises one sync pass.
type Report struct {
	Count     int
	Done      int
	Failed    int
	Conflicts int
	// Skipped counts entries with no registered synchronizer.
	Skipped int
	// Err is set when the pass could not enumerate the store or was
	// cancelled before every entry ran.
	Err error
}

// Delegate receives progress of a sync pass. Callbacks run on the sync
// worker, or on whichever goroutine a synchronizer signals from.
type Delegate interface {
	OnCount(n int)
	OnItemStart(tag, key string, attrs cache.Attributes)
	OnItemDone(tag, key string, attrs cache.Attributes)
	OnItemFailed(tag, key string, attrs cache.Attributes, err error)
	// OnItemConflict must call resolve exactly once. Later calls are ignored.
	OnItemConflict(tag, key string, remote, local any, resolve func(Resolution))
}

// Events adapts plain functions to a Delegate. Nil fields are skipped; a
// nil OnItemConflict resolves every conflict with Ignore.
type Events struct {
	Count     func(n int)
	ItemStart func(tag, key string, attrs cache.Attributes)
	ItemDone  func(tag, key string, attrs cache.Attributes)
	ItemFail  func(tag, key string, attrs cache.Attributes, err error)
	Conflict  func(tag, key string, remote, local any, resolve func(Resolution))
}

func (e Events) OnCount(n int) {
	if e.Count != nil {
		e.Count(n)
	}
}

func (e Events) OnItemStart(tag, key string, attrs cache.Attributes) {
	if e.ItemStart != nil {
		e.ItemStart(tag, key, attrs)
	}
}

func (e Events) OnItemDone(tag, key string, attrs cache.Attributes) {
	if e.ItemDone != nil {
		e.ItemDone(tag, key, attrs)
	}
}

func (e Events) OnItemFailed(tag, key string, attrs cache.Attributes, err error) {
	if e.ItemFail != nil {
		e.ItemFail(tag, key, attrs, err)
	}
}

func (e Events) OnItemConflict(tag, key string, remote, local any, resolve func(Resolution)) {
	if e.Conflict == nil {
		resolve(Ignore)
		return
	}
	e.Conflict(tag, key, remote, local, resolve)
}

// Resolver returns a delegate that answers every conflict with r.
func Resolver(r Resolution) Delegate {
	return Events{Conflict: func(_, _ string, _, _ any, resolve func(Resolution)) { resolve(r) }}
}
