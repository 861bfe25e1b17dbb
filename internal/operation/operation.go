// Package operation defines remote operations and the FIFO queue that runs
// them one at a time.
package operation

import (
	"context"
	"fmt"

	"github.com/marcus/offsync/internal/session"
)

// Operation is one unit of remote work. Validate must not perform I/O.
type Operation interface {
	Validate() error
	Run(ctx context.Context, s *session.Session) error
}

// PreRunner is implemented by operations with a last-moment precondition,
// checked on the worker right before Run.
type PreRunner interface {
	PreRun() bool
}

// Namer lets an operation name itself in logs.
type Namer interface {
	Name() string
}

// NameOf returns op's log name.
func NameOf(op Operation) string {
	if n, ok := op.(Namer); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", op)
}

// State is the lifecycle of a queued operation.
type State int

const (
	Created State = iota
	Validated
	Running
	Succeeded
	Failed
	Cancelled
)

var stateNames = [...]string{
	Created:   "created",
	Validated: "validated",
	Running:   "running",
	Succeeded: "succeeded",
	Failed:    "failed",
	Cancelled: "cancelled",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s >= Succeeded
}
