// Package errkind defines the error taxonomy shared by the cache, the
// strategy engine, remote operations and the synchronizer.
//
// Only NotAvailable triggers a cache-strategy fallback. Every other kind is
// terminal and must reach the caller unchanged.
package errkind

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// Kind classifies an error independently of the transport that produced it.
type Kind int

const (
	Unknown Kind = iota
	// NotAvailable means the resource is absent locally or the network is unreachable.
	NotAvailable
	// ValidationFailed means an input check failed before any I/O.
	ValidationFailed
	// AbortedDueToPreconditions means required session or state is missing.
	AbortedDueToPreconditions
	// InvalidServerResponse means the remote returned structurally bad data.
	InvalidServerResponse
	// Cancelled means the caller cancelled the operation before completion.
	Cancelled
	// Rejected means the server explicitly refused the request.
	Rejected
)

var kindNames = map[Kind]string{
	Unknown:                   "unknown",
	NotAvailable:              "not_available",
	ValidationFailed:          "validation_failed",
	AbortedDueToPreconditions: "aborted_due_to_preconditions",
	InvalidServerResponse:     "invalid_server_response",
	Cancelled:                 "cancelled",
	Rejected:                  "rejected",
}

// String returns the snake_case name of the kind.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error lets a bare Kind be used as an errors.Is target.
func (k Kind) Error() string {
	return k.String()
}

// Error is an error tagged with a Kind.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports a match against another *Error of the same kind or a bare Kind.
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case Kind:
		return e.Kind == t
	case *Error:
		return e.Kind == t.Kind && (t.Msg == "" || t.Msg == e.Msg)
	}
	return false
}

// New returns an error of the given kind with a message.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf is New with formatting.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap tags err with kind. A nil err yields nil. An error whose outermost
// kind already equals kind is returned as is.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	var ke *Error
	if errors.As(err, &ke) && ke.Kind == kind {
		return err
	}
	return &Error{Kind: kind, Err: err}
}

// Of returns the kind carried by err, or Unknown.
func Of(err error) Kind {
	if err == nil {
		return Unknown
	}
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return Unknown
}

// Is reports whether err carries kind.
func Is(err error, kind Kind) bool {
	return err != nil && Of(err) == kind
}

// Normalize assigns a kind to untagged errors: context cancellation becomes
// Cancelled, transport failures become NotAvailable. Tagged errors and
// anything else are returned unchanged.
func Normalize(err error) error {
	if err == nil || Of(err) != Unknown {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return Wrap(Cancelled, err)
	}
	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &netErr) || errors.As(err, &urlErr) || errors.Is(err, context.DeadlineExceeded) {
		return Wrap(NotAvailable, err)
	}
	return err
}
