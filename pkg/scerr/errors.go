// Package scerr defines the error-kind taxonomy the core surfaces to its
// collaborators (spec.md §7). Every error that crosses a component
// boundary is classifiable into one of these kinds so the HTTP surface
// can map it to a status code without inspecting error strings.
package scerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the purpose of the HTTP surface's status
// mapping. It is never used for control flow inside the core itself.
type Kind string

const (
	NotFound       Kind = "not_found"
	Unauthorized   Kind = "unauthorized"
	Forbidden      Kind = "forbidden"
	InvalidInput   Kind = "invalid_input"
	StoreTransient Kind = "store_transient"
	StorePermanent Kind = "store_permanent"
	Internal       Kind = "internal"
)

// Error wraps an underlying cause with a classification.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "docstore.Put"
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a classified error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds a classified error from a format string.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the Kind from err, defaulting to Internal for
// unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// InvalidUpdate is the specific InvalidInput error DocState.apply_update
// returns when the CRDT fails to decode an incoming update (spec §4.3).
func InvalidUpdate(op string, err error) *Error {
	return New(InvalidInput, op, fmt.Errorf("invalid update: %w", err))
}
