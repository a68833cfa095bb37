// Package errs defines the error taxonomy shared by every component of the
// cache core, and the fail-fast assertion helpers used to guard invariants
// the authors consider unreachable.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package errs

import (
	"fmt"

	"github.com/golang/glog"
)

// Kind classifies an error the way the DB `BEGIN` wrapper and the worker
// queues need to: not by Go type, but by the recovery action it implies.
type Kind int

const (
	// KindNone is the zero value; never returned.
	KindNone Kind = iota
	// KindBusy means the engine reports BUSY: the writer lock is held
	// elsewhere. Retried with back-off.
	KindBusy
	// KindLocked means the engine reports LOCKED: a conflicting statement
	// is mid-flight in the same connection. Retried with back-off.
	KindLocked
	// KindFull means the engine or the filesystem is out of space. WithTx
	// does not retry it, and no component runs a force_gc in response.
	KindFull
	// KindIOErr means a read/write/stat/rename failed for a reason other
	// than ENOSPC. The current transaction rolls back.
	KindIOErr
	// KindNotFound means the requested row/file does not exist. Not an
	// error for "remove" style operations (treated as success).
	KindNotFound
	// KindSchemaDrift names a prepared statement whose declared bound
	// parameters didn't match what the component will bind. No code in
	// this module returns it; dbkit's Bundle checks report plain errors.
	KindSchemaDrift
)

func (k Kind) String() string {
	switch k {
	case KindBusy:
		return "busy"
	case KindLocked:
		return "locked"
	case KindFull:
		return "full"
	case KindIOErr:
		return "ioerr"
	case KindNotFound:
		return "not-found"
	case KindSchemaDrift:
		return "schema-drift"
	default:
		return "none"
	}
}

// Error is a kind-tagged error. Components switch on Kind(), never on the
// underlying cause, so that the retry/propagation rules stay in one place.
type Error struct {
	kind  Kind
	cause error
	msg   string
}

func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

func Wrap(kind Kind, cause error, msg string) *Error {
	return &Error{kind: kind, cause: cause, msg: msg}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.cause)
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Kind() Kind { return e.kind }

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.kind == kind
}

func NotFound(collection, key string) *Error {
	return New(KindNotFound, fmt.Sprintf("%s: %q not found", collection, key))
}

// Assert aborts the process if cond is false. Reserved for invariants the
// authors consider unreachable; never used for conditions a caller can
// trigger (those return a typed *Error instead).
func Assert(cond bool) {
	if !cond {
		glog.Fatalln("assertion failed")
	}
}

// AssertMsg is Assert with an explanatory message, logged before the fatal
// exit so the invariant that broke is visible in the daemon's log.
func AssertMsg(cond bool, msg string) {
	if !cond {
		glog.Fatalln("assertion failed:", msg)
	}
}
