// SPDX-License-Identifier: MIT
//
// Package fault defines the unrecoverable error class of the measurement engine.
// A fault means the real-time pipeline or its memory layout can no longer be
// trusted: the caller must stop measuring and hand the error to the top-level
// supervisor, which shuts the station down in a controlled way.
package fault

import (
	"errors"
	"fmt"
)

// Sentinel causes carried by a fault Error.
var (
	ErrQueueOverflow  = errors.New("capture queue backlog exceeded its bound")
	ErrNilBuffer      = errors.New("nil buffer handed to a processing step")
	ErrBlockSize      = errors.New("block length does not match the configured block size")
	ErrBadChannel     = errors.New("channel index out of range")
	ErrBadConfig      = errors.New("malformed configuration constant")
	ErrCaptureStalled = errors.New("capture stream stalled")
	ErrPlayback       = errors.New("playback queue rejected a block")
)

// Error is an invariant violation. It wraps one of the sentinel causes above.
type Error struct {
	Op  string // Operation that detected the violation, e.g. "pipeline.cycle".
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fatal: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps cause as a fault raised by op.
func New(op string, cause error) *Error {
	return &Error{Op: op, Err: cause}
}

// Newf wraps cause with extra formatted context.
func Newf(op string, cause error, format string, args ...any) *Error {
	return &Error{Op: op, Err: fmt.Errorf("%w: %s", cause, fmt.Sprintf(format, args...))}
}

// IsFatal reports whether err, or anything it wraps, is a fault Error.
func IsFatal(err error) bool {
	var fe *Error
	return errors.As(err, &fe)
}
