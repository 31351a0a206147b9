package transport

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind distinguishes transport-level failure modes.
type ErrorKind int

const (
	// KindConnection covers connection-level failures: refused,
	// reset, no route to host, DNS resolution.
	KindConnection ErrorKind = iota

	// KindTimeout covers deadline and I/O timeouts.
	KindTimeout

	// KindCanceled means the caller's context was canceled.
	KindCanceled
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindTimeout:
		return "timeout"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Error is a typed transport failure. It is returned only when no
// response was produced.
type Error struct {
	Kind  ErrorKind
	Op    string // "send", "read body"
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("transport: %s failed (%s): %v", e.Op, e.Kind, e.Cause)
	}
	return fmt.Sprintf("transport: %s failed (%s)", e.Op, e.Kind)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Timeout reports whether the error is a timeout.
func (e *Error) Timeout() bool {
	return e.Kind == KindTimeout
}

// AsError extracts a *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// IsRetryableError reports whether err is a transport error of a kind
// that may succeed on replay (connection or timeout, never canceled).
func IsRetryableError(err error) bool {
	te, ok := AsError(err)
	if !ok {
		return false
	}
	return te.Kind == KindConnection || te.Kind == KindTimeout
}

// newError classifies a raw error from the underlying client.
func newError(ctx context.Context, op string, cause error) *Error {
	kind := KindConnection
	switch {
	case ctx.Err() != nil && errors.Is(cause, context.Canceled):
		kind = KindCanceled
	case errors.Is(cause, context.DeadlineExceeded):
		kind = KindTimeout
	case isTimeout(cause):
		kind = KindTimeout
	}
	return &Error{Kind: kind, Op: op, Cause: cause}
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
