package apierr

import (
	"fmt"
	"strings"
)

// Kind identifies the failure class of an exchange.
type Kind int

const (
	// KindBase is the catch-all for statuses with no dedicated class.
	KindBase Kind = iota

	// KindNetwork means no response was produced (connection, timeout).
	KindNetwork

	// KindServer covers 500 and 502.
	KindServer

	// KindValidation covers 400, 404 and 422, with field messages
	// extracted from the body.
	KindValidation

	// KindUnauthorized covers 401.
	KindUnauthorized

	// KindForbidden covers 403.
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindServer:
		return "server"
	case KindValidation:
		return "validation"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	default:
		return "base"
	}
}

// Error is one classified exchange failure. It is created once per
// failed exchange and returned to the caller as a value; non-silent
// records are additionally published on the Stream.
type Error struct {
	Kind       Kind
	StatusCode int // 0 when no response was produced

	// Messages are human-readable failure messages.
	Messages []string

	// Fields maps field names to validation messages (KindValidation).
	Fields map[string][]string

	// Silent suppresses stream publication for this record only.
	Silent bool

	// Cause is the underlying transport error, if any.
	Cause error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "apierr: %s", e.Kind)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if len(e.Messages) > 0 {
		fmt.Fprintf(&b, ": %s", strings.Join(e.Messages, "; "))
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Unwrap returns the underlying transport error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is supports errors.Is matching on kind via sentinel records.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}
