package lib

import (
	"context"
	"errors"

	"github.com/gravitational/trace"
)

// IsCanceled reports whether err comes from a cancelled context.
func IsCanceled(err error) bool {
	return errors.Is(trace.Unwrap(err), context.Canceled) || errors.Is(err, context.Canceled)
}

// IsDeadline reports whether err is a timeout, either an expired context
// or a network timeout.
func IsDeadline(err error) bool {
	if errors.Is(trace.Unwrap(err), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var timeout interface{ Timeout() bool }
	return errors.As(trace.Unwrap(err), &timeout) && timeout.Timeout()
}
