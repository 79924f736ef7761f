package transfer

import (
	"errors"
	"fmt"
)

// ErrEmptySource is returned when the source yielded no bytes. The opened
// session is aborted and no object is created.
var ErrEmptySource = errors.New("source is empty")

// Error is a transfer failure after the upload session was opened.
// Cause is the failure that stopped the transfer. AbortErr is set when the
// cleanup that followed failed too; it never replaces Cause.
type Error struct {
	Cause    error
	AbortErr error
}

func (e *Error) Error() string {
	if e.AbortErr != nil {
		return fmt.Sprintf("%s (cleanup failed: %s)", e.Cause, e.AbortErr)
	}
	return e.Cause.Error()
}

func (e *Error) Unwrap() []error {
	if e.AbortErr != nil {
		return []error{e.Cause, e.AbortErr}
	}
	return []error{e.Cause}
}
