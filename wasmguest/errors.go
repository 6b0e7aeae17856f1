package wasmguest

import (
	"errors"
	"fmt"
)

// TrapError reports that a guest call faulted. The instance that raised it
// is no longer usable; the Supervisor recovers by discarding it and
// reloading.
type TrapError struct {
	Operation string
	Err       error
}

func (e *TrapError) Error() string {
	return fmt.Sprintf("wasmguest: trap during %s: %v", e.Operation, e.Err)
}

func (e *TrapError) Unwrap() error { return e.Err }

// GuestError reports that the guest itself returned Response{error: ...}.
// The instance is healthy; this is an application-level error that the
// caller sees unchanged.
type GuestError struct {
	Operation string
	Message   string
}

func (e *GuestError) Error() string {
	return fmt.Sprintf("wasmguest: guest reported error during %s: %s", e.Operation, e.Message)
}

// EnvelopeError reports that a response could not be parsed as a well-formed
// envelope, or was the wrong variant. This is treated the same as a trap:
// the instance is presumed corrupt.
type EnvelopeError struct {
	Operation string
	Err       error
}

func (e *EnvelopeError) Error() string {
	return fmt.Sprintf("wasmguest: malformed envelope during %s: %v", e.Operation, e.Err)
}

func (e *EnvelopeError) Unwrap() error { return e.Err }

// IsFaultClass reports whether err belongs to the two classes that the
// Supervisor recovers from by reloading the guest instance: TrapError and
// EnvelopeError. GuestError is deliberately excluded — it is propagated
// unchanged without a reload.
func IsFaultClass(err error) bool {
	var trap *TrapError
	var env *EnvelopeError
	return errors.As(err, &trap) || errors.As(err, &env)
}
