package provider

import (
	"errors"
	"fmt"
)

// ErrFlagRequiresRemote is wrapped by RemoteRequiredError. Callers that want
// to build a remote-resolve fallback can test for it with errors.Is; this
// module does not implement the fallback itself.
var ErrFlagRequiresRemote = errors.New("provider: flag requires remote resolve")

// RemoteRequiredError reports that the guest returned its "missing
// materializations" response variant for FlagKey: the guest cannot answer
// locally.
type RemoteRequiredError struct {
	FlagKey string
}

func (e *RemoteRequiredError) Error() string {
	return fmt.Sprintf("provider: flag %q requires remote resolve (missing materialization)", e.FlagKey)
}

func (e *RemoteRequiredError) Unwrap() error { return ErrFlagRequiresRemote }

// ErrFlagNotFound is wrapped by FlagNotFoundError.
var ErrFlagNotFound = errors.New("provider: flag not found")

// FlagNotFoundError reports that the guest's response did not include
// FlagKey among its resolved flags.
type FlagNotFoundError struct {
	FlagKey string
}

func (e *FlagNotFoundError) Error() string {
	return fmt.Sprintf("provider: flag %q not found", e.FlagKey)
}

func (e *FlagNotFoundError) Unwrap() error { return ErrFlagNotFound }
