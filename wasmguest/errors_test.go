package wasmguest

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsFaultClass(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"trap", &TrapError{Operation: "resolve", Err: fmt.Errorf("boom")}, true},
		{"envelope", &EnvelopeError{Operation: "resolve", Err: fmt.Errorf("bad tag")}, true},
		{"guest", &GuestError{Operation: "resolve", Message: "flag not found"}, false},
		{"wrapped trap", fmt.Errorf("supervisor: %w", &TrapError{Operation: "set_state", Err: fmt.Errorf("boom")}), true},
		{"plain", errors.New("unrelated"), false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := IsFaultClass(c.err); got != c.want {
				t.Errorf("IsFaultClass(%v) = %v, want %v", c.err, got, c.want)
			}
		})
	}
}

func TestTrapErrorUnwrap(t *testing.T) {
	inner := errors.New("division trap")
	err := &TrapError{Operation: "resolve", Err: inner}
	if !errors.Is(err, inner) {
		t.Error("errors.Is(TrapError, inner) = false, want true")
	}
}

func TestEnvelopeErrorUnwrap(t *testing.T) {
	inner := errors.New("truncated buffer")
	err := &EnvelopeError{Operation: "flush_logs", Err: inner}
	if !errors.Is(err, inner) {
		t.Error("errors.Is(EnvelopeError, inner) = false, want true")
	}
}

func TestGuestErrorMessage(t *testing.T) {
	err := &GuestError{Operation: "resolve", Message: "unknown flag key"}
	if err.Error() == "" {
		t.Error("GuestError.Error() returned empty string")
	}
}
