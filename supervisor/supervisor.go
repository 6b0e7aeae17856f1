// Package supervisor provides fault isolation around a single live guest
// instance.
//
// Architecture notes, in the spirit of the session engine's Session type:
//   - A sync.Mutex protects the supervised instance and its recovery state,
//     matching the single-threaded cooperative execution model the guest ABI
//     requires: only one call may be in flight against an instance at a
//     time, so there is no value in a finer-grained lock.
//   - CurrentState is the last payload SetState applied successfully. It is kept
//     verbatim so it can be replayed into a freshly loaded instance after a
//     reload, the same way HeartbeatManager replays cookies onto a fresh
//     session after re-authentication.
//   - Salvage accumulates flush_logs output rescued from instances that are
//     about to be discarded, so a reload never silently drops telemetry that
//     was already sitting in the guest's buffer.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/edgeflux/flagresolver/logger"
	"github.com/edgeflux/flagresolver/metrics"
	"github.com/edgeflux/flagresolver/wasmguest"
)

// ErrUnavailable is returned by every operation once a reload attempt itself
// failed to produce a usable instance. The Supervisor does not retry reloads
// on its own; a fresh Supervisor must be constructed to recover.
var ErrUnavailable = errors.New("supervisor: guest instance unavailable, last reload failed")

// ReloadFailedError reports that recovering from Cause itself failed —
// either the replacement instance could not be created, or restoring the
// last-known state into it trapped. Cause is the original fault that
// triggered the reload; Reload is what went wrong while recovering from it.
type ReloadFailedError struct {
	Cause  error
	Reload error
}

func (e *ReloadFailedError) Error() string {
	return fmt.Sprintf("supervisor: reload failed: %v (triggering fault: %v)", e.Reload, e.Cause)
}

func (e *ReloadFailedError) Unwrap() []error { return []error{e.Cause, e.Reload} }

// guestInstance is the subset of *wasmguest.Instance the Supervisor depends
// on. Declaring it here (rather than taking *wasmguest.Instance directly)
// keeps the reload protocol testable without a compiled guest binary.
type guestInstance interface {
	SetState(ctx context.Context, stateBytes []byte) error
	Resolve(ctx context.Context, request []byte) ([]byte, error)
	FlushLogs(ctx context.Context) ([]byte, error)
	Close(ctx context.Context) error
}

// guestModule is the subset of *wasmguest.Module the Supervisor depends on.
type guestModule interface {
	NewInstance(ctx context.Context) (guestInstance, error)
}

// moduleAdapter satisfies guestModule in terms of a real *wasmguest.Module.
type moduleAdapter struct{ module *wasmguest.Module }

func (a moduleAdapter) NewInstance(ctx context.Context) (guestInstance, error) {
	return a.module.NewInstance(ctx)
}

// Supervisor owns exactly one live guest instance at a time and recovers
// from guest faults by discarding it and loading a replacement. It is safe
// for concurrent use.
type Supervisor struct {
	mu sync.Mutex

	module   guestModule
	instance guestInstance // nil once reload has permanently failed

	currentState []byte   // last payload SetState applied successfully, replayed after reload
	salvage      [][]byte // flush_logs output rescued from discarded instances

	log     *logger.Logger
	metrics *metrics.Metrics
}

// New creates a Supervisor with a freshly loaded instance from module.
func New(ctx context.Context, module *wasmguest.Module, log *logger.Logger, m *metrics.Metrics) (*Supervisor, error) {
	return newSupervisor(ctx, moduleAdapter{module}, log, m)
}

func newSupervisor(ctx context.Context, module guestModule, log *logger.Logger, m *metrics.Metrics) (*Supervisor, error) {
	inst, err := module.NewInstance(ctx)
	if err != nil {
		return nil, fmt.Errorf("supervisor: create initial instance: %w", err)
	}
	return &Supervisor{module: module, instance: inst, log: log.WithComponent("supervisor"), metrics: m}, nil
}

// SetState records stateBytes as pending, then pushes it into the supervised
// instance. On success, pending becomes current. On a fault, the *previous*
// current state (not the one that just crashed the guest) is what gets
// replayed into the replacement instance — a poisoned payload would
// otherwise condemn every reload attempt.
func (s *Supervisor) SetState(ctx context.Context, stateBytes []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.instance == nil {
		return ErrUnavailable
	}

	err := s.instance.SetState(ctx, stateBytes)
	if err != nil {
		if wasmguest.IsFaultClass(err) {
			if rerr := s.reload(ctx, err); rerr != nil {
				return rerr
			}
		}
		return err
	}
	s.currentState = stateBytes
	s.metrics.IncrStatePushes()
	return nil
}

// Resolve evaluates request against the supervised instance. A fault
// triggers a reload; a GuestError (the instance is healthy, the guest simply
// rejected the request) does not.
func (s *Supervisor) Resolve(ctx context.Context, request []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics.IncrResolvesTotal()

	if s.instance == nil {
		return nil, ErrUnavailable
	}

	resp, err := s.instance.Resolve(ctx, request)
	if err != nil {
		if wasmguest.IsFaultClass(err) {
			s.metrics.IncrResolvesTrapped()
			if rerr := s.reload(ctx, err); rerr != nil {
				return nil, rerr
			}
		} else {
			s.metrics.IncrResolvesGuestError()
		}
		return nil, err
	}
	s.metrics.IncrResolvesOK()
	return resp, nil
}

// FlushLogs drains every byte of telemetry the Supervisor currently holds:
// whatever the live instance hands back from this call, plus anything
// salvaged from instances discarded by earlier reloads. The salvage buffer
// is cleared only when the live instance's flush succeeds; if it fails, the
// buffer (plus anything salvaged during the resulting reload) is kept for
// the next call.
func (s *Supervisor) FlushLogs(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.instance == nil {
		return nil, ErrUnavailable
	}

	chunk, err := s.instance.FlushLogs(ctx)
	if err != nil {
		if wasmguest.IsFaultClass(err) {
			if rerr := s.reload(ctx, err); rerr != nil {
				return nil, rerr
			}
		}
		return nil, err
	}
	if len(chunk) > 0 {
		s.salvage = append(s.salvage, chunk)
	}
	return s.drainSalvage(), nil
}

// drainSalvage concatenates and clears the salvage buffer. Callers must hold
// s.mu.
func (s *Supervisor) drainSalvage() []byte {
	if len(s.salvage) == 0 {
		return nil
	}
	total := 0
	for _, chunk := range s.salvage {
		total += len(chunk)
	}
	out := make([]byte, 0, total)
	for _, chunk := range s.salvage {
		out = append(out, chunk...)
	}
	s.salvage = nil
	return out
}

// reload recovers from a guest fault: best-effort salvage of the condemned
// instance's logs, discard it, load a replacement, and replay the
// last-known state into it. Callers must hold s.mu.
//
// It returns nil if the replacement instance is healthy and up to date —
// the caller should then return cause unchanged, since the guest is usable
// again even though this particular call failed. It returns a
// *ReloadFailedError if the replacement could not be created, or restoring
// state into it also trapped; in the latter case the replacement is itself
// condemned and discarded, leaving the Supervisor unavailable.
func (s *Supervisor) reload(ctx context.Context, cause error) error {
	s.log.Errorf("guest fault, reloading instance: %v", cause)

	if chunk, err := s.instance.FlushLogs(ctx); err != nil {
		s.log.Errorf("salvage flush_logs on condemned instance failed: %v", err)
	} else if len(chunk) > 0 {
		s.salvage = append(s.salvage, chunk)
	}

	_ = s.instance.Close(ctx)
	s.instance = nil

	fresh, err := s.module.NewInstance(ctx)
	if err != nil {
		s.log.Errorf("failed to load replacement instance: %v", err)
		s.metrics.IncrReloadsFailed()
		return &ReloadFailedError{Cause: cause, Reload: err}
	}

	if s.currentState != nil {
		if err := fresh.SetState(ctx, s.currentState); err != nil {
			s.log.Errorf("failed to restore state after reload, condemning replacement: %v", err)
			_ = fresh.Close(ctx)
			s.metrics.IncrReloadsFailed()
			return &ReloadFailedError{Cause: cause, Reload: err}
		}
	}

	s.instance = fresh
	s.metrics.IncrReloads()
	return nil
}

// Close releases the currently supervised instance. It does not close the
// underlying Module, which the caller may be sharing with other components.
func (s *Supervisor) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.instance == nil {
		return nil
	}
	err := s.instance.Close(ctx)
	s.instance = nil
	return err
}
