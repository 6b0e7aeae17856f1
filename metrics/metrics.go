// Package metrics provides lightweight, lock-free counters for the resolver
// provider using atomic operations so they impose minimal overhead on the
// resolve hot path.
package metrics

import "sync/atomic"

// Metrics tracks aggregate statistics for a running provider instance.
//
// All counters are accessed exclusively through atomic operations: there is
// no mutex contention on the resolve path, and the struct may be embedded or
// passed as a pointer without additional synchronization.
type Metrics struct {
	// ResolvesTotal is the number of resolve calls made against the
	// Supervisor since startup.
	ResolvesTotal uint64

	// ResolvesOK is the number of resolve calls that returned a value
	// without a guest trap or guest-reported error.
	ResolvesOK uint64

	// ResolvesGuestError is the number of resolve calls that failed with a
	// GuestError (the instance stayed healthy; the guest rejected the
	// request itself, e.g. unknown flag).
	ResolvesGuestError uint64

	// ResolvesTrapped is the number of resolve calls that triggered a
	// reload (a guest trap or malformed envelope).
	ResolvesTrapped uint64

	// Reloads is the number of times the Supervisor discarded and replaced
	// its guest instance.
	Reloads uint64

	// ReloadsFailed is the number of reloads that themselves failed to
	// produce a usable instance (ReloadFailedError).
	ReloadsFailed uint64

	// StateFetches is the number of state-CDN requests issued.
	StateFetches uint64

	// StateFetchesFailed is the number of state-CDN requests that failed
	// and fell back to (or had no) cached payload.
	StateFetchesFailed uint64

	// StatePushes is the number of payloads successfully pushed into the
	// Supervisor via SetState.
	StatePushes uint64

	// LogBytesFlushed is the total number of telemetry bytes successfully
	// POSTed to the log sink.
	LogBytesFlushed uint64

	// LogFlushesFailed is the number of flush cycles whose POST to the log
	// sink failed.
	LogFlushesFailed uint64
}

// New creates a zero-valued Metrics instance.
func New() *Metrics { return &Metrics{} }

func (m *Metrics) IncrResolvesTotal()      { atomic.AddUint64(&m.ResolvesTotal, 1) }
func (m *Metrics) IncrResolvesOK()         { atomic.AddUint64(&m.ResolvesOK, 1) }
func (m *Metrics) IncrResolvesGuestError() { atomic.AddUint64(&m.ResolvesGuestError, 1) }
func (m *Metrics) IncrResolvesTrapped()    { atomic.AddUint64(&m.ResolvesTrapped, 1) }
func (m *Metrics) IncrReloads()            { atomic.AddUint64(&m.Reloads, 1) }
func (m *Metrics) IncrReloadsFailed()      { atomic.AddUint64(&m.ReloadsFailed, 1) }
func (m *Metrics) IncrStateFetches()       { atomic.AddUint64(&m.StateFetches, 1) }
func (m *Metrics) IncrStateFetchesFailed() { atomic.AddUint64(&m.StateFetchesFailed, 1) }
func (m *Metrics) IncrStatePushes()        { atomic.AddUint64(&m.StatePushes, 1) }
func (m *Metrics) IncrLogFlushesFailed()   { atomic.AddUint64(&m.LogFlushesFailed, 1) }

// AddLogBytesFlushed adds n to the running total of successfully delivered
// telemetry bytes.
func (m *Metrics) AddLogBytesFlushed(n int) {
	if n <= 0 {
		return
	}
	atomic.AddUint64(&m.LogBytesFlushed, uint64(n))
}

// Snapshot is a point-in-time copy of every counter. Because the individual
// atomic loads are not taken under a single lock, the snapshot may be very
// slightly inconsistent at nanosecond granularity, which is acceptable for
// monitoring purposes.
type Snapshot struct {
	ResolvesTotal      uint64
	ResolvesOK         uint64
	ResolvesGuestError uint64
	ResolvesTrapped    uint64
	Reloads            uint64
	ReloadsFailed      uint64
	StateFetches       uint64
	StateFetchesFailed uint64
	StatePushes        uint64
	LogBytesFlushed    uint64
	LogFlushesFailed   uint64
}

func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		ResolvesTotal:      atomic.LoadUint64(&m.ResolvesTotal),
		ResolvesOK:         atomic.LoadUint64(&m.ResolvesOK),
		ResolvesGuestError: atomic.LoadUint64(&m.ResolvesGuestError),
		ResolvesTrapped:    atomic.LoadUint64(&m.ResolvesTrapped),
		Reloads:            atomic.LoadUint64(&m.Reloads),
		ReloadsFailed:      atomic.LoadUint64(&m.ReloadsFailed),
		StateFetches:       atomic.LoadUint64(&m.StateFetches),
		StateFetchesFailed: atomic.LoadUint64(&m.StateFetchesFailed),
		StatePushes:        atomic.LoadUint64(&m.StatePushes),
		LogBytesFlushed:    atomic.LoadUint64(&m.LogBytesFlushed),
		LogFlushesFailed:   atomic.LoadUint64(&m.LogFlushesFailed),
	}
}
