package metrics_test

import (
	"sync"
	"testing"

	"github.com/edgeflux/flagresolver/metrics"
)

func TestIncrements(t *testing.T) {
	m := metrics.New()
	m.IncrResolvesTotal()
	m.IncrResolvesTotal()
	m.IncrResolvesOK()
	m.IncrResolvesTrapped()
	m.IncrReloads()
	m.AddLogBytesFlushed(42)

	snap := m.Snapshot()
	if snap.ResolvesTotal != 2 {
		t.Errorf("ResolvesTotal = %d, want 2", snap.ResolvesTotal)
	}
	if snap.ResolvesOK != 1 {
		t.Errorf("ResolvesOK = %d, want 1", snap.ResolvesOK)
	}
	if snap.ResolvesTrapped != 1 {
		t.Errorf("ResolvesTrapped = %d, want 1", snap.ResolvesTrapped)
	}
	if snap.Reloads != 1 {
		t.Errorf("Reloads = %d, want 1", snap.Reloads)
	}
	if snap.LogBytesFlushed != 42 {
		t.Errorf("LogBytesFlushed = %d, want 42", snap.LogBytesFlushed)
	}
}

func TestAddLogBytesFlushedIgnoresNonPositive(t *testing.T) {
	m := metrics.New()
	m.AddLogBytesFlushed(0)
	m.AddLogBytesFlushed(-5)
	if snap := m.Snapshot(); snap.LogBytesFlushed != 0 {
		t.Errorf("LogBytesFlushed = %d, want 0", snap.LogBytesFlushed)
	}
}

func TestConcurrentIncrements(t *testing.T) {
	m := metrics.New()
	const goroutines = 1000
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			m.IncrResolvesTotal()
			m.IncrResolvesOK()
		}()
	}
	wg.Wait()

	snap := m.Snapshot()
	if snap.ResolvesTotal != goroutines {
		t.Errorf("ResolvesTotal = %d, want %d", snap.ResolvesTotal, goroutines)
	}
	if snap.ResolvesOK != goroutines {
		t.Errorf("ResolvesOK = %d, want %d", snap.ResolvesOK, goroutines)
	}
}
