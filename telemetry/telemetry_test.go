package telemetry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/edgeflux/flagresolver/logger"
	"github.com/edgeflux/flagresolver/metrics"
)

type fakeSupervisor struct {
	mu     sync.Mutex
	chunks [][]byte
	err    error
}

func (f *fakeSupervisor) FlushLogs(context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if len(f.chunks) == 0 {
		return nil, nil
	}
	next := f.chunks[0]
	f.chunks = f.chunks[1:]
	return next, nil
}

func (f *fakeSupervisor) enqueue(chunk []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = append(f.chunks, chunk)
}

func testLogger() *logger.Logger { return logger.New(logger.LevelError) }

func TestFlushOnceSkipsEmptyBytes(t *testing.T) {
	var posts int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		mu.Lock()
		posts++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sup := &fakeSupervisor{}
	f := New(time.Hour, 5*time.Second, sup, testLogger(), metrics.New())
	f.sinkURL = srv.URL

	if err := f.flushOnce(context.Background()); err != nil {
		t.Fatalf("flushOnce: %v", err)
	}
	mu.Lock()
	got := posts
	mu.Unlock()
	if got != 0 {
		t.Errorf("posts = %d, want 0 when FlushLogs returns no bytes", got)
	}
}

func TestFlushOnceSendsContentTypeAndBody(t *testing.T) {
	var gotContentType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotContentType = req.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(req.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sup := &fakeSupervisor{}
	sup.enqueue([]byte("log-bytes"))
	f := New(time.Hour, 5*time.Second, sup, testLogger(), metrics.New())
	f.sinkURL = srv.URL

	if err := f.flushOnce(context.Background()); err != nil {
		t.Fatalf("flushOnce: %v", err)
	}
	if gotContentType != "application/x-protobuf" {
		t.Errorf("Content-Type = %q, want application/x-protobuf", gotContentType)
	}
	if string(gotBody) != "log-bytes" {
		t.Errorf("body = %q, want %q", gotBody, "log-bytes")
	}
}

func TestFlushOnceNonSuccessStatusIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sup := &fakeSupervisor{}
	sup.enqueue([]byte("log-bytes"))
	f := New(time.Hour, 5*time.Second, sup, testLogger(), metrics.New())
	f.sinkURL = srv.URL

	if err := f.flushOnce(context.Background()); err == nil {
		t.Fatal("expected flushOnce to report a non-2xx status as an error")
	}
}

func TestFlushOnceReportsTransportErrorToCaller(t *testing.T) {
	sup := &fakeSupervisor{}
	sup.enqueue([]byte("log-bytes"))
	f := New(time.Hour, 200*time.Millisecond, sup, testLogger(), metrics.New())
	// Nothing listens here, so the POST fails at the transport level
	// rather than depending on network/DNS reachability in the test
	// environment.
	f.sinkURL = "http://127.0.0.1:1"

	err := f.flushOnce(context.Background())
	if err == nil {
		t.Fatal("expected flushOnce to report the transport error to its caller")
	}
}

func TestFlushOnceSupervisorErrorPropagates(t *testing.T) {
	sup := &fakeSupervisor{err: errors.New("supervisor unavailable")}
	f := New(time.Hour, 5*time.Second, sup, testLogger(), metrics.New())

	if err := f.flushOnce(context.Background()); err == nil {
		t.Fatal("expected flushOnce to propagate a FlushLogs error")
	}
}

func TestStopAttemptsFinalFlush(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sup := &fakeSupervisor{}
	sup.enqueue([]byte("final-chunk"))
	f := New(time.Hour, 5*time.Second, sup, testLogger(), metrics.New())
	f.sinkURL = srv.URL

	f.Start(context.Background())
	f.Stop(context.Background())

	sup.mu.Lock()
	remaining := len(sup.chunks)
	sup.mu.Unlock()
	if remaining != 0 {
		t.Errorf("chunks remaining after Stop = %d, want 0 (Stop must attempt a final flush)", remaining)
	}
}
