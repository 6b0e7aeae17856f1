// Package telemetry drains a Supervisor's buffered guest log bytes to a
// remote sink on a periodic schedule. Delivery is best-effort: once the
// Supervisor has handed back a chunk of bytes, this package will try to
// deliver it exactly once and never re-buffers it on failure, mirroring the
// reference provider's FlagLogger.
package telemetry

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/edgeflux/flagresolver/logger"
	"github.com/edgeflux/flagresolver/metrics"
)

// writeFlagLogsURL is the log sink endpoint, matching the reference
// provider's FlagLogger.WRITE_FLAG_LOGS_URL.
const writeFlagLogsURL = "https://resolver.confidence.dev/v1/flagLogs:write"

// shutdownFlushTimeout bounds the final flush attempted on Stop.
const shutdownFlushTimeout = 3 * time.Second

// Supervisor is the subset of *supervisor.Supervisor the Flusher depends on.
type Supervisor interface {
	FlushLogs(ctx context.Context) ([]byte, error)
}

// Flusher periodically drains a Supervisor's log buffer and posts it to the
// log sink.
type Flusher struct {
	client     *http.Client
	sinkURL    string
	supervisor Supervisor
	log        *logger.Logger
	metrics    *metrics.Metrics
	interval   time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a Flusher. requestTimeout bounds each individual POST to the
// log sink; interval is the sleep between flush cycles.
func New(interval, requestTimeout time.Duration, supervisor Supervisor, log *logger.Logger, m *metrics.Metrics) *Flusher {
	return &Flusher{
		client:     &http.Client{Timeout: requestTimeout},
		sinkURL:    writeFlagLogsURL,
		supervisor: supervisor,
		log:        log.WithComponent("telemetry"),
		metrics:    m,
		interval:   interval,
		stopCh:     make(chan struct{}),
	}
}

// Start launches the background flush loop using ctx as its lifetime.
// Non-blocking.
func (f *Flusher) Start(ctx context.Context) {
	go f.loop(ctx)
}

// Stop cancels the background loop and attempts one final bounded flush
// before returning. Failures during the final flush are logged, not
// returned — shutdown must not be blocked by a dead log sink. Idempotent.
func (f *Flusher) Stop(ctx context.Context) {
	f.stopOnce.Do(func() { close(f.stopCh) })

	finalCtx, cancel := context.WithTimeout(ctx, shutdownFlushTimeout)
	defer cancel()
	if err := f.flushOnce(finalCtx); err != nil {
		f.log.Errorf("final flush on shutdown failed: %v", err)
	}

	f.client.CloseIdleConnections()
}

func (f *Flusher) loop(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-f.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.flushOnce(ctx); err != nil {
				f.log.Errorf("flush failed: %v", err)
			}
		}
	}
}

// flushOnce calls FlushLogs on the Supervisor and, if it returned any bytes,
// POSTs them to the log sink. An HTTP error here is logged by the caller and
// swallowed — the bytes are already out of the Supervisor's salvage buffer
// and are not re-buffered.
func (f *Flusher) flushOnce(ctx context.Context) error {
	logBytes, err := f.supervisor.FlushLogs(ctx)
	if err != nil {
		return fmt.Errorf("flush_logs: %w", err)
	}
	if len(logBytes) == 0 {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.sinkURL, bytes.NewReader(logBytes))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-protobuf")

	resp, err := f.client.Do(req)
	if err != nil {
		f.metrics.IncrLogFlushesFailed()
		return fmt.Errorf("post logs: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		f.metrics.IncrLogFlushesFailed()
		return fmt.Errorf("post logs: HTTP %d", resp.StatusCode)
	}
	f.metrics.AddLogBytesFlushed(len(logBytes))
	return nil
}
