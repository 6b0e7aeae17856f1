// Package staterefresher keeps a Supervisor's current state fresh by polling
// a CDN endpoint on a schedule, using ETag-conditional requests to avoid
// re-fetching and re-pushing state that has not changed.
package staterefresher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/edgeflux/flagresolver/logger"
	"github.com/edgeflux/flagresolver/metrics"
)

// cdnHost is the state CDN's base host, matching the reference provider's
// StateFetcher.
const cdnHost = "https://confidence-resolver-state-cdn.spotifycdn.com"

// Supervisor is the subset of *supervisor.Supervisor the Refresher depends
// on.
type Supervisor interface {
	SetState(ctx context.Context, stateBytes []byte) error
}

// Refresher fetches resolver state from the CDN and pushes it into a
// Supervisor, on an initial synchronous fetch followed by a periodic
// background schedule.
type Refresher struct {
	client     *http.Client
	cdnURL     string
	interval   time.Duration
	supervisor Supervisor
	log        *logger.Logger
	metrics    *metrics.Metrics

	// fetchMu serializes fetch-and-push cycles so that a new fetch never
	// begins until the previous one's push to the Supervisor has completed,
	// and so the cache fields below never need their own lock.
	fetchMu       sync.Mutex
	etag          string
	cachedPayload []byte
	pushedPayload []byte // last payload actually pushed to the Supervisor

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a Refresher for the tenant identified by clientSecret.
// requestTimeout bounds each individual HTTP request; interval is the
// steady-state period between fetches after startup.
func New(clientSecret string, interval, requestTimeout time.Duration, supervisor Supervisor, log *logger.Logger, m *metrics.Metrics) *Refresher {
	return &Refresher{
		client:     &http.Client{Transport: buildTransport(), Timeout: requestTimeout},
		cdnURL:     fmt.Sprintf("%s/%s", cdnHost, clientSecret),
		interval:   interval,
		supervisor: supervisor,
		log:        log.WithComponent("staterefresher"),
		metrics:    m,
		stopCh:     make(chan struct{}),
	}
}

// buildTransport tunes connection pooling for a single long-lived origin,
// the way client.buildTransport tunes one per session — here there is only
// ever one logical peer (the CDN), so the pool is sized modestly.
func buildTransport() *http.Transport {
	return &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
}

// Start performs the initial synchronous fetch, bounded by initializeTimeout,
// then launches the periodic background loop using ctx as its lifetime.
// If the initial fetch fails, Start returns an error and no background loop
// is started — startup failure here must fail the whole provider's startup.
func (r *Refresher) Start(ctx context.Context, initializeTimeout time.Duration) error {
	initCtx, cancel := context.WithTimeout(ctx, initializeTimeout)
	defer cancel()

	if err := r.fetchAndPushSerialized(initCtx); err != nil {
		return fmt.Errorf("staterefresher: initial fetch: %w", err)
	}

	go r.loop(ctx)
	return nil
}

// Stop signals the background loop to exit. Idempotent; does not block for
// the loop goroutine to actually finish.
func (r *Refresher) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// Close releases idle connections held by the Refresher's HTTP client.
func (r *Refresher) Close() {
	r.client.CloseIdleConnections()
}

func (r *Refresher) loop(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.fetchAndPushSerialized(ctx); err != nil {
				r.log.Errorf("periodic fetch failed: %v", err)
			}
		}
	}
}

func (r *Refresher) fetchAndPushSerialized(ctx context.Context) error {
	r.fetchMu.Lock()
	defer r.fetchMu.Unlock()
	return r.fetchAndPush(ctx)
}

// fetchAndPush runs one fetch-and-conditionally-push cycle: a fresh payload
// is pushed to the supervisor, a 304 re-pushes the cached payload only if it
// is not the one last pushed successfully, and a transport error falls back
// to the last cached payload if one is available. Callers must hold
// r.fetchMu.
func (r *Refresher) fetchAndPush(ctx context.Context) error {
	r.metrics.IncrStateFetches()
	resp, err := r.doRequest(ctx, r.etag != "")
	if err != nil {
		r.metrics.IncrStateFetchesFailed()
		if r.cachedPayload != nil {
			r.log.Errorf("state fetch failed, falling back to cached payload: %v", err)
			return r.push(ctx, r.cachedPayload)
		}
		return fmt.Errorf("staterefresher: fetch state: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		if r.cachedPayload == nil {
			r.log.Errorf("received 304 with no cached payload, retrying without If-None-Match")
			resp2, err := r.doRequest(ctx, false)
			if err != nil {
				return fmt.Errorf("staterefresher: retry after unexpected 304: %w", err)
			}
			defer resp2.Body.Close()
			return r.handleFreshResponse(ctx, resp2, true)
		}
		if bytes.Equal(r.cachedPayload, r.pushedPayload) {
			return nil
		}
		return r.push(ctx, r.cachedPayload)
	}

	return r.handleFreshResponse(ctx, resp, false)
}

// handleFreshResponse processes a response that was not an (expected) 304.
// isRetry marks a response to the ETag-less retry; a second 304 there is
// surfaced as an error rather than retried again.
func (r *Refresher) handleFreshResponse(ctx context.Context, resp *http.Response, isRetry bool) error {
	if resp.StatusCode == http.StatusNotModified {
		if isRetry {
			return fmt.Errorf("staterefresher: received 304 even without If-None-Match")
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		r.metrics.IncrStateFetchesFailed()
		if r.cachedPayload != nil {
			r.log.Errorf("fetch returned HTTP %d, falling back to cached payload", resp.StatusCode)
			return r.push(ctx, r.cachedPayload)
		}
		return fmt.Errorf("staterefresher: fetch returned HTTP %d", resp.StatusCode)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		if r.cachedPayload != nil {
			r.log.Errorf("read response body failed, falling back to cached payload: %v", err)
			return r.push(ctx, r.cachedPayload)
		}
		return fmt.Errorf("staterefresher: read response body: %w", err)
	}

	if etag := resp.Header.Get("ETag"); etag != "" {
		r.etag = etag
	} else {
		r.etag = ""
	}
	r.cachedPayload = payload
	return r.push(ctx, payload)
}

func (r *Refresher) doRequest(ctx context.Context, includeETag bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cdnURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if includeETag && r.etag != "" {
		req.Header.Set("If-None-Match", r.etag)
	}
	return r.client.Do(req)
}

func (r *Refresher) push(ctx context.Context, payload []byte) error {
	if err := r.supervisor.SetState(ctx, payload); err != nil {
		return fmt.Errorf("push state: %w", err)
	}
	r.pushedPayload = payload
	return nil
}
