// Package provider is the thin façade over the resolver's four core
// components (Guest Bridge, Supervisor, State Refresher, Telemetry
// Flusher): typed flag-value accessors, evaluation-context conversion, and
// lifecycle management.
package provider

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/edgeflux/flagresolver/config"
	"github.com/edgeflux/flagresolver/logger"
	"github.com/edgeflux/flagresolver/metrics"
	"github.com/edgeflux/flagresolver/staterefresher"
	"github.com/edgeflux/flagresolver/supervisor"
	"github.com/edgeflux/flagresolver/telemetry"
	"github.com/edgeflux/flagresolver/value"
	"github.com/edgeflux/flagresolver/wasmguest"
)

// Resolver is the subset of *supervisor.Supervisor the façade depends on to
// evaluate a flag.
type Resolver interface {
	Resolve(ctx context.Context, request []byte) ([]byte, error)
}

// ResolutionMetadata carries the parts of a resolve response beyond the
// value itself.
type ResolutionMetadata struct {
	Reason  Reason
	Variant string
}

// Provider resolves flags locally against a sandboxed guest module, backed
// by a periodically refreshed state cache and best-effort telemetry.
type Provider struct {
	clientSecret string
	resolver     Resolver
	metrics      *metrics.Metrics
	log          *logger.Logger

	module     *wasmguest.Module
	supervisor *supervisor.Supervisor
	refresher  *staterefresher.Refresher
	flusher    *telemetry.Flusher
}

// newProvider builds a Provider around an already-constructed Resolver,
// independent of any compiled guest module. Exposed for tests that want to
// exercise evaluation logic with a fake resolver.
func newProvider(clientSecret string, resolver Resolver, m *metrics.Metrics, log *logger.Logger) *Provider {
	return &Provider{clientSecret: clientSecret, resolver: resolver, metrics: m, log: log.WithComponent("provider")}
}

// New loads the guest module named by cfg.WasmModulePath, compiles it,
// and wires together a Supervisor, State Refresher, and Telemetry Flusher
// around it. It does not start any background loop or perform the initial
// state fetch; call Start for that.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	wasmBytes, err := os.ReadFile(cfg.WasmModulePath) // #nosec G304 – operator-configured path
	if err != nil {
		return nil, fmt.Errorf("provider: read guest module %q: %w", cfg.WasmModulePath, err)
	}

	module, err := wasmguest.Compile(ctx, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("provider: compile guest module: %w", err)
	}

	m := metrics.New()

	sup, err := supervisor.New(ctx, module, log, m)
	if err != nil {
		_ = module.Close(ctx)
		return nil, fmt.Errorf("provider: create supervisor: %w", err)
	}

	p := newProvider(cfg.ClientSecret, sup, m, log)
	p.module = module
	p.supervisor = sup
	p.refresher = staterefresher.New(cfg.ClientSecret, cfg.StateFetchInterval, cfg.StateFetchTimeout, sup, log, m)
	p.flusher = telemetry.New(cfg.LogFlushInterval, cfg.LogFlushTimeout, sup, log, m)
	return p, nil
}

// Start performs the initial synchronous state fetch (bounded by
// initializeTimeout) and then launches the background refresh and flush
// loops using ctx as their lifetime. If the initial fetch fails, startup
// fails and no background loop is started.
func (p *Provider) Start(ctx context.Context, initializeTimeout time.Duration) error {
	if err := p.refresher.Start(ctx, initializeTimeout); err != nil {
		return fmt.Errorf("provider: start: %w", err)
	}
	p.flusher.Start(ctx)
	return nil
}

// Shutdown cancels both background loops, attempts one final bounded
// telemetry flush, then releases the guest module and its instance.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.refresher != nil {
		p.refresher.Stop()
		p.refresher.Close()
	}
	if p.flusher != nil {
		p.flusher.Stop(ctx)
	}

	var err error
	if p.supervisor != nil {
		err = p.supervisor.Close(ctx)
	}
	if p.module != nil {
		if cerr := p.module.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// Metrics returns the provider's live counters.
func (p *Provider) Metrics() metrics.Snapshot { return p.metrics.Snapshot() }

// ResolveBoolean resolves flagKey and type-asserts the result as a bool.
func (p *Provider) ResolveBoolean(ctx context.Context, flagKey string, defaultValue bool, evalCtx map[string]any) (bool, ResolutionMetadata, error) {
	v, meta, err := p.evaluate(ctx, flagKey, evalCtx)
	if err != nil {
		return defaultValue, meta, err
	}
	b, err := v.Bool()
	if err != nil {
		return defaultValue, meta, err
	}
	return b, meta, nil
}

// ResolveString resolves flagKey and type-asserts the result as a string.
func (p *Provider) ResolveString(ctx context.Context, flagKey string, defaultValue string, evalCtx map[string]any) (string, ResolutionMetadata, error) {
	v, meta, err := p.evaluate(ctx, flagKey, evalCtx)
	if err != nil {
		return defaultValue, meta, err
	}
	s, err := v.String()
	if err != nil {
		return defaultValue, meta, err
	}
	return s, meta, nil
}

// ResolveInt64 resolves flagKey and type-asserts the result as a whole
// number, truncating any fractional part (matching the reference
// provider's coercion of whole-float flag values to int).
func (p *Provider) ResolveInt64(ctx context.Context, flagKey string, defaultValue int64, evalCtx map[string]any) (int64, ResolutionMetadata, error) {
	v, meta, err := p.evaluate(ctx, flagKey, evalCtx)
	if err != nil {
		return defaultValue, meta, err
	}
	n, err := v.Int64()
	if err != nil {
		return defaultValue, meta, err
	}
	return n, meta, nil
}

// ResolveFloat64 resolves flagKey and type-asserts the result as a number,
// preserving fractional precision.
func (p *Provider) ResolveFloat64(ctx context.Context, flagKey string, defaultValue float64, evalCtx map[string]any) (float64, ResolutionMetadata, error) {
	v, meta, err := p.evaluate(ctx, flagKey, evalCtx)
	if err != nil {
		return defaultValue, meta, err
	}
	n, err := v.Float64()
	if err != nil {
		return defaultValue, meta, err
	}
	return n, meta, nil
}

// ResolveObject resolves flagKey and returns the raw structured value
// without a type assertion, for callers that want a list or map.
func (p *Provider) ResolveObject(ctx context.Context, flagKey string, defaultValue value.Value, evalCtx map[string]any) (value.Value, ResolutionMetadata, error) {
	v, meta, err := p.evaluate(ctx, flagKey, evalCtx)
	if err != nil {
		return defaultValue, meta, err
	}
	return v, meta, nil
}

// evaluate resolves the top-level flag named by the first dot-separated
// segment of flagKey against the guest, then navigates any remaining
// segments into the resolved structured value.
func (p *Provider) evaluate(ctx context.Context, flagKey string, evalCtx map[string]any) (value.Value, ResolutionMetadata, error) {
	segments := strings.Split(flagKey, ".")
	flagName, path := segments[0], segments[1:]

	reqBytes, err := encodeResolveRequest(flagName, p.clientSecret, evalCtx)
	if err != nil {
		return value.Value{}, ResolutionMetadata{}, fmt.Errorf("provider: build resolve request for %q: %w", flagKey, err)
	}

	respBytes, err := p.resolver.Resolve(ctx, reqBytes)
	if err != nil {
		return value.Value{}, ResolutionMetadata{}, fmt.Errorf("provider: resolve %q: %w", flagKey, err)
	}

	resolved, err := decodeResolveResponse(respBytes)
	if err != nil {
		return value.Value{}, ResolutionMetadata{}, fmt.Errorf("provider: decode response for %q: %w", flagKey, err)
	}
	if resolved.missingMaterializations {
		return value.Value{}, ResolutionMetadata{}, &RemoteRequiredError{FlagKey: flagName}
	}
	if !resolved.found {
		return value.Value{}, ResolutionMetadata{}, &FlagNotFoundError{FlagKey: flagName}
	}

	resolvedValue := structpbToValue(resolved.value)
	navigated, err := value.Navigate(resolvedValue, path)
	if err != nil {
		return value.Value{}, ResolutionMetadata{}, err
	}

	meta := ResolutionMetadata{Reason: mapReason(resolved.reason), Variant: resolved.variant}
	return navigated, meta, nil
}
