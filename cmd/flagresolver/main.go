// Command flagresolver runs a local flag provider: it loads a compiled
// WebAssembly guest module, keeps it supplied with fresh evaluation state
// fetched from a remote CDN, flushes evaluation logs to a remote sink, and
// resolves flags against the guest without a network round trip per call.
//
// Startup sequence:
//  1. Load configuration from the JSON file named by -config. Without it the
//     defaults are used; they leave client_secret and wasm_module_path
//     empty, so validation fails and the process exits.
//  2. Build the provider: compile the guest module, wire the supervisor,
//     state refresher, and telemetry flusher around it.
//  3. Perform the initial state fetch and start the background loops.
//  4. Log a metrics summary periodically.
//  5. Block until OS signals SIGINT or SIGTERM, then shut down cleanly.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edgeflux/flagresolver/config"
	"github.com/edgeflux/flagresolver/logger"
	"github.com/edgeflux/flagresolver/provider"
)

func main() {
	// ── Flags ──────────────────────────────────────────────────────────────
	configFile := flag.String("config", "", "Path to JSON config file; it must set client_secret and wasm_module_path, which the defaults leave empty")
	flag.Parse()

	// ── Logger ─────────────────────────────────────────────────────────────
	log := logger.New(logger.LevelInfo)
	log.Info("flagresolver starting up")

	// ── Configuration ──────────────────────────────────────────────────────
	var cfg *config.Config
	if *configFile != "" {
		var err error
		cfg, err = config.LoadConfig(*configFile)
		if err != nil {
			log.Errorf("failed to load config from %q: %v", *configFile, err)
			os.Exit(1)
		}
		log.Infof("configuration loaded from %q", *configFile)
	} else {
		cfg = config.DefaultConfig()
		log.Info("using default configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Errorf("invalid configuration: %v", err)
		os.Exit(1)
	}

	// ── Provider ───────────────────────────────────────────────────────────
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p, err := provider.New(ctx, cfg, log)
	if err != nil {
		log.Errorf("failed to build provider: %v", err)
		os.Exit(1)
	}
	log.Infof("guest module %q compiled", cfg.WasmModulePath)

	if err := p.Start(ctx, cfg.InitializeTimeout); err != nil {
		log.Errorf("failed to start provider: %v", err)
		os.Exit(1)
	}
	log.Info("state refresher and telemetry flusher started; provider is ready")

	// ── Metrics monitor ────────────────────────────────────────────────────
	// Print a summary line every 10 seconds.
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			snap := p.Metrics()
			log.Infof("metrics – resolves: %d (ok: %d, guest-error: %d, trapped: %d) | reloads: %d (failed: %d) | state fetches: %d (failed: %d)",
				snap.ResolvesTotal, snap.ResolvesOK, snap.ResolvesGuestError, snap.ResolvesTrapped,
				snap.Reloads, snap.ReloadsFailed, snap.StateFetches, snap.StateFetchesFailed)
		}
	}()

	// ── Graceful shutdown ──────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	fmt.Println() // newline after ^C
	log.Infof("received signal %s; shutting down", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := p.Shutdown(shutdownCtx); err != nil {
		log.Errorf("shutdown error: %v", err)
	}

	snap := p.Metrics()
	log.Infof("final metrics – resolves: %d (ok: %d, guest-error: %d, trapped: %d)",
		snap.ResolvesTotal, snap.ResolvesOK, snap.ResolvesGuestError, snap.ResolvesTrapped)
	log.Info("flagresolver shut down cleanly")
}
