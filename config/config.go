// Package config provides JSON-based configuration loading for the resolver
// provider, with safe defaults for everything but the client secret.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config holds the tunable parameters of the resolver provider. It is loaded
// once at startup and then shared read-only across components.
type Config struct {
	// ClientSecret authenticates state fetches against the CDN and is
	// embedded in remote resolve requests. Required; LoadConfig reads it
	// from the file, DefaultConfig leaves it blank for the caller to fill in.
	ClientSecret string `json:"client_secret"`

	// WasmModulePath is the on-disk path to the compiled guest module.
	WasmModulePath string `json:"wasm_module_path"`

	// StateFetchInterval is the steady-state period between background
	// state refreshes. Default: 30s.
	StateFetchInterval time.Duration `json:"state_fetch_interval"`

	// LogFlushInterval is the period between telemetry flush cycles.
	// Default: 10s.
	LogFlushInterval time.Duration `json:"log_flush_interval"`

	// InitializeTimeout bounds the synchronous first state fetch performed
	// during startup. Default: 30s.
	InitializeTimeout time.Duration `json:"initialize_timeout"`

	// StateFetchTimeout bounds each individual state-CDN request.
	// Default: 30s.
	StateFetchTimeout time.Duration `json:"state_fetch_timeout"`

	// LogFlushTimeout bounds each individual log-sink POST. Default: 5s.
	LogFlushTimeout time.Duration `json:"log_flush_timeout"`
}

// LoadConfig reads a JSON file at filename and deserialises it into a Config.
// Fields left unset in the file keep Go's zero values; callers should layer
// the result over DefaultConfig if they want defaults for omitted fields.
func LoadConfig(filename string) (*Config, error) {
	f, err := os.Open(filename) // #nosec G304 – filename is caller-provided config path
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", filename, err)
	}
	defer f.Close()

	var cfg Config
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields() // catch typos in config files early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode %q: %w", filename, err)
	}
	return &cfg, nil
}

// DefaultConfig returns a *Config pre-filled with workable defaults.
// ClientSecret and WasmModulePath are left blank; callers must set them.
func DefaultConfig() *Config {
	return &Config{
		StateFetchInterval: 30 * time.Second,
		LogFlushInterval:   10 * time.Second,
		InitializeTimeout:  30 * time.Second,
		StateFetchTimeout:  30 * time.Second,
		LogFlushTimeout:    5 * time.Second,
	}
}

// Validate checks that required fields have been set and fills any zero
// duration fields with their defaults.
func (c *Config) Validate() error {
	if c.ClientSecret == "" {
		return fmt.Errorf("config: client_secret is required")
	}
	if c.WasmModulePath == "" {
		return fmt.Errorf("config: wasm_module_path is required")
	}
	if c.StateFetchInterval <= 0 {
		c.StateFetchInterval = 30 * time.Second
	}
	if c.LogFlushInterval <= 0 {
		c.LogFlushInterval = 10 * time.Second
	}
	if c.InitializeTimeout <= 0 {
		c.InitializeTimeout = 30 * time.Second
	}
	if c.StateFetchTimeout <= 0 {
		c.StateFetchTimeout = 30 * time.Second
	}
	if c.LogFlushTimeout <= 0 {
		c.LogFlushTimeout = 5 * time.Second
	}
	return nil
}
