// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for Fleetglass.
//
// Configuration is optional: every field has a default and the tool
// runs with no file at all. When a file is used it comes from exactly
// one place, the FLEETGLASS_CONFIG environment variable or the
// --config flag. There is no search-path discovery, so the effective
// configuration is always auditable.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete fleetglass configuration.
type Config struct {
	// Discovery controls how agent server instances are found.
	Discovery DiscoveryConfig `yaml:"discovery"`

	// Stream controls event stream connections and reconnect policy.
	Stream StreamConfig `yaml:"stream"`

	// Store controls derived-state lifecycle.
	Store StoreConfig `yaml:"store"`

	// Registry locates the remote server registry database.
	Registry RegistryConfig `yaml:"registry"`

	// Serve configures the HTTP aggregation endpoint.
	Serve ServeConfig `yaml:"serve"`
}

// DiscoveryConfig controls the instance discovery loop.
type DiscoveryConfig struct {
	// Interval between discovery passes. Default: 5s.
	Interval Duration `yaml:"interval"`

	// ProbeTimeout bounds each verification probe against a local
	// candidate. Default: 500ms.
	ProbeTimeout Duration `yaml:"probe_timeout"`

	// RemoteProbeTimeout bounds verification of registered remote
	// servers, which sit behind real network latency. Default: 2s.
	RemoteProbeTimeout Duration `yaml:"remote_probe_timeout"`

	// MaxProbes caps concurrent verification probes. Default: 5.
	MaxProbes int `yaml:"max_probes"`

	// ProcessNames filters the local listener scan by process command
	// name. Default: ["opencode"].
	ProcessNames []string `yaml:"process_names"`
}

// StreamConfig controls per-instance event stream supervision.
type StreamConfig struct {
	// BackoffBase is the first reconnect delay. Default: 1s.
	BackoffBase Duration `yaml:"backoff_base"`

	// BackoffCap is the maximum reconnect delay. Default: 30s.
	BackoffCap Duration `yaml:"backoff_cap"`

	// HealthInterval is how often connected streams are checked for
	// silence. Default: 10s.
	HealthInterval Duration `yaml:"health_interval"`

	// SilenceThreshold is how long a connected stream may go without
	// any event before it is force-reconnected. Default: 60s.
	SilenceThreshold Duration `yaml:"silence_threshold"`
}

// StoreConfig controls derived-state lifecycle.
type StoreConfig struct {
	// SessionIdleTTL is how long a per-session derived view survives
	// without a subscriber before it is disposed. Default: 5m.
	SessionIdleTTL Duration `yaml:"session_idle_ttl"`
}

// RegistryConfig locates the remote server registry.
type RegistryConfig struct {
	// Path is the SQLite database file holding registered remotes.
	// Default: ${XDG_DATA_HOME:-~/.local/share}/fleetglass/remotes.db.
	Path string `yaml:"path"`
}

// ServeConfig configures the HTTP aggregation endpoint.
type ServeConfig struct {
	// Listen is the address for the serve command. Default:
	// 127.0.0.1:7450.
	Listen string `yaml:"listen"`
}

// Default returns the fully-populated default configuration.
func Default() *Config {
	return &Config{
		Discovery: DiscoveryConfig{
			Interval:           Duration(5 * time.Second),
			ProbeTimeout:       Duration(500 * time.Millisecond),
			RemoteProbeTimeout: Duration(2 * time.Second),
			MaxProbes:          5,
			ProcessNames:       []string{"opencode"},
		},
		Stream: StreamConfig{
			BackoffBase:      Duration(time.Second),
			BackoffCap:       Duration(30 * time.Second),
			HealthInterval:   Duration(10 * time.Second),
			SilenceThreshold: Duration(60 * time.Second),
		},
		Store: StoreConfig{
			SessionIdleTTL: Duration(5 * time.Minute),
		},
		Registry: RegistryConfig{
			Path: filepath.Join(dataDir(), "remotes.db"),
		},
		Serve: ServeConfig{
			Listen: "127.0.0.1:7450",
		},
	}
}

// Load loads configuration from FLEETGLASS_CONFIG, or returns the
// defaults when the variable is unset.
func Load() (*Config, error) {
	path := os.Getenv("FLEETGLASS_CONFIG")
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile loads configuration from path over the defaults. The file
// is the single source of truth; environment variables never override
// individual values. The only expansion performed is ${VAR} and
// ${VAR:-default} in the registry path, for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg.Registry.Path = expandVars(cfg.Registry.Path, map[string]string{
		"HOME": os.Getenv("HOME"),
	})

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	positive := func(name string, d Duration) {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	positive("discovery.interval", c.Discovery.Interval)
	positive("discovery.probe_timeout", c.Discovery.ProbeTimeout)
	positive("discovery.remote_probe_timeout", c.Discovery.RemoteProbeTimeout)
	positive("stream.backoff_base", c.Stream.BackoffBase)
	positive("stream.backoff_cap", c.Stream.BackoffCap)
	positive("stream.health_interval", c.Stream.HealthInterval)
	positive("stream.silence_threshold", c.Stream.SilenceThreshold)
	positive("store.session_idle_ttl", c.Store.SessionIdleTTL)

	if c.Stream.BackoffCap < c.Stream.BackoffBase {
		errs = append(errs, fmt.Errorf("stream.backoff_cap (%s) must be >= stream.backoff_base (%s)",
			c.Stream.BackoffCap, c.Stream.BackoffBase))
	}
	if c.Discovery.MaxProbes < 1 {
		errs = append(errs, fmt.Errorf("discovery.max_probes must be >= 1, got %d", c.Discovery.MaxProbes))
	}
	if c.Registry.Path == "" {
		errs = append(errs, fmt.Errorf("registry.path is required"))
	}
	if c.Serve.Listen == "" {
		errs = append(errs, fmt.Errorf("serve.listen is required"))
	}

	return errors.Join(errs...)
}

// Duration is a time.Duration that YAML-decodes from strings like
// "500ms" or "1m30s" and from bare integers (nanoseconds).
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
		return nil
	case int:
		*d = Duration(v)
		return nil
	default:
		return fmt.Errorf("invalid duration value %v (want a string like \"5s\")", raw)
	}
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// dataDir returns the fleetglass data directory, honoring
// XDG_DATA_HOME and falling back to ~/.local/share.
func dataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "fleetglass")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "fleetglass")
	}
	return filepath.Join(home, ".local", "share", "fleetglass")
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns from vars
// first, then the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		name := parts[1]
		fallback := ""
		if len(parts) >= 3 {
			fallback = parts[2]
		}
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return fallback
	})
}
