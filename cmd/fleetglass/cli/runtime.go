// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/fleetglass/fleetglass/discovery"
	"github.com/fleetglass/fleetglass/lib/config"
	"github.com/fleetglass/fleetglass/registry"
	"github.com/fleetglass/fleetglass/stream"
	"github.com/fleetglass/fleetglass/world"
)

// CommonFlags holds the flags shared by every command that loads
// configuration: the config file override and verbosity.
type CommonFlags struct {
	ConfigPath string
	Verbose    bool
}

// Register adds the shared flags to a command's flag set.
func (f *CommonFlags) Register(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&f.ConfigPath, "config", "",
		"config file path (default: $FLEETGLASS_CONFIG, else built-in defaults)")
	flagSet.BoolVarP(&f.Verbose, "verbose", "v", false,
		"enable debug logging")
}

// LoadConfig resolves the effective configuration: the --config flag
// wins, then the FLEETGLASS_CONFIG environment variable, then the
// built-in defaults.
func (f *CommonFlags) LoadConfig() (*config.Config, error) {
	if f.ConfigPath != "" {
		return config.LoadFile(f.ConfigPath)
	}
	return config.Load()
}

// Runtime bundles the world engine with the stores it was built from,
// so commands can tear the whole stack down with one Close.
type Runtime struct {
	Config   *config.Config
	Engine   *world.Engine
	Registry *registry.Store
}

// Close stops the engine and closes the registry database. Safe to
// call after a partial start.
func (r *Runtime) Close() {
	if r.Engine != nil {
		r.Engine.Close()
	}
	if r.Registry != nil {
		r.Registry.Close()
	}
}

// BuildDiscoverer opens the remote registry and constructs the
// discoverer over the local process scan plus registered remotes. The
// caller owns the returned store and must close it after the
// discoverer is no longer in use.
func BuildDiscoverer(cfg *config.Config, logger *slog.Logger) (*discovery.Discoverer, *registry.Store, error) {
	store, err := registry.Open(registry.Config{
		Path:   cfg.Registry.Path,
		Logger: logger,
	})
	if err != nil {
		return nil, nil, err
	}

	discoverer, err := discovery.New(discovery.Config{
		Scanner:            &discovery.LsofScanner{ProcessNames: cfg.Discovery.ProcessNames},
		Remotes:            store,
		Logger:             logger,
		ProbeTimeout:       cfg.Discovery.ProbeTimeout.Std(),
		RemoteProbeTimeout: cfg.Discovery.RemoteProbeTimeout.Std(),
		MaxProbes:          cfg.Discovery.MaxProbes,
	})
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return discoverer, store, nil
}

// BuildRuntime assembles the full observation stack from configuration:
// registry, discoverer, and world engine. The engine is constructed but
// not started; callers call Engine.Start themselves so they control the
// lifecycle context.
func BuildRuntime(cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	discoverer, store, err := BuildDiscoverer(cfg, logger)
	if err != nil {
		return nil, err
	}

	engine, err := world.NewEngine(world.Config{
		Discoverer:   discoverer,
		Logger:       logger,
		PollInterval: cfg.Discovery.Interval.Std(),
		SessionTTL:   cfg.Store.SessionIdleTTL.Std(),
		Stream: stream.Config{
			BackoffBase:    cfg.Stream.BackoffBase.Std(),
			BackoffCap:     cfg.Stream.BackoffCap.Std(),
			HealthInterval: cfg.Stream.HealthInterval.Std(),
			HealthTimeout:  cfg.Stream.SilenceThreshold.Std(),
		},
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	return &Runtime{Config: cfg, Engine: engine, Registry: store}, nil
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
// Commands use it as the lifecycle context for engines and servers so
// ctrl-c unwinds cleanly.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
