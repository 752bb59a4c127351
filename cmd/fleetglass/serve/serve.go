// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

// Package serve exposes the aggregated world over HTTP: snapshot and
// event-stream endpoints for dashboards, plus a transparent proxy to
// individual instances.
package serve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/spf13/pflag"

	"github.com/fleetglass/fleetglass/cmd/fleetglass/cli"
	"github.com/fleetglass/fleetglass/proxy"
	"github.com/fleetglass/fleetglass/stream"
	"github.com/fleetglass/fleetglass/world"
)

// shutdownTimeout bounds the drain of in-flight requests once the
// lifecycle context is cancelled. SSE connections close immediately
// because their request contexts descend from the server's base
// context.
const shutdownTimeout = 5 * time.Second

// Command returns the "serve" command: run the observation engine and
// publish the world over HTTP.
func Command() *cli.Command {
	var common cli.CommonFlags
	var listen string
	return &cli.Command{
		Name:    "serve",
		Summary: "Serve the aggregated world over HTTP",
		Description: `Run the observation engine headless and expose it over HTTP.

Endpoints:
  GET /v1/world            current world snapshot as JSON
  GET /v1/world/events     server-sent events, one world snapshot per change
  GET /v1/instances        per-instance stream diagnostics
  ANY /instance/{key}/...  transparent proxy to one instance's own API

The proxy route lets web dashboards reach any discovered server through
a single origin, including servers that are only reachable from this
machine.`,
		Usage: "fleetglass serve [flags]",
		Examples: []cli.Example{
			{
				Description: "Serve on the default address",
				Command:     "fleetglass serve",
			},
			{
				Description: "Serve on all interfaces",
				Command:     "fleetglass serve --listen 0.0.0.0:7450",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("serve", pflag.ContinueOnError)
			common.Register(flagSet)
			flagSet.StringVar(&listen, "listen", "", "listen address (overrides config)")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("serve takes no arguments (got %q)", args[0])
			}
			cfg, err := common.LoadConfig()
			if err != nil {
				return err
			}
			logger := cli.NewCommandLogger(common.Verbose).With("command", "serve")

			runtime, err := cli.BuildRuntime(cfg, logger)
			if err != nil {
				return err
			}
			defer runtime.Close()

			ctx, stop := cli.SignalContext()
			defer stop()
			runtime.Engine.Start(ctx)

			handler, err := newHandler(runtime.Engine, logger)
			if err != nil {
				return err
			}

			address := listen
			if address == "" {
				address = cfg.Serve.Listen
			}
			server := &http.Server{
				Addr:    address,
				Handler: handler,
				BaseContext: func(net.Listener) context.Context {
					return ctx
				},
			}

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					logger.Warn("shutdown incomplete", "error", err)
				}
			}()

			logger.Info("serving world state", "listen", address)
			if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serving on %s: %w", address, err)
			}
			return nil
		},
	}
}

// newHandler builds the HTTP routing for the serve command around a
// world engine.
func newHandler(engine *world.Engine, logger *slog.Logger) (http.Handler, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	proxyHandler, err := proxy.New(proxy.Config{
		Resolver: engine,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	s := &server{engine: engine, logger: logger}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/world", s.handleWorld)
	mux.HandleFunc("GET /v1/world/events", s.handleWorldEvents)
	mux.HandleFunc("GET /v1/instances", s.handleInstances)
	mux.Handle("/instance/{key}", proxyHandler)
	mux.Handle("/instance/{key}/{path...}", proxyHandler)
	return mux, nil
}

type server struct {
	engine *world.Engine
	logger *slog.Logger
}

func (s *server) handleWorld(w http.ResponseWriter, r *http.Request) {
	state := s.engine.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(state); err != nil {
		s.logger.Debug("snapshot write failed", "error", err)
	}
}

// handleWorldEvents streams world snapshots as server-sent events: the
// current state immediately, then one event per change, coalesced under
// load so a slow consumer always receives the newest state.
func (s *server) handleWorldEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for state := range s.engine.Iterate(r.Context()) {
		payload, err := json.Marshal(state)
		if err != nil {
			s.logger.Warn("snapshot marshal failed", "error", err)
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return
		}
		flusher.Flush()
	}
}

// instanceDiagnostic is one row of the /v1/instances response: the
// instance as the world sees it plus its event stream counters.
type instanceDiagnostic struct {
	world.Instance
	Stream *streamDiagnostic `json:"stream,omitempty"`
}

type streamDiagnostic struct {
	State     stream.ConnState `json:"state"`
	LastEvent time.Time        `json:"lastEvent"`
	Attempts  int              `json:"attempts"`
	Connects  int              `json:"connects"`
	Received  uint64           `json:"received"`
}

func (s *server) handleInstances(w http.ResponseWriter, r *http.Request) {
	state := s.engine.Snapshot()

	diagnostics := make([]instanceDiagnostic, 0, len(state.Instances))
	for _, instance := range state.Instances {
		row := instanceDiagnostic{Instance: instance}
		if status, ok := s.engine.StreamStatus(instance.Key); ok {
			row.Stream = &streamDiagnostic{
				State:     status.State,
				LastEvent: status.LastEvent,
				Attempts:  status.Attempts,
				Connects:  status.Connects,
				Received:  status.Received,
			}
		}
		diagnostics = append(diagnostics, row)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(diagnostics); err != nil {
		s.logger.Debug("diagnostics write failed", "error", err)
	}
}
