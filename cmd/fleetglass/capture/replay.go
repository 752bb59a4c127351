// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/fleetglass/fleetglass/capture"
	"github.com/fleetglass/fleetglass/cmd/fleetglass/cli"
	"github.com/fleetglass/fleetglass/discovery"
	"github.com/fleetglass/fleetglass/world"
)

// nullScanner disables local discovery for replay engines: the only
// instances a replay knows are the ones its events mention.
type nullScanner struct{}

func (nullScanner) Listeners(context.Context) ([]discovery.Listener, error) {
	return nil, nil
}

// ReplayCommand returns the "replay" command: run a capture file or a
// JSONC scenario through the aggregation engine and print the world it
// derives.
func ReplayCommand() *cli.Command {
	var common cli.CommonFlags
	return &cli.Command{
		Name:    "replay",
		Summary: "Replay a capture file or scenario and print the derived world",
		Description: `Replay recorded events through the aggregation engine.

Accepts a capture file from "fleetglass capture", or a JSONC scenario
(.json/.jsonc) describing a synthetic event sequence. The events run
through the same routing and derivation as live streams, and the
resulting world is printed as a session table. Useful for inspecting
recordings and for reproducing aggregation bugs from a file.`,
		Usage: "fleetglass replay <file> [flags]",
		Examples: []cli.Example{
			{
				Description: "Inspect a recording",
				Command:     "fleetglass replay debug.fgcap",
			},
			{
				Description: "Run a scripted scenario",
				Command:     "fleetglass replay testdata/parallel-sessions.jsonc",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("replay", pflag.ContinueOnError)
			common.Register(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("replay takes exactly one file argument")
			}
			return runReplay(os.Stdout, os.Stderr, args[0])
		},
	}
}

func runReplay(out, errOut io.Writer, path string) error {
	discoverer, err := discovery.New(discovery.Config{Scanner: nullScanner{}})
	if err != nil {
		return err
	}
	engine, err := world.NewEngine(world.Config{Discoverer: discoverer})
	if err != nil {
		return err
	}
	defer engine.Close()

	var frames int64
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		scenario, err := capture.LoadScenario(path)
		if err != nil {
			return err
		}
		frames = int64(scenario.Replay(engine))
		fmt.Fprintf(out, "scenario %q: %d events as %s\n", scenario.Name, frames, scenario.InstanceKey())
	default:
		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()

		reader, err := capture.NewReader(file)
		if err != nil {
			return err
		}
		frames, err = capture.Replay(reader, engine)
		if err != nil {
			if !errors.Is(err, capture.ErrTruncated) {
				return err
			}
			// A cut-off recording still replayed its prefix; show what
			// there is.
			fmt.Fprintf(errOut, "warning: %s is truncated, showing the replayed prefix\n", path)
		}
		meta := reader.Meta()
		fmt.Fprintf(out, "capture of %s: %d frames\n", meta.Instance, frames)
	}

	writeWorldSummary(out, engine.Snapshot())
	return nil
}

// writeWorldSummary prints the derived world as counts plus a session
// table, most recently active first.
func writeWorldSummary(w io.Writer, state world.WorldState) {
	fmt.Fprintf(w, "sessions: %d (%d running), streaming messages: %d\n",
		state.Stats.Sessions, state.Stats.ActiveSessions, state.Stats.StreamingMessages)
	if len(state.Sessions) == 0 {
		return
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tSTATE\tMESSAGES\tTITLE")
	for _, session := range state.Sessions {
		title := session.Info.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n",
			session.Info.ID, session.Status.State, len(session.Messages), title)
	}
	tw.Flush()
}
