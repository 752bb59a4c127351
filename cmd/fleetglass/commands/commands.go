// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the complete fleetglass CLI command tree.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	capturecmd "github.com/fleetglass/fleetglass/cmd/fleetglass/capture"
	"github.com/fleetglass/fleetglass/cmd/fleetglass/cli"
	observecmd "github.com/fleetglass/fleetglass/cmd/fleetglass/observe"
	remotecmd "github.com/fleetglass/fleetglass/cmd/fleetglass/remote"
	servecmd "github.com/fleetglass/fleetglass/cmd/fleetglass/serve"
	"github.com/fleetglass/fleetglass/lib/version"
)

// Root builds and returns the complete fleetglass command tree.
func Root() *cli.Command {
	var showVersion bool
	root := &cli.Command{
		Name: "fleetglass",
		Description: `Fleetglass: live observation of every agent server you can reach.

Fleetglass discovers running agent server processes, attaches to their
event streams, and aggregates sessions, messages, and health into one
world view: a terminal dashboard, one-shot reports, an HTTP endpoint,
or a recording you can replay later.`,
		Subcommands: []*cli.Command{
			observecmd.WatchCommand(),
			observecmd.SessionsCommand(),
			observecmd.InstancesCommand(),
			remotecmd.Command(),
			servecmd.Command(),
			capturecmd.Command(),
			capturecmd.ReplayCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					fmt.Printf("fleetglass %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "Open the live dashboard",
				Command:     "fleetglass watch",
			},
			{
				Description: "See which agent servers are running right now",
				Command:     "fleetglass instances",
			},
			{
				Description: "Register a server on another machine",
				Command:     "fleetglass remote add https://build.example.com:4096",
			},
			{
				Description: "Publish the aggregated world over HTTP",
				Command:     "fleetglass serve --listen 127.0.0.1:7450",
			},
			{
				Description: "Record an instance's event stream for later analysis",
				Command:     "fleetglass capture http://127.0.0.1:4096 -o debug.fgcap",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("fleetglass", pflag.ContinueOnError)
			flagSet.BoolVar(&showVersion, "version", false, "print version and exit")
			return flagSet
		},
	}
	root.Run = func(args []string) error {
		if showVersion {
			fmt.Printf("fleetglass %s\n", version.Info())
			return nil
		}
		root.PrintHelp(os.Stderr)
		return fmt.Errorf("subcommand required")
	}
	return root
}
