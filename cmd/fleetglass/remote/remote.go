// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

// Package remote manages the registry of remote agent servers that
// discovery folds into every scan.
package remote

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/fleetglass/fleetglass/cmd/fleetglass/cli"
	"github.com/fleetglass/fleetglass/registry"
)

// Command returns the "remote" command group: add, remove, list.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "remote",
		Summary: "Manage registered remote agent servers",
		Description: `Manage the remote server registry.

Discovery finds local servers by scanning listening processes; servers
on other machines have to be registered here. Registered remotes are
probed on every discovery pass alongside local candidates, and their
sessions appear in the dashboard and reports like any other instance.`,
		Subcommands: []*cli.Command{
			addCommand(),
			removeCommand(),
			listCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "Register a server reachable directly",
				Command:     "fleetglass remote add https://build.example.com:4096",
			},
			{
				Description: "Register a server behind an SSH tunnel",
				Command:     "fleetglass remote add https://build.example.com:4096 --proxy 127.0.0.1:9922",
			},
		},
	}
}

func addCommand() *cli.Command {
	var common cli.CommonFlags
	var name string
	var proxyAddress string
	return &cli.Command{
		Name:    "add",
		Summary: "Register a remote agent server by URL",
		Usage:   "fleetglass remote add <url> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("add", pflag.ContinueOnError)
			common.Register(flagSet)
			flagSet.StringVar(&name, "name", "", "display name shown in the dashboard")
			flagSet.StringVar(&proxyAddress, "proxy", "",
				"host:port to dial instead of the URL host (SSH tunnel, port forward)")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("remote add takes exactly one URL argument")
			}
			store, err := openRegistry(&common)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, stop := cli.SignalContext()
			defer stop()
			err = store.Add(ctx, registry.Remote{
				URL:          args[0],
				Name:         name,
				ProxyAddress: proxyAddress,
			})
			if err != nil {
				return err
			}
			fmt.Printf("registered %s\n", args[0])
			return nil
		},
	}
}

func removeCommand() *cli.Command {
	var common cli.CommonFlags
	return &cli.Command{
		Name:    "remove",
		Summary: "Remove a registered remote",
		Usage:   "fleetglass remote remove <url> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("remove", pflag.ContinueOnError)
			common.Register(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("remote remove takes exactly one URL argument")
			}
			store, err := openRegistry(&common)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, stop := cli.SignalContext()
			defer stop()
			if err := store.Remove(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("removed %s\n", args[0])
			return nil
		},
	}
}

func listCommand() *cli.Command {
	var common cli.CommonFlags
	return &cli.Command{
		Name:    "list",
		Summary: "List registered remotes",
		Usage:   "fleetglass remote list [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
			common.Register(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("remote list takes no arguments (got %q)", args[0])
			}
			store, err := openRegistry(&common)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, stop := cli.SignalContext()
			defer stop()
			remotes, err := store.List(ctx)
			if err != nil {
				return err
			}
			renderRemotes(os.Stdout, remotes)
			return nil
		},
	}
}

func openRegistry(common *cli.CommonFlags) (*registry.Store, error) {
	cfg, err := common.LoadConfig()
	if err != nil {
		return nil, err
	}
	logger := cli.NewCommandLogger(common.Verbose)
	return registry.Open(registry.Config{
		Path:   cfg.Registry.Path,
		Logger: logger,
	})
}

func renderRemotes(w io.Writer, remotes []registry.Remote) {
	if len(remotes) == 0 {
		fmt.Fprintln(w, "no remotes registered")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "URL\tNAME\tPROXY\tADDED")
	for _, remote := range remotes {
		name := remote.Name
		if name == "" {
			name = "-"
		}
		proxy := remote.ProxyAddress
		if proxy == "" {
			proxy = "-"
		}
		added := "-"
		if remote.AddedAt > 0 {
			added = time.UnixMilli(remote.AddedAt).Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", remote.URL, name, proxy, added)
	}
	tw.Flush()
}
