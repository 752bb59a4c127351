// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

package observe

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/fleetglass/fleetglass/agentapi"
	"github.com/fleetglass/fleetglass/cmd/fleetglass/cli"
	"github.com/fleetglass/fleetglass/discovery"
)

// SessionsCommand returns the "sessions" command: one discovery pass,
// one table of every session on every reachable instance.
func SessionsCommand() *cli.Command {
	var common cli.CommonFlags
	return &cli.Command{
		Name:    "sessions",
		Summary: "List sessions across all instances (one-shot)",
		Usage:   "fleetglass sessions [flags]",
		Examples: []cli.Example{
			{
				Description: "Snapshot the sessions on every reachable server",
				Command:     "fleetglass sessions",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("sessions", pflag.ContinueOnError)
			common.Register(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("sessions takes no arguments (got %q)", args[0])
			}
			instances, err := scanOnce(&common, discovery.ScanOptions{IncludeSessions: true})
			if err != nil {
				return err
			}
			renderSessions(os.Stdout, instances, time.Now())
			return nil
		},
	}
}

// InstancesCommand returns the "instances" command: one discovery
// pass, one table of every verified agent server.
func InstancesCommand() *cli.Command {
	var common cli.CommonFlags
	return &cli.Command{
		Name:    "instances",
		Summary: "List discovered agent servers (one-shot)",
		Usage:   "fleetglass instances [flags]",
		Examples: []cli.Example{
			{
				Description: "Show every agent server fleetglass can reach",
				Command:     "fleetglass instances",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("instances", pflag.ContinueOnError)
			common.Register(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("instances takes no arguments (got %q)", args[0])
			}
			instances, err := scanOnce(&common, discovery.ScanOptions{IncludeSessions: true})
			if err != nil {
				return err
			}
			renderInstances(os.Stdout, instances)
			return nil
		},
	}
}

// scanOnce runs a single discovery pass with the shared flags' config.
// A degraded pass (some probes failed, some instances found) is
// reported as a warning, not an error.
func scanOnce(common *cli.CommonFlags, options discovery.ScanOptions) ([]discovery.Instance, error) {
	cfg, err := common.LoadConfig()
	if err != nil {
		return nil, err
	}
	logger := cli.NewCommandLogger(common.Verbose)

	discoverer, store, err := cli.BuildDiscoverer(cfg, logger)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	ctx, stop := cli.SignalContext()
	defer stop()

	instances, err := discoverer.Scan(ctx, options)
	if err != nil {
		if len(instances) == 0 {
			return nil, err
		}
		logger.Warn("discovery pass degraded", "error", err)
	}
	return instances, nil
}

type sessionRow struct {
	session  agentapi.Session
	instance discovery.InstanceKey
}

func renderSessions(w io.Writer, instances []discovery.Instance, now time.Time) {
	var rows []sessionRow
	for _, instance := range instances {
		for _, session := range instance.Sessions {
			rows = append(rows, sessionRow{session: session, instance: instance.Key})
		}
	}
	if len(rows) == 0 {
		fmt.Fprintln(w, "no sessions found")
		return
	}

	// Most recently active first, matching the dashboard ordering.
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].session.Time.Updated != rows[j].session.Time.Updated {
			return rows[i].session.Time.Updated > rows[j].session.Time.Updated
		}
		return rows[i].session.ID < rows[j].session.ID
	})

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tTITLE\tINSTANCE\tUPDATED\tDIRECTORY")
	for _, row := range rows {
		title := row.session.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			row.session.ID, title, row.instance,
			age(now, row.session.Time.Updated), row.session.Directory)
	}
	tw.Flush()
}

func renderInstances(w io.Writer, instances []discovery.Instance) {
	if len(instances) == 0 {
		fmt.Fprintln(w, "no instances discovered")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tSOURCE\tNAME\tPID\tSESSIONS\tDIRECTORY")
	for _, instance := range instances {
		pid := "-"
		if instance.PID > 0 {
			pid = strconv.Itoa(instance.PID)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			instance.Key, instance.Source, instance.DisplayName(), pid,
			len(instance.Sessions), instance.Directory)
	}
	tw.Flush()
}

// age renders the gap between now and a Unix-millisecond timestamp as
// a single compact unit.
func age(now time.Time, unixMilli int64) string {
	if unixMilli <= 0 {
		return "-"
	}
	elapsed := now.Sub(time.UnixMilli(unixMilli))
	if elapsed < 0 {
		elapsed = 0
	}
	switch {
	case elapsed < time.Minute:
		return fmt.Sprintf("%ds", int(elapsed.Seconds()))
	case elapsed < time.Hour:
		return fmt.Sprintf("%dm", int(elapsed.Minutes()))
	case elapsed < 24*time.Hour:
		return fmt.Sprintf("%dh", int(elapsed.Hours()))
	default:
		return fmt.Sprintf("%dd", int(elapsed.Hours()/24))
	}
}
