// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

// Package observe holds the commands that look at the live world: the
// full-screen watch dashboard and the one-shot sessions and instances
// reports.
package observe

import (
	"fmt"
	"log/slog"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"github.com/fleetglass/fleetglass/cmd/fleetglass/cli"
	"github.com/fleetglass/fleetglass/lib/watchui"
)

// WatchCommand returns the "watch" command: the full-screen terminal
// dashboard over every discovered agent session.
func WatchCommand() *cli.Command {
	var common cli.CommonFlags
	return &cli.Command{
		Name:    "watch",
		Summary: "Live terminal dashboard of all agent sessions",
		Description: `Open the live terminal dashboard.

Fleetglass discovers agent servers on this machine (plus any registered
remotes), attaches to their event streams, and renders every session as
it runs: status, context usage, and the streaming transcript. The view
follows new sessions as they appear and drops instances that go away.`,
		Usage: "fleetglass watch [flags]",
		Examples: []cli.Example{
			{
				Description: "Watch everything with default settings",
				Command:     "fleetglass watch",
			},
			{
				Description: "Watch with an explicit config file",
				Command:     "fleetglass watch --config ~/fleetglass.yaml",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("watch", pflag.ContinueOnError)
			common.Register(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("watch takes no arguments (got %q)", args[0])
			}
			cfg, err := common.LoadConfig()
			if err != nil {
				return err
			}

			// Engine logs render inside the dashboard's status line, not
			// on stderr: stderr would fight the alternate screen.
			level := slog.LevelInfo
			if common.Verbose {
				level = slog.LevelDebug
			}
			handler := watchui.NewTUILogHandler(level)
			logger := slog.New(handler)

			runtime, err := cli.BuildRuntime(cfg, logger)
			if err != nil {
				return err
			}
			defer runtime.Close()

			ctx, stop := cli.SignalContext()
			defer stop()
			runtime.Engine.Start(ctx)

			model := watchui.NewModel(runtime.Engine)
			defer model.Close()

			program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithReportFocus())
			handler.SetProgram(program)

			// SIGTERM lands on the context, not on the terminal; forward
			// it so the program restores the screen before exit.
			go func() {
				<-ctx.Done()
				program.Quit()
			}()

			if _, err := program.Run(); err != nil {
				return fmt.Errorf("running dashboard: %w", err)
			}
			return nil
		},
	}
}
