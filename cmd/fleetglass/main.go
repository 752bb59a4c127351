// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/fleetglass/fleetglass/cmd/fleetglass/commands"
)

func main() {
	if err := run(); err != nil {
		// Commands that already printed their own output return an
		// ExitError with the desired code; don't add a redundant
		// "error:" line for those.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	return commands.Root().Execute(os.Args[1:])
}
