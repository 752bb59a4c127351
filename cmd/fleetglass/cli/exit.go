// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import "fmt"

// ExitError signals a non-zero exit code without printing an extra
// error message. The main function checks for the ExitCode interface on
// returned errors to distinguish "handled non-zero exit" from
// "unexpected error to display". Commands that return it are expected
// to have written their own output already.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// ExitCode returns the process exit code for this error.
func (e *ExitError) ExitCode() int {
	return e.Code
}
