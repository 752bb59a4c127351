// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// IsExpectedCloseError reports whether err is a normal termination of a
// long-lived connection: EOF, closed connection, broken pipe, or
// connection reset. Agent servers drop their event streams without
// ceremony when they restart or exit, so the reconnect path treats all
// four as routine and logs them below error level.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}
