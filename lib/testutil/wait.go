// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import "time"

// Eventually polls condition every millisecond until it returns true,
// or fails the test when timeout expires. Use it to observe state owned
// by another goroutine (a connection state transition, a subscriber
// notification) without racing against it.
//
//	testutil.Eventually(t, func() bool { return sink.Count() == 2 },
//		5*time.Second, "waiting for both events")
func Eventually(t interface {
	Helper()
	Fatalf(format string, args ...any)
}, condition func() bool, timeout time.Duration, msgAndArgs ...any) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(time.Millisecond) //nolint:realclock test condition polling
	}
	t.Fatalf("timed out after %v: %s", timeout, formatMessage(msgAndArgs))
}
