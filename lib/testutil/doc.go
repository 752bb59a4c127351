// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for Fleetglass packages.
//
// [RequireReceive], [RequireSend], and [RequireClosed] encapsulate the
// timeout safety valve pattern (select with time.After fallback) so
// that individual tests do not need direct time.After calls.
//
// [Eventually] polls a condition owned by another goroutine until it
// holds. Tests that exercise stream supervisors or engine subscribers
// use it to wait for a state transition instead of sleeping.
//
// [UniqueID] generates monotonically increasing identifiers for test
// disambiguation. Use it instead of time.Now() when tests need session
// or message IDs that must stay distinguishable across subtests.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
//
// This package has no Fleetglass-internal dependencies.
package testutil
