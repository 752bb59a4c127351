// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

// Package world aggregates every discovered agent server into one
// coherent, continuously updated view.
//
// The [Engine] is the package's facade. It owns the discovery poll
// loop, hands each discovered instance to the stream manager, and
// routes the resulting events into a normalized [Store]. Consumers
// never see the moving parts: they call [Engine.Snapshot] for the
// current [WorldState], or [Engine.Subscribe] and [Engine.Iterate] to
// follow changes.
//
// State lives in two layers. The [Store] holds normalized collections
// (instances, sessions, messages, parts, statuses, and the
// session-to-instance routing map) behind a single mutex, so every
// mutation is atomic with respect to reads and per-instance arrival
// order is preserved. The [Router] applies decoded events to the
// store one at a time and never propagates a failure: a malformed or
// unknown event is logged and dropped so it cannot wedge the stream
// behind it. [WorldState] is derived from the collections by a pure
// function and cached by store version, so repeated snapshots of an
// unchanged world cost nothing.
//
// Newly discovered instances are bootstrapped by replaying their
// existing sessions and message history through the same router as
// live events, statuses last, so historical content never leaves a
// session looking active.
//
// [WorldState.SessionTree] arranges sessions into the parent/child
// hierarchy used for display, bounding depth and fanout so a runaway
// agent spawning subtasks cannot produce an unbounded tree.
package world
