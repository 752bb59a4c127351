// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

// Package watchui implements the fleetglass watch terminal interface.
// Built on bubbletea (Elm architecture), it provides a split-pane view
// over the aggregated world: a live session list on the left and a
// scrollable session transcript on the right, plus an instances tab
// showing per-stream connection diagnostics.
//
// The UI consumes the engine through the narrow [Source] interface
// rather than depending on *world.Engine directly, so tests drive it
// with an in-memory engine fed by injected events and never open a
// network connection.
//
// Data flow:
//
//	[world.Engine]
//	      | Subscribe (latest-wins snapshot channel)
//	  [Model] <- bubbletea event loop
//	      |
//	[terminal output]
//
// Snapshots are immutable values, so the model never locks: each
// worldMsg replaces the previous snapshot wholesale and the next View
// renders from it. Terminal focus reports (tea.FocusMsg/tea.BlurMsg)
// pause and resume the engine's discovery loop so a backgrounded
// watcher stops probing ports while its event streams stay live.
package watchui
