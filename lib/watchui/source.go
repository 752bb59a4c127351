// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

package watchui

import (
	"github.com/fleetglass/fleetglass/stream"
	"github.com/fleetglass/fleetglass/world"
)

// Source is what the watch TUI consumes: snapshots, change
// notifications, per-stream diagnostics, and the pause switch for
// terminal focus. [world.Engine] satisfies it directly; tests supply a
// stub so the model runs without discovery or network.
type Source interface {
	// Snapshot returns the current world state.
	Snapshot() world.WorldState

	// Subscribe registers a callback invoked after each state change.
	// The returned function cancels the subscription.
	Subscribe(callback func(world.WorldState)) func()

	// StreamStatuses reports per-instance event stream diagnostics.
	StreamStatuses() []stream.Status

	// Pause suspends discovery polling; Resume restarts it. The TUI
	// calls these on terminal blur and focus.
	Pause()
	Resume()
}

var _ Source = (*world.Engine)(nil)
