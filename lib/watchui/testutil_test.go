// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

package watchui

import (
	"context"
	"testing"
	"time"

	"github.com/fleetglass/fleetglass/agentapi"
	"github.com/fleetglass/fleetglass/discovery"
	"github.com/fleetglass/fleetglass/stream"
	"github.com/fleetglass/fleetglass/world"
)

var testStart = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// noListeners is a discovery scanner that finds nothing. Engines built
// on it hold only what tests drive in through Inject.
type noListeners struct{}

func (noListeners) Listeners(context.Context) ([]discovery.Listener, error) {
	return nil, nil
}

// newWorldEngine builds an engine for snapshot construction. Start is
// never called, so no polling or streaming runs; Inject and Snapshot
// are the only moving parts.
func newWorldEngine(t *testing.T) *world.Engine {
	t.Helper()
	discoverer, err := discovery.New(discovery.Config{Scanner: noListeners{}})
	if err != nil {
		t.Fatalf("discovery.New: %v", err)
	}
	engine, err := world.NewEngine(world.Config{Discoverer: discoverer})
	if err != nil {
		t.Fatalf("world.NewEngine: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

func injectSession(engine *world.Engine, id, parentID, title string, updated int64) {
	engine.Inject("", &agentapi.SessionCreated{Info: agentapi.Session{
		ID:        id,
		ParentID:  parentID,
		Directory: "/work/app",
		Title:     title,
		Time:      agentapi.SessionTime{Created: updated - 1000, Updated: updated},
	}})
}

// enrichedSession builds a display session directly, for renderer
// tests that need no engine.
func enrichedSession(id, title string, state world.SessionState, lastActivity int64) world.EnrichedSession {
	return world.EnrichedSession{
		Info:           agentapi.Session{ID: id, Title: title, Directory: "/work/app"},
		Status:         world.StatusRecord{State: state},
		Active:         state == world.SessionRunning,
		LastActivityAt: lastActivity,
	}
}

// stubSource is a canned Source for model tests: fixed snapshot, fixed
// stream statuses, call counting for the pause switch.
type stubSource struct {
	state    world.WorldState
	statuses []stream.Status

	callback func(world.WorldState)

	pauses       int
	resumes      int
	unsubscribed int
}

func (s *stubSource) Snapshot() world.WorldState { return s.state }

func (s *stubSource) Subscribe(callback func(world.WorldState)) func() {
	s.callback = callback
	return func() { s.unsubscribed++ }
}

func (s *stubSource) StreamStatuses() []stream.Status { return s.statuses }

func (s *stubSource) Pause()  { s.pauses++ }
func (s *stubSource) Resume() { s.resumes++ }
