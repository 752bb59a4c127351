// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

package world

import (
	"encoding/json"
	"testing"

	"github.com/fleetglass/fleetglass/agentapi"
)

func newTestRouter() (*Router, *Store) {
	store := NewStore()
	return NewRouter(store, nil), store
}

func TestRouteSessionLifecycle(t *testing.T) {
	t.Parallel()

	router, store := newTestRouter()
	router.Apply("127.0.0.1:4096", &agentapi.SessionCreated{Info: session("ses_a", "/work/app", 1000)})

	c, _ := store.snapshotCollections()
	if _, ok := c.sessions["ses_a"]; !ok {
		t.Fatal("session not upserted")
	}
	if got := c.routing["ses_a"]; got != "127.0.0.1:4096" {
		t.Errorf("routing = %q, want event source", got)
	}

	updated := session("ses_a", "/work/app", 2000)
	updated.Title = "new title"
	router.Apply("127.0.0.1:4096", &agentapi.SessionUpdated{Info: updated})
	c, _ = store.snapshotCollections()
	if got := c.sessions["ses_a"].Title; got != "new title" {
		t.Errorf("Title = %q after update, want new title", got)
	}

	router.Apply("127.0.0.1:4096", &agentapi.SessionDeleted{Info: updated})
	c, _ = store.snapshotCollections()
	if len(c.sessions) != 0 {
		t.Error("session survived deletion")
	}
	if len(c.routing) != 0 {
		t.Error("routing survived deletion")
	}
}

func TestRouteStatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status agentapi.SessionStatus
		want   StatusRecord
	}{
		{
			name:   "busy maps to running",
			status: agentapi.SessionStatus{Type: "busy"},
			want:   StatusRecord{State: SessionRunning},
		},
		{
			name:   "idle maps to idle",
			status: agentapi.SessionStatus{Type: "idle"},
			want:   StatusRecord{State: SessionIdle},
		},
		{
			name:   "retry keeps metadata and counts as running",
			status: agentapi.SessionStatus{Type: "retry", Attempt: 3, Message: "overloaded", Next: 1234},
			want:   StatusRecord{State: SessionRunning, RetryAttempt: 3, RetryMessage: "overloaded", RetryNextAt: 1234},
		},
		{
			name:   "unknown future type counts as running",
			status: agentapi.SessionStatus{Type: "thinking-hard"},
			want:   StatusRecord{State: SessionRunning},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			router, store := newTestRouter()
			router.Apply("", &agentapi.SessionStatusChanged{SessionID: "ses_a", Status: test.status})
			c, _ := store.snapshotCollections()
			if got := c.statuses["ses_a"]; got != test.want {
				t.Errorf("status = %+v, want %+v", got, test.want)
			}
		})
	}
}

func TestRouteExplicitIdleOverridesRunning(t *testing.T) {
	t.Parallel()

	router, store := newTestRouter()
	router.Apply("", &agentapi.SessionStatusChanged{SessionID: "ses_a", Status: agentapi.SessionStatus{Type: "busy"}})
	router.Apply("", &agentapi.SessionIdle{SessionID: "ses_a"})

	c, _ := store.snapshotCollections()
	if got := c.statuses["ses_a"].State; got != SessionIdle {
		t.Errorf("State = %q, want idle override", got)
	}
}

func TestRouteSessionError(t *testing.T) {
	t.Parallel()

	router, store := newTestRouter()
	router.Apply("", &agentapi.SessionErrored{
		SessionID: "ses_a",
		Error:     agentapi.ErrorInfo{Name: "ProviderAuthError", Message: "key expired"},
	})

	c, _ := store.snapshotCollections()
	record := c.statuses["ses_a"]
	if record.State != SessionError {
		t.Fatalf("State = %q, want error", record.State)
	}
	if record.Err == nil || record.Err.Name != "ProviderAuthError" {
		t.Errorf("Err = %+v, want error details preserved", record.Err)
	}
}

func TestRouteServerScopedErrorTolerated(t *testing.T) {
	t.Parallel()

	router, store := newTestRouter()
	// No session ID: a server-scoped failure. Must not panic and must
	// not invent a status entry.
	router.Apply("", &agentapi.SessionErrored{Error: agentapi.ErrorInfo{Name: "UnknownError"}})

	c, _ := store.snapshotCollections()
	if len(c.statuses) != 0 {
		t.Errorf("statuses = %d, want none for a server-scoped error", len(c.statuses))
	}
}

func TestRouteContentMarksRunning(t *testing.T) {
	t.Parallel()

	router, store := newTestRouter()
	router.Apply("", &agentapi.SessionCreated{Info: session("ses_a", "/work/app", 1000)})
	router.Apply("", &agentapi.MessageUpdated{Info: agentapi.Message{
		ID: "msg_1", SessionID: "ses_a", Role: agentapi.RoleAssistant,
		Time: agentapi.MessageTime{Created: 1100},
	}})

	c, _ := store.snapshotCollections()
	if got := c.statuses["ses_a"].State; got != SessionRunning {
		t.Errorf("State = %q after message, want running", got)
	}

	router.Apply("", &agentapi.PartUpdated{Part: agentapi.Part{
		ID: "prt_1", SessionID: "ses_b", MessageID: "msg_2", Type: agentapi.PartText,
	}})
	c, _ = store.snapshotCollections()
	if got := c.statuses["ses_b"].State; got != SessionRunning {
		t.Errorf("State = %q after part, want running", got)
	}
}

func TestReplayStatusesLastOverrideSideEffect(t *testing.T) {
	t.Parallel()

	router, store := newTestRouter()
	// Bootstrap order: session, content, then the explicit status.
	// The replayed idle must win over the running side effect, so
	// historical content does not read as currently active.
	router.Apply("", &agentapi.SessionCreated{Info: session("ses_a", "/work/app", 1000)})
	router.Apply("", &agentapi.MessageUpdated{Info: agentapi.Message{
		ID: "msg_1", SessionID: "ses_a", Role: agentapi.RoleAssistant,
		Time: agentapi.MessageTime{Created: 900, Completed: 950},
	}})
	router.Apply("", &agentapi.SessionIdle{SessionID: "ses_a"})

	c, _ := store.snapshotCollections()
	if got := c.statuses["ses_a"].State; got != SessionIdle {
		t.Errorf("State = %q after replay, want idle", got)
	}
}

func TestRouteMessageAndPartRemoval(t *testing.T) {
	t.Parallel()

	router, store := newTestRouter()
	router.Apply("", &agentapi.MessageUpdated{Info: agentapi.Message{ID: "msg_1", SessionID: "ses_a", Role: agentapi.RoleUser}})
	router.Apply("", &agentapi.PartUpdated{Part: agentapi.Part{ID: "prt_1", SessionID: "ses_a", MessageID: "msg_1", Type: agentapi.PartText}})

	router.Apply("", &agentapi.PartRemoved{SessionID: "ses_a", MessageID: "msg_1", PartID: "prt_1"})
	c, _ := store.snapshotCollections()
	if len(c.parts) != 0 {
		t.Error("part survived removal")
	}

	router.Apply("", &agentapi.MessageRemoved{SessionID: "ses_a", MessageID: "msg_1"})
	c, _ = store.snapshotCollections()
	if len(c.messages) != 0 {
		t.Error("message survived removal")
	}
}

func TestRouteUnknownKindDropped(t *testing.T) {
	t.Parallel()

	router, store := newTestRouter()
	before := store.Version()
	router.Route("", agentapi.EventEnvelope{
		Type:       "lsp.client.diagnostics",
		Properties: json.RawMessage(`{"path": "/tmp/x.go"}`),
	})
	if got := store.Version(); got != before {
		t.Errorf("Version = %d after unknown event, want unchanged %d", got, before)
	}
}

func TestRouteUndecodablePayloadDropped(t *testing.T) {
	t.Parallel()

	router, store := newTestRouter()
	before := store.Version()
	router.Route("", agentapi.EventEnvelope{
		Type:       agentapi.EventSessionCreated,
		Properties: json.RawMessage(`{"info": "not-an-object"`),
	})
	if got := store.Version(); got != before {
		t.Errorf("Version = %d after undecodable event, want unchanged %d", got, before)
	}
}

func TestRouteReservedHooksAreNoops(t *testing.T) {
	t.Parallel()

	router, store := newTestRouter()
	router.Apply("", &agentapi.SessionCompacted{SessionID: "ses_a"})
	router.Apply("", &agentapi.SessionDiff{SessionID: "ses_a", Files: []agentapi.DiffFile{{Path: "main.go", Additions: 3}}})
	router.Apply("", &agentapi.ServerHeartbeat{})

	c, _ := store.snapshotCollections()
	if len(c.sessions)+len(c.statuses)+len(c.messages)+len(c.parts) != 0 {
		t.Error("reserved hooks mutated the store")
	}
}
