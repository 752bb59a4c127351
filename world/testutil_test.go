// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

package world

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/fleetglass/fleetglass/agentapi"
	"github.com/fleetglass/fleetglass/discovery"
	"github.com/fleetglass/fleetglass/lib/clock"
)

var testStart = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// fakeScanner serves a mutable listener set, letting tests grow and
// shrink the discovered world between poll passes.
type fakeScanner struct {
	mu        sync.Mutex
	listeners []discovery.Listener
}

func (f *fakeScanner) Listeners(ctx context.Context) ([]discovery.Listener, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]discovery.Listener(nil), f.listeners...), nil
}

func (f *fakeScanner) set(listeners ...discovery.Listener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = listeners
}

// agentServer fakes one agent server end to end: the project probe
// discovery verifies against, the session and message history
// bootstrap fetches, and the live event stream.
type agentServer struct {
	t      *testing.T
	server *httptest.Server
	frames chan string

	mu       sync.Mutex
	sessions []agentapi.Session
	messages map[string][]agentapi.MessageWithParts
}

func newAgentServer(t *testing.T, directory string) *agentServer {
	t.Helper()
	a := &agentServer{
		t:        t,
		frames:   make(chan string, 64),
		messages: make(map[string][]agentapi.MessageWithParts),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /project/current", func(writer http.ResponseWriter, request *http.Request) {
		json.NewEncoder(writer).Encode(agentapi.ProjectInfo{Directory: directory, Name: "proj"})
	})
	mux.HandleFunc("GET /session", func(writer http.ResponseWriter, request *http.Request) {
		a.mu.Lock()
		sessions := append([]agentapi.Session{}, a.sessions...)
		a.mu.Unlock()
		json.NewEncoder(writer).Encode(sessions)
	})
	mux.HandleFunc("GET /session/{id}/message", func(writer http.ResponseWriter, request *http.Request) {
		a.mu.Lock()
		messages := append([]agentapi.MessageWithParts{}, a.messages[request.PathValue("id")]...)
		a.mu.Unlock()
		json.NewEncoder(writer).Encode(messages)
	})
	mux.HandleFunc("GET /global/event", func(writer http.ResponseWriter, request *http.Request) {
		flusher, ok := writer.(http.Flusher)
		if !ok {
			http.Error(writer, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		writer.Header().Set("Content-Type", "text/event-stream")
		writer.WriteHeader(http.StatusOK)
		flusher.Flush()
		for {
			select {
			case frame := <-a.frames:
				fmt.Fprint(writer, frame)
				flusher.Flush()
			case <-request.Context().Done():
				return
			}
		}
	})

	a.server = httptest.NewServer(mux)
	t.Cleanup(a.server.Close)
	return a
}

func (a *agentServer) port() int {
	a.t.Helper()
	parsed, err := url.Parse(a.server.URL)
	if err != nil {
		a.t.Fatalf("parsing server URL: %v", err)
	}
	port, err := strconv.Atoi(parsed.Port())
	if err != nil {
		a.t.Fatalf("parsing server port: %v", err)
	}
	return port
}

func (a *agentServer) listener() discovery.Listener {
	return discovery.Listener{Port: a.port(), PID: 4312, Command: "opencode"}
}

func (a *agentServer) key() discovery.InstanceKey {
	return discovery.InstanceKey("127.0.0.1:" + strconv.Itoa(a.port()))
}

// setHistory installs the sessions and messages bootstrap will fetch.
func (a *agentServer) setHistory(sessions []agentapi.Session, messages map[string][]agentapi.MessageWithParts) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions = sessions
	if messages == nil {
		messages = map[string][]agentapi.MessageWithParts{}
	}
	a.messages = messages
}

// push sends one event down the live stream.
func (a *agentServer) push(event agentapi.Event) {
	a.t.Helper()
	envelope, err := agentapi.NewEnvelope(event)
	if err != nil {
		a.t.Fatalf("NewEnvelope: %v", err)
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		a.t.Fatalf("marshaling envelope: %v", err)
	}
	a.frames <- "data: " + string(payload) + "\n\n"
}

// newTestEngine builds an engine on a fake clock, wired to the given
// scanner, and closes it with the test.
func newTestEngine(t *testing.T, scanner *fakeScanner, fake *clock.FakeClock) *Engine {
	t.Helper()
	discoverer, err := discovery.New(discovery.Config{Scanner: scanner})
	if err != nil {
		t.Fatalf("discovery.New: %v", err)
	}
	engine, err := NewEngine(Config{Discoverer: discoverer, Clock: fake})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

// session builds a session value with sane timestamps.
func session(id, directory string, updated int64) agentapi.Session {
	return agentapi.Session{
		ID:        id,
		Directory: directory,
		Title:     "work on " + id,
		Time:      agentapi.SessionTime{Created: updated - 1000, Updated: updated},
	}
}
