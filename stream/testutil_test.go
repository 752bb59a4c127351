// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/fleetglass/fleetglass/agentapi"
	"github.com/fleetglass/fleetglass/discovery"
)

// eventServer is a controllable event endpoint. Tests push frames to
// the active stream connection, reject connection attempts to force
// the backoff path, or drop the active stream to simulate a server
// close.
type eventServer struct {
	server *httptest.Server
	frames chan string
	drops  chan struct{}

	mu      sync.Mutex
	conns   int
	rejects int
}

func newEventServer(t *testing.T) *eventServer {
	t.Helper()
	es := &eventServer{
		frames: make(chan string, 16),
		drops:  make(chan struct{}, 1),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /global/event", func(writer http.ResponseWriter, request *http.Request) {
		es.mu.Lock()
		es.conns++
		reject := es.rejects > 0
		if reject {
			es.rejects--
		}
		es.mu.Unlock()
		if reject {
			http.Error(writer, "not ready", http.StatusServiceUnavailable)
			return
		}

		flusher := writer.(http.Flusher)
		writer.Header().Set("Content-Type", "text/event-stream")
		writer.WriteHeader(http.StatusOK)
		flusher.Flush()
		for {
			select {
			case frame := <-es.frames:
				fmt.Fprint(writer, frame)
				flusher.Flush()
			case <-es.drops:
				return
			case <-request.Context().Done():
				return
			}
		}
	})
	es.server = httptest.NewServer(mux)
	t.Cleanup(es.server.Close)
	return es
}

// instance returns a discovery descriptor pointing at the test server.
func (es *eventServer) instance(key discovery.InstanceKey) discovery.Instance {
	return discovery.Instance{
		Key:       key,
		BaseURL:   es.server.URL,
		Source:    discovery.SourceLocal,
		Directory: "/work/app",
	}
}

// push queues one event frame for the active stream connection.
func (es *eventServer) push(payload string) {
	es.frames <- "data: " + payload + "\n\n"
}

// dropStream makes the active handler return, closing the stream from
// the server side without an error on the wire.
func (es *eventServer) dropStream() {
	es.drops <- struct{}{}
}

// connections returns how many times the event endpoint was opened.
func (es *eventServer) connections() int {
	es.mu.Lock()
	defer es.mu.Unlock()
	return es.conns
}

// rejectNext makes the next n connection attempts fail with a 503.
func (es *eventServer) rejectNext(n int) {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.rejects = n
}

// recordingSink captures everything the manager delivers.
type recordingSink struct {
	mu     sync.Mutex
	events []receivedEvent
	states []stateChange
}

type receivedEvent struct {
	source   discovery.InstanceKey
	envelope agentapi.EventEnvelope
}

type stateChange struct {
	source discovery.InstanceKey
	state  ConnState
}

func (sink *recordingSink) HandleEvent(source discovery.InstanceKey, envelope agentapi.EventEnvelope) {
	sink.mu.Lock()
	defer sink.mu.Unlock()
	sink.events = append(sink.events, receivedEvent{source: source, envelope: envelope})
}

func (sink *recordingSink) HandleConnState(source discovery.InstanceKey, state ConnState) {
	sink.mu.Lock()
	defer sink.mu.Unlock()
	sink.states = append(sink.states, stateChange{source: source, state: state})
}

// eventCount returns the number of events received so far.
func (sink *recordingSink) eventCount() int {
	sink.mu.Lock()
	defer sink.mu.Unlock()
	return len(sink.events)
}

// eventAt returns the i'th received event.
func (sink *recordingSink) eventAt(i int) receivedEvent {
	sink.mu.Lock()
	defer sink.mu.Unlock()
	return sink.events[i]
}

// lastState returns the most recent state transition delivered for
// source, or "" if none arrived yet.
func (sink *recordingSink) lastState(source discovery.InstanceKey) ConnState {
	sink.mu.Lock()
	defer sink.mu.Unlock()
	for i := len(sink.states) - 1; i >= 0; i-- {
		if sink.states[i].source == source {
			return sink.states[i].state
		}
	}
	return ""
}

// stateSequence returns every state transition for source in delivery
// order.
func (sink *recordingSink) stateSequence(source discovery.InstanceKey) []ConnState {
	sink.mu.Lock()
	defer sink.mu.Unlock()
	var sequence []ConnState
	for _, change := range sink.states {
		if change.source == source {
			sequence = append(sequence, change.state)
		}
	}
	return sequence
}

// newTestManager builds a manager wired to a recording sink and closes
// it when the test ends. Close is idempotent, so tests may also close
// explicitly.
func newTestManager(t *testing.T, config Config) (*Manager, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	config.Sink = sink
	manager, err := NewManager(config)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(manager.Close)
	return manager, sink
}
