// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fleetglass/fleetglass/agentapi"
	"github.com/fleetglass/fleetglass/registry"
)

type fakeScanner struct {
	listeners []Listener
	err       error
}

func (f *fakeScanner) Listeners(ctx context.Context) ([]Listener, error) {
	return f.listeners, f.err
}

type fakeRemotes struct {
	remotes []registry.Remote
	err     error
}

func (f *fakeRemotes) List(ctx context.Context) ([]registry.Remote, error) {
	return f.remotes, f.err
}

// newAgentServer starts a fake agent server reporting the given
// project directory and sessions.
func newAgentServer(t *testing.T, directory string, sessions []agentapi.Session, messages map[string][]agentapi.MessageWithParts) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /project/current", func(writer http.ResponseWriter, request *http.Request) {
		json.NewEncoder(writer).Encode(agentapi.ProjectInfo{Directory: directory, Name: "proj"})
	})
	mux.HandleFunc("GET /session", func(writer http.ResponseWriter, request *http.Request) {
		json.NewEncoder(writer).Encode(sessions)
	})
	mux.HandleFunc("GET /session/{id}/message", func(writer http.ResponseWriter, request *http.Request) {
		json.NewEncoder(writer).Encode(messages[request.PathValue("id")])
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func serverPort(t *testing.T, server *httptest.Server) int {
	t.Helper()
	parsed, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("parsing server URL: %v", err)
	}
	port, err := strconv.Atoi(parsed.Port())
	if err != nil {
		t.Fatalf("parsing server port: %v", err)
	}
	return port
}

func newDiscoverer(t *testing.T, config Config) *Discoverer {
	t.Helper()
	if config.Scanner == nil {
		config.Scanner = &fakeScanner{}
	}
	discoverer, err := New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return discoverer
}

func TestScanVerifiesLocalListener(t *testing.T) {
	t.Parallel()

	server := newAgentServer(t, "/home/dev/work/api", nil, nil)
	port := serverPort(t, server)

	discoverer := newDiscoverer(t, Config{
		Scanner: &fakeScanner{listeners: []Listener{{Port: port, PID: 4312, Command: "opencode"}}},
	})

	instances, err := discoverer.Scan(context.Background(), ScanOptions{})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(instances) != 1 {
		t.Fatalf("len(instances) = %d, want 1", len(instances))
	}
	instance := instances[0]
	if instance.Key != InstanceKey("127.0.0.1:"+strconv.Itoa(port)) {
		t.Errorf("Key = %q, want loopback address", instance.Key)
	}
	if instance.Source != SourceLocal {
		t.Errorf("Source = %q, want local", instance.Source)
	}
	if instance.Directory != "/home/dev/work/api" {
		t.Errorf("Directory = %q, want /home/dev/work/api", instance.Directory)
	}
	if instance.PID != 4312 {
		t.Errorf("PID = %d, want 4312", instance.PID)
	}
	if instance.Sessions != nil {
		t.Errorf("Sessions = %v, want nil without enrichment", instance.Sessions)
	}
}

func TestScanRejectsNonProjectServers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		directory string
	}{
		{name: "empty directory", directory: ""},
		{name: "root directory", directory: "/"},
		{name: "root with trailing slash", directory: "//"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			server := newAgentServer(t, test.directory, nil, nil)
			discoverer := newDiscoverer(t, Config{
				Scanner: &fakeScanner{listeners: []Listener{{Port: serverPort(t, server), Command: "opencode"}}},
			})
			instances, err := discoverer.Scan(context.Background(), ScanOptions{})
			if err != nil {
				t.Fatalf("Scan: %v", err)
			}
			if len(instances) != 0 {
				t.Errorf("instances = %+v, want none", instances)
			}
		})
	}
}

func TestScanFiltersFailedProbes(t *testing.T) {
	t.Parallel()

	// One real agent server and one listener that refuses the probe.
	server := newAgentServer(t, "/home/dev/work/api", nil, nil)
	broken := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(broken.Close)

	discoverer := newDiscoverer(t, Config{
		Scanner: &fakeScanner{listeners: []Listener{
			{Port: serverPort(t, server), Command: "opencode"},
			{Port: serverPort(t, broken), Command: "opencode"},
		}},
	})

	instances, err := discoverer.Scan(context.Background(), ScanOptions{})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(instances) != 1 {
		t.Fatalf("len(instances) = %d, want 1 (broken listener filtered)", len(instances))
	}
	if instances[0].Directory != "/home/dev/work/api" {
		t.Errorf("Directory = %q, want the real server's", instances[0].Directory)
	}
}

func TestScanDegradesOnScannerFailure(t *testing.T) {
	t.Parallel()

	server := newAgentServer(t, "/home/dev/work/api", nil, nil)
	discoverer := newDiscoverer(t, Config{
		Scanner: &fakeScanner{err: errors.New("lsof not installed")},
		Remotes: &fakeRemotes{remotes: []registry.Remote{{URL: server.URL}}},
	})

	instances, err := discoverer.Scan(context.Background(), ScanOptions{})
	if err == nil {
		t.Error("expected scan error to be reported")
	}
	// The remote still comes through despite the local failure.
	if len(instances) != 1 {
		t.Fatalf("len(instances) = %d, want 1", len(instances))
	}
	if instances[0].Source != SourceRemote {
		t.Errorf("Source = %q, want remote", instances[0].Source)
	}
}

func TestScanVerifiesRemotes(t *testing.T) {
	t.Parallel()

	server := newAgentServer(t, "/srv/build/api", nil, nil)
	port := serverPort(t, server)

	discoverer := newDiscoverer(t, Config{
		Remotes: &fakeRemotes{remotes: []registry.Remote{
			{URL: server.URL, Name: "build box"},
		}},
	})

	instances, err := discoverer.Scan(context.Background(), ScanOptions{})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(instances) != 1 {
		t.Fatalf("len(instances) = %d, want 1", len(instances))
	}
	instance := instances[0]
	if instance.Key != InstanceKey("127.0.0.1:"+strconv.Itoa(port)) {
		t.Errorf("Key = %q, want URL host", instance.Key)
	}
	if instance.Name != "build box" {
		t.Errorf("Name = %q, want 'build box'", instance.Name)
	}
	if instance.RemoteURL != server.URL {
		t.Errorf("RemoteURL = %q, want %q", instance.RemoteURL, server.URL)
	}
}

func TestScanRemoteViaProxyAddress(t *testing.T) {
	t.Parallel()

	// The proxy address points at the reachable server; the registry
	// URL is somewhere we cannot dial directly.
	server := newAgentServer(t, "/srv/build/api", nil, nil)
	proxyAddress := "127.0.0.1:" + strconv.Itoa(serverPort(t, server))

	discoverer := newDiscoverer(t, Config{
		Remotes: &fakeRemotes{remotes: []registry.Remote{
			{URL: "http://build-host.internal:4096", ProxyAddress: proxyAddress},
		}},
	})

	instances, err := discoverer.Scan(context.Background(), ScanOptions{})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(instances) != 1 {
		t.Fatalf("len(instances) = %d, want 1", len(instances))
	}
	instance := instances[0]
	if instance.Key != InstanceKey(proxyAddress) {
		t.Errorf("Key = %q, want proxy address", instance.Key)
	}
	if instance.BaseURL != "http://"+proxyAddress {
		t.Errorf("BaseURL = %q, want proxy base", instance.BaseURL)
	}
	if instance.RemoteURL != "http://build-host.internal:4096" {
		t.Errorf("RemoteURL = %q, want registry URL", instance.RemoteURL)
	}
}

func TestScanSessionEnrichment(t *testing.T) {
	t.Parallel()

	sessions := []agentapi.Session{
		{ID: "ses_1", Directory: "/home/dev/work/api", Title: "fix login", Time: agentapi.SessionTime{Created: 1, Updated: 2}},
	}
	messages := map[string][]agentapi.MessageWithParts{
		"ses_1": {{Info: agentapi.Message{ID: "msg_1", SessionID: "ses_1", Role: "assistant"}}},
	}
	server := newAgentServer(t, "/home/dev/work/api", sessions, messages)

	discoverer := newDiscoverer(t, Config{
		Scanner: &fakeScanner{listeners: []Listener{{Port: serverPort(t, server), Command: "opencode"}}},
	})

	instances, err := discoverer.Scan(context.Background(), ScanOptions{IncludeSessions: true})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(instances) != 1 || len(instances[0].Sessions) != 1 {
		t.Fatalf("instances = %+v, want one with one session", instances)
	}
	if instances[0].Messages != nil {
		t.Errorf("Messages = %v, want nil without full detail", instances[0].Messages)
	}

	instances, err = discoverer.Scan(context.Background(), ScanOptions{IncludeMessages: true})
	if err != nil {
		t.Fatalf("Scan with messages: %v", err)
	}
	if len(instances) != 1 {
		t.Fatalf("len(instances) = %d, want 1", len(instances))
	}
	got := instances[0].Messages["ses_1"]
	if len(got) != 1 || got[0].Info.ID != "msg_1" {
		t.Errorf("Messages[ses_1] = %+v, want msg_1", got)
	}
}

func TestScanBoundsProbeConcurrency(t *testing.T) {
	t.Parallel()

	var inFlight, maxInFlight atomic.Int64
	handler := http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		current := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			observed := maxInFlight.Load()
			if current <= observed || maxInFlight.CompareAndSwap(observed, current) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		json.NewEncoder(writer).Encode(agentapi.ProjectInfo{Directory: "/home/dev/work/api"})
	})

	// Nine listeners, probes capped at three.
	listeners := make([]Listener, 9)
	for i := range listeners {
		server := httptest.NewServer(handler)
		t.Cleanup(server.Close)
		listeners[i] = Listener{Port: serverPort(t, server), Command: "opencode"}
	}

	discoverer := newDiscoverer(t, Config{
		Scanner:   &fakeScanner{listeners: listeners},
		MaxProbes: 3,
	})

	if _, err := discoverer.Scan(context.Background(), ScanOptions{}); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if got := maxInFlight.Load(); got > 3 {
		t.Errorf("max in-flight probes = %d, want <= 3", got)
	}
}

func TestScanCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	discoverer := newDiscoverer(t, Config{
		Scanner: &fakeScanner{listeners: []Listener{{Port: 4096, Command: "opencode"}}},
	})
	if _, err := discoverer.Scan(ctx, ScanOptions{}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
