// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

// Package stream maintains one live event stream per discovered
// instance. Each instance gets a supervising goroutine that opens the
// server's event endpoint, hands every decoded envelope to a sink in
// arrival order, and reconnects with jittered exponential backoff when
// the stream drops. A shared health loop force-reconnects streams that
// stay silent past a threshold, since a hung TCP session produces no
// read error on its own.
//
// Events from one instance are always delivered in the order they
// arrived on that instance's stream. No ordering holds across
// instances; their streams are independent network sources.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/fleetglass/fleetglass/agentapi"
	"github.com/fleetglass/fleetglass/discovery"
	"github.com/fleetglass/fleetglass/lib/clock"
)

// ConnState identifies the lifecycle phase of one instance's stream.
type ConnState string

const (
	// StateConnecting means the supervisor is opening the event
	// endpoint, either for the first time or after a drop.
	StateConnecting ConnState = "connecting"
	// StateConnected means the stream is open and delivering events.
	StateConnected ConnState = "connected"
	// StateDisconnected means the stream is down. The supervisor keeps
	// retrying until its instance disappears from discovery or the
	// manager closes.
	StateDisconnected ConnState = "disconnected"
)

// Default tuning for the reconnect and health machinery.
const (
	// DefaultBackoffBase is the delay before the first reconnect
	// attempt; it doubles on every subsequent failure.
	DefaultBackoffBase = time.Second
	// DefaultBackoffCap bounds the exponential reconnect delay.
	DefaultBackoffCap = 30 * time.Second
	// DefaultHealthInterval is how often the health loop inspects
	// connected streams for silence.
	DefaultHealthInterval = 10 * time.Second
	// DefaultHealthTimeout is the longest a connected stream may go
	// without producing an event (heartbeats count) before it is
	// force-reconnected.
	DefaultHealthTimeout = 60 * time.Second
	// DefaultLogCapacity is the per-instance diagnostic event log size.
	DefaultLogCapacity = 64
)

// Sink receives stream output. Each instance's supervisor calls from
// its own goroutine, so implementations must be safe for concurrent
// use. HandleEvent blocks that instance's stream while it runs; keep it
// short.
type Sink interface {
	// HandleEvent delivers one decoded event envelope tagged with the
	// instance it arrived from.
	HandleEvent(source discovery.InstanceKey, envelope agentapi.EventEnvelope)

	// HandleConnState reports a connection state transition for one
	// instance. Transitions are delivered in order per instance; the
	// final transition before a supervisor stops is StateDisconnected.
	HandleConnState(source discovery.InstanceKey, state ConnState)
}

// Config configures a Manager. Sink is required; everything else
// defaults.
type Config struct {
	// Sink receives decoded events and connection state transitions.
	Sink Sink

	// HTTPClient is used for event stream requests. It must not set a
	// global Timeout: a timeout would sever long-lived streams.
	// Defaults to http.DefaultClient.
	HTTPClient *http.Client

	// Clock drives backoff sleeps and the health ticker. Defaults to
	// clock.Real().
	Clock clock.Clock

	// Logger receives supervision diagnostics. Defaults to a discard
	// logger.
	Logger *slog.Logger

	// BackoffBase and BackoffCap override the reconnect delay schedule
	// min(BackoffBase * 2^attempt, BackoffCap).
	BackoffBase time.Duration
	BackoffCap  time.Duration

	// HealthInterval and HealthTimeout override the silence detector.
	HealthInterval time.Duration
	HealthTimeout  time.Duration

	// LogCapacity overrides the per-instance diagnostic event log size.
	LogCapacity int
}

// Manager owns the set of stream supervisors, one per instance known
// to discovery. Reconcile aligns the set with the latest discovery
// results; Close tears everything down.
type Manager struct {
	sink       Sink
	httpClient *http.Client
	clock      clock.Clock
	logger     *slog.Logger

	backoffBase    time.Duration
	backoffCap     time.Duration
	healthInterval time.Duration
	healthTimeout  time.Duration
	logCapacity    int

	mu          sync.Mutex
	supervisors map[discovery.InstanceKey]*supervisor
	closed      bool

	healthCancel context.CancelFunc
	healthDone   chan struct{}
}

// NewManager validates the config and returns a Manager with no
// supervisors. Call Start to launch the health loop and Reconcile to
// start streaming.
func NewManager(config Config) (*Manager, error) {
	if config.Sink == nil {
		return nil, fmt.Errorf("stream: config.Sink is required")
	}
	manager := &Manager{
		sink:           config.Sink,
		httpClient:     config.HTTPClient,
		clock:          config.Clock,
		logger:         config.Logger,
		backoffBase:    config.BackoffBase,
		backoffCap:     config.BackoffCap,
		healthInterval: config.HealthInterval,
		healthTimeout:  config.HealthTimeout,
		logCapacity:    config.LogCapacity,
		supervisors:    make(map[discovery.InstanceKey]*supervisor),
	}
	if manager.httpClient == nil {
		manager.httpClient = http.DefaultClient
	}
	if manager.clock == nil {
		manager.clock = clock.Real()
	}
	if manager.logger == nil {
		manager.logger = slog.New(slog.DiscardHandler)
	}
	if manager.backoffBase <= 0 {
		manager.backoffBase = DefaultBackoffBase
	}
	if manager.backoffCap <= 0 {
		manager.backoffCap = DefaultBackoffCap
	}
	if manager.healthInterval <= 0 {
		manager.healthInterval = DefaultHealthInterval
	}
	if manager.healthTimeout <= 0 {
		manager.healthTimeout = DefaultHealthTimeout
	}
	if manager.logCapacity <= 0 {
		manager.logCapacity = DefaultLogCapacity
	}
	return manager, nil
}

// Start launches the health-check loop. ctx bounds its lifetime; Close
// also stops it. Second and later calls are no-ops.
//
// Reconcile may be called before Start; streams then run without
// silence detection until Start.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.healthCancel != nil {
		return
	}
	healthCtx, cancel := context.WithCancel(ctx)
	m.healthCancel = cancel
	m.healthDone = make(chan struct{})
	go m.healthLoop(healthCtx)
}

// Reconcile aligns the supervisor set with the given discovery
// results: instances without a supervisor get one, supervisors whose
// instance is gone are stopped. ctx bounds the lifetime of every
// supervisor started by this call.
//
// Reconcile blocks until removed supervisors have fully stopped, so
// after it returns the sink receives no further callbacks for removed
// instances. Callers must not hold locks that the sink callbacks
// acquire.
func (m *Manager) Reconcile(ctx context.Context, instances []discovery.Instance) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}

	alive := make(map[discovery.InstanceKey]discovery.Instance, len(instances))
	for _, instance := range instances {
		alive[instance.Key] = instance
	}

	var stopped []*supervisor
	for key, s := range m.supervisors {
		if _, ok := alive[key]; ok {
			continue
		}
		delete(m.supervisors, key)
		stopped = append(stopped, s)
	}

	for key, instance := range alive {
		if _, ok := m.supervisors[key]; ok {
			continue
		}
		client, err := agentapi.NewClient(agentapi.ClientConfig{
			BaseURL:    instance.BaseURL,
			HTTPClient: m.httpClient,
			Logger:     m.logger,
		})
		if err != nil {
			m.logger.Warn("skipping instance with unusable base URL",
				"instance", key,
				"base_url", instance.BaseURL,
				"error", err,
			)
			continue
		}
		supervisorCtx, cancel := context.WithCancel(ctx)
		s := &supervisor{
			key:    key,
			client: client,
			cancel: cancel,
			done:   make(chan struct{}),
			state:  StateDisconnected,
			log:    newEventLog(m.logCapacity),
		}
		m.supervisors[key] = s
		m.logger.Info("starting event stream", "instance", key, "base_url", instance.BaseURL)
		go m.run(supervisorCtx, s)
	}
	m.mu.Unlock()

	// Cancel removed supervisors first, then wait. Each delivers its
	// final disconnected transition to the sink before its done channel
	// closes.
	for _, s := range stopped {
		m.logger.Info("stopping event stream, instance no longer discovered", "instance", s.key)
		s.cancel()
	}
	for _, s := range stopped {
		<-s.done
	}
}

// Close aborts every stream and stops the health loop. Safe to call
// multiple times, and safe to call while supervisors are waiting out a
// reconnect backoff.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	stopped := make([]*supervisor, 0, len(m.supervisors))
	for _, s := range m.supervisors {
		stopped = append(stopped, s)
	}
	m.supervisors = make(map[discovery.InstanceKey]*supervisor)
	healthCancel := m.healthCancel
	healthDone := m.healthDone
	m.mu.Unlock()

	for _, s := range stopped {
		s.cancel()
	}
	for _, s := range stopped {
		<-s.done
	}
	if healthCancel != nil {
		healthCancel()
		<-healthDone
	}
}

// Status returns the diagnostic view of one instance's stream. The
// second result is false when no supervisor exists for the key.
func (m *Manager) Status(key discovery.InstanceKey) (Status, bool) {
	m.mu.Lock()
	s, ok := m.supervisors[key]
	m.mu.Unlock()
	if !ok {
		return Status{}, false
	}
	return s.status(), true
}

// Statuses returns the diagnostic view of every supervised stream,
// sorted by instance key.
func (m *Manager) Statuses() []Status {
	m.mu.Lock()
	supervisors := make([]*supervisor, 0, len(m.supervisors))
	for _, s := range m.supervisors {
		supervisors = append(supervisors, s)
	}
	m.mu.Unlock()

	statuses := make([]Status, 0, len(supervisors))
	for _, s := range supervisors {
		statuses = append(statuses, s.status())
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Key < statuses[j].Key
	})
	return statuses
}

// healthLoop periodically inspects connected streams for silence.
func (m *Manager) healthLoop(ctx context.Context) {
	defer close(m.healthDone)
	ticker := m.clock.NewTicker(m.healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		m.checkStreams()
	}
}

// checkStreams force-aborts connected streams that have been silent
// longer than the health timeout. A hung TCP session produces no read
// error; without this probe a stalled stream would look healthy
// forever. The forced abort reconnects immediately with the backoff
// schedule reset.
func (m *Manager) checkStreams() {
	now := m.clock.Now()
	m.mu.Lock()
	supervisors := make([]*supervisor, 0, len(m.supervisors))
	for _, s := range m.supervisors {
		supervisors = append(supervisors, s)
	}
	m.mu.Unlock()

	for _, s := range supervisors {
		silence, stale := s.silentFor(now, m.healthTimeout)
		if !stale {
			continue
		}
		m.logger.Warn("event stream silent, forcing reconnect",
			"instance", s.key,
			"silence", silence,
		)
		s.forceReconnect()
	}
}

// transition updates the supervisor's state and notifies the sink of
// actual changes. The sink is called with no manager or supervisor
// lock held.
func (m *Manager) transition(s *supervisor, state ConnState) {
	if !s.setState(state) {
		return
	}
	m.sink.HandleConnState(s.key, state)
}
