// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

package world

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/fleetglass/fleetglass/agentapi"
	"github.com/fleetglass/fleetglass/discovery"
	"github.com/fleetglass/fleetglass/lib/clock"
	"github.com/fleetglass/fleetglass/stream"
)

// Engine defaults.
const (
	// DefaultPollInterval is the discovery rescan cadence.
	DefaultPollInterval = 5 * time.Second

	// DefaultBootstrapTimeout bounds the history fetch for one newly
	// discovered instance.
	DefaultBootstrapTimeout = 10 * time.Second

	// DefaultSessionTTL is how long a per-session subscription cell
	// survives without subscribers before it is dropped.
	DefaultSessionTTL = 5 * time.Minute
)

// Config holds the parameters for an Engine.
type Config struct {
	// Discoverer runs the periodic instance scans. Required.
	Discoverer *discovery.Discoverer

	// HTTPClient is used for event streams and bootstrap fetches. Nil
	// uses http.DefaultClient. The client must not set a global
	// Timeout: event streams are long-lived.
	HTTPClient *http.Client

	// Clock drives the poll loop, reconnect backoff, health checks,
	// and cell expiry. Nil uses the real clock.
	Clock clock.Clock

	// Logger receives engine diagnostics. Nil discards.
	Logger *slog.Logger

	// PollInterval overrides DefaultPollInterval.
	PollInterval time.Duration

	// BootstrapTimeout overrides DefaultBootstrapTimeout.
	BootstrapTimeout time.Duration

	// SessionTTL overrides DefaultSessionTTL.
	SessionTTL time.Duration

	// Stream tunes the stream manager. Its Sink, HTTPClient, Clock,
	// and Logger fields are owned by the engine and ignored here.
	Stream stream.Config
}

// Engine composes discovery, the stream manager, the router, and the
// store into the world-state facade. Construct with NewEngine, call
// Start once, and Close when done; Snapshot and the subscription
// methods are safe from any goroutine throughout.
type Engine struct {
	discoverer *discovery.Discoverer
	httpClient *http.Client
	clock      clock.Clock
	logger     *slog.Logger

	pollInterval     time.Duration
	bootstrapTimeout time.Duration

	store   *Store
	router  *Router
	streams *stream.Manager
	cells   *cellSet

	mu         sync.Mutex
	started    bool
	closed     bool
	paused     bool
	cancel     context.CancelFunc
	pollDone   chan struct{}
	notifyDone chan struct{}
	bootstraps sync.WaitGroup

	// closeDone closes when Close finishes tearing down, ending any
	// open iterations.
	closeDone chan struct{}

	poke chan struct{}

	subMu       sync.Mutex
	subscribers map[int]func(WorldState)
	nextSubID   int

	snapMu        sync.Mutex
	cached        *WorldState
	cachedVersion uint64
}

// NewEngine validates the configuration and builds an engine. The
// engine is inert until Start.
func NewEngine(config Config) (*Engine, error) {
	if config.Discoverer == nil {
		return nil, fmt.Errorf("world: config.Discoverer is required")
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	pollInterval := config.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	bootstrapTimeout := config.BootstrapTimeout
	if bootstrapTimeout <= 0 {
		bootstrapTimeout = DefaultBootstrapTimeout
	}
	sessionTTL := config.SessionTTL
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}

	engine := &Engine{
		discoverer:       config.Discoverer,
		httpClient:       httpClient,
		clock:            clk,
		logger:           logger,
		pollInterval:     pollInterval,
		bootstrapTimeout: bootstrapTimeout,
		store:            NewStore(),
		cells:            newCellSet(sessionTTL, clk),
		closeDone:        make(chan struct{}),
		poke:             make(chan struct{}, 1),
		subscribers:      make(map[int]func(WorldState)),
	}
	engine.router = NewRouter(engine.store, logger)

	streamConfig := config.Stream
	streamConfig.Sink = engine
	streamConfig.HTTPClient = httpClient
	streamConfig.Clock = clk
	streamConfig.Logger = logger
	streams, err := stream.NewManager(streamConfig)
	if err != nil {
		return nil, err
	}
	engine.streams = streams
	return engine, nil
}

// Start launches the discovery poll loop, the stream health checker,
// and the change notifier. Idempotent: a second call while running is
// a no-op, and starting a closed engine does nothing. The context
// bounds the background work; Close also stops it.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.started || e.closed {
		e.mu.Unlock()
		return
	}
	e.started = true
	ctx, e.cancel = context.WithCancel(ctx)
	e.pollDone = make(chan struct{})
	e.notifyDone = make(chan struct{})
	e.mu.Unlock()

	e.streams.Start(ctx)
	go e.notifyLoop()
	go e.pollLoop(ctx)
}

// pollLoop runs discovery passes until the engine stops.
func (e *Engine) pollLoop(ctx context.Context) {
	defer close(e.pollDone)
	// The first pass runs immediately: subscribers should not wait out
	// a full interval for the world to appear.
	e.pass(ctx)
	ticker := e.clock.NewTicker(e.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if e.isPaused() {
				continue
			}
			e.pass(ctx)
		case <-e.poke:
			e.pass(ctx)
		}
	}
}

// pass runs one discovery scan and reconciles the world against it.
// New instances get a stream supervisor first and a history bootstrap
// second, so no live event falls in between.
func (e *Engine) pass(ctx context.Context) {
	instances, err := e.discoverer.Scan(ctx, discovery.ScanOptions{})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		e.logger.Warn("discovery pass degraded", "error", err)
	}
	added := e.store.ApplyInstances(instances, err != nil, e.clock.Now())
	e.streams.Reconcile(ctx, instances)
	for _, instance := range added {
		e.bootstraps.Add(1)
		go func() {
			defer e.bootstraps.Done()
			e.bootstrap(ctx, instance)
		}()
	}
}

// bootstrap replays an instance's existing sessions and message
// history through the router as synthetic events, so the world fills
// without waiting for live activity. Explicit statuses apply last and
// only where none exists: replayed history must not leave a session
// looking active, and must not clobber a status a live event already
// delivered.
func (e *Engine) bootstrap(ctx context.Context, instance discovery.Instance) {
	ctx, cancel := context.WithTimeout(ctx, e.bootstrapTimeout)
	defer cancel()

	client, err := agentapi.NewClient(agentapi.ClientConfig{
		BaseURL:    instance.BaseURL,
		HTTPClient: e.httpClient,
		Logger:     e.logger,
	})
	if err != nil {
		e.logger.Warn("bootstrap skipped, unusable base URL",
			"instance", instance.Key, "error", err)
		return
	}
	sessions, err := client.Sessions(ctx)
	if err != nil {
		e.logger.Warn("bootstrap session fetch failed",
			"instance", instance.Key, "error", err)
		return
	}

	for _, session := range sessions {
		e.router.Apply(instance.Key, &agentapi.SessionCreated{Info: session})
	}
	for _, session := range sessions {
		messages, err := client.Messages(ctx, session.ID)
		if err != nil {
			e.logger.Warn("bootstrap message fetch failed",
				"instance", instance.Key, "session", session.ID, "error", err)
			continue
		}
		for _, message := range messages {
			e.router.Apply(instance.Key, &agentapi.MessageUpdated{Info: message.Info})
			for _, part := range message.Parts {
				e.router.Apply(instance.Key, &agentapi.PartUpdated{Part: part})
			}
		}
	}
	for _, session := range sessions {
		if e.store.HasExplicitStatus(session.ID) {
			continue
		}
		e.router.Apply(instance.Key, &agentapi.SessionIdle{SessionID: session.ID})
	}
	e.logger.Info("instance bootstrapped",
		"instance", instance.Key, "sessions", len(sessions))
}

// notifyLoop fans each store change out to subscribers and active
// per-session cells. Bursts coalesce: one derivation per wakeup, not
// one per event.
func (e *Engine) notifyLoop() {
	defer close(e.notifyDone)
	for range e.store.Changed() {
		e.notify()
	}
	// The store closed. Derive once more so subscribers observe the
	// final disconnected state.
	e.notify()
}

func (e *Engine) notify() {
	state := e.Snapshot()

	e.subMu.Lock()
	callbacks := make([]func(WorldState), 0, len(e.subscribers))
	for _, callback := range e.subscribers {
		callbacks = append(callbacks, callback)
	}
	e.subMu.Unlock()
	for _, callback := range callbacks {
		callback(state)
	}

	e.cells.notify(&state)
}

// Instance resolves one instance from the current snapshot.
func (e *Engine) Instance(key discovery.InstanceKey) (Instance, bool) {
	state := e.Snapshot()
	return state.Instance(key)
}

// Snapshot returns the current derived world state. Synchronous and
// safe from any goroutine at any time, including before Start and
// after Close; it never touches the network. Derivation is cached by
// store version, so snapshots of an unchanged world are free.
func (e *Engine) Snapshot() WorldState {
	e.snapMu.Lock()
	defer e.snapMu.Unlock()
	if e.cached != nil && e.cachedVersion == e.store.Version() {
		return *e.cached
	}
	c, version := e.store.snapshotCollections()
	state := deriveWorldState(c)
	e.cached = &state
	e.cachedVersion = version
	return state
}

// Subscribe registers callback and invokes it immediately with the
// current snapshot, then again after every state-affecting change.
// Consecutive changes may coalesce into one invocation carrying the
// latest state. The immediate call runs on the caller's goroutine;
// later ones run on the engine's notifier goroutine, so callbacks must
// return promptly and must not call Close. Subscribing to a closed
// engine delivers the final snapshot and nothing more.
//
// The returned function removes the subscription and is safe to call
// more than once.
func (e *Engine) Subscribe(callback func(WorldState)) func() {
	e.subMu.Lock()
	id := e.nextSubID
	e.nextSubID++
	e.subscribers[id] = callback
	e.subMu.Unlock()

	callback(e.Snapshot())

	var once sync.Once
	return func() {
		once.Do(func() {
			e.subMu.Lock()
			delete(e.subscribers, id)
			e.subMu.Unlock()
		})
	}
}

// Iterate returns a channel yielding the current snapshot and then a
// fresh snapshot after every change. A slow receiver never blocks the
// engine and never accumulates a backlog: an unread snapshot is
// replaced by the newer one. The channel closes when ctx is cancelled
// or the engine closes; cancel ctx to release the iteration.
func (e *Engine) Iterate(ctx context.Context) <-chan WorldState {
	latest := make(chan WorldState, 1)
	unsubscribe := e.Subscribe(func(state WorldState) {
		for {
			select {
			case latest <- state:
				return
			default:
				// Drop the unread snapshot; only the newest matters.
				select {
				case <-latest:
				default:
				}
			}
		}
	})

	out := make(chan WorldState)
	go func() {
		defer close(out)
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case <-e.closeDone:
				// Deliver the final snapshot if one is pending, then
				// end the iteration.
				select {
				case state := <-latest:
					select {
					case out <- state:
					case <-ctx.Done():
					}
				default:
				}
				return
			case state := <-latest:
				select {
				case out <- state:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// SubscribeSession registers callback for a single session's derived
// view: an immediate call with the current view, then one whenever
// that session changes, skipping world changes that leave it
// untouched. A change racing the subscription may arrive both in the
// immediate call and in the first notification; no change is ever
// skipped. The backing cell is created lazily and dropped after
// sitting subscriber-free for the configured session TTL, so briefly
// viewed sessions do not pin memory. The returned function removes the
// subscription and is safe to call more than once.
func (e *Engine) SubscribeSession(sessionID string, callback SessionCallback) func() {
	// Register before snapshotting. A change landing in between is
	// then either in the snapshot or delivered by the next notifier
	// pass, possibly both, never neither.
	touch := e.store.SessionTouch(sessionID)
	remove := e.cells.subscribe(sessionID, touch, callback)

	state := e.Snapshot()
	view, ok := state.Session(sessionID)
	callback(view, ok)
	return remove
}

// Inject feeds one decoded event into the router as if it had arrived
// from source's stream. Replay tooling uses it; live streams do not
// pass through here. Injecting into a closed engine is a no-op.
func (e *Engine) Inject(source discovery.InstanceKey, event agentapi.Event) {
	if event == nil {
		return
	}
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return
	}
	e.router.Apply(source, event)
}

// Pause suspends the discovery poll loop. Streams stay up and events
// keep flowing; only the periodic rescans stop. Consumers pause while
// backgrounded to avoid wasted work.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.paused || e.closed {
		return
	}
	e.paused = true
	e.logger.Debug("discovery polling paused")
}

// Resume reverses Pause and triggers an immediate scan, so a
// foregrounded consumer sees fresh instances without waiting out the
// poll interval.
func (e *Engine) Resume() {
	e.mu.Lock()
	if !e.paused || e.closed {
		e.mu.Unlock()
		return
	}
	e.paused = false
	e.mu.Unlock()
	e.logger.Debug("discovery polling resumed")
	select {
	case e.poke <- struct{}{}:
	default:
	}
}

func (e *Engine) isPaused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// HandleEvent implements [stream.Sink]. Decoding and routing run on
// the supervisor's goroutine; per-instance arrival order holds because
// each instance has exactly one supervisor.
func (e *Engine) HandleEvent(source discovery.InstanceKey, envelope agentapi.EventEnvelope) {
	e.router.Route(source, envelope)
}

// HandleConnState implements [stream.Sink].
func (e *Engine) HandleConnState(source discovery.InstanceKey, state stream.ConnState) {
	e.store.SetConnState(source, state)
}

// StreamStatus returns the diagnostic counters for one instance's
// event stream: connection state, last event time, attempt and connect
// counts, and the recent event log.
func (e *Engine) StreamStatus(key discovery.InstanceKey) (stream.Status, bool) {
	return e.streams.Status(key)
}

// StreamStatuses returns diagnostics for every supervised stream,
// sorted by instance key.
func (e *Engine) StreamStatuses() []stream.Status {
	return e.streams.Statuses()
}

// Close stops everything: the poll loop, every stream supervisor, the
// health checker, the notifier, and all per-session cells. It blocks
// until teardown completes and leaves the aggregate connection status
// disconnected. Safe to call more than once; later calls return
// immediately.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	cancel := e.cancel
	pollDone := e.pollDone
	notifyDone := e.notifyDone
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if pollDone != nil {
		<-pollDone
	}
	e.bootstraps.Wait()
	e.streams.Close()
	e.cells.close()
	e.store.Close()
	if notifyDone != nil {
		<-notifyDone
	}
	close(e.closeDone)
	e.logger.Info("world engine closed")
}
