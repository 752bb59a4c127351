// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fleetglass/fleetglass/agentapi"
	"github.com/fleetglass/fleetglass/discovery"
)

// Status describes one instance's stream for diagnostics displays.
type Status struct {
	Key   discovery.InstanceKey
	State ConnState

	// LastEvent is the receipt time of the most recent event. Zero
	// until the first event arrives.
	LastEvent time.Time

	// Attempts counts reconnect attempts since the last successful
	// connect. Zero while the stream is healthy.
	Attempts int

	// Connects counts successful connects over the supervisor's
	// lifetime; 1 for a stream that never dropped.
	Connects int

	// Received is the total number of events delivered on this stream.
	Received uint64

	// Recent lists the most recently received events, oldest first.
	Recent []LogEntry
}

// supervisor tracks the streaming goroutine for a single instance.
// The mutex guards the diagnostic state read by the health loop and
// the Status accessors; the goroutine itself is controlled through
// cancel and observed through done.
type supervisor struct {
	key    discovery.InstanceKey
	client *agentapi.Client

	cancel context.CancelFunc
	done   chan struct{}

	mu          sync.Mutex
	state       ConnState
	connectedAt time.Time
	lastEvent   time.Time
	attempts    int
	connects    int
	forced      bool
	abortConn   context.CancelFunc
	log         *eventLog
}

// run is the main goroutine for one instance's stream. It cycles
// through connect, read, and backoff until its context is cancelled.
func (m *Manager) run(ctx context.Context, s *supervisor) {
	defer close(s.done)
	defer m.transition(s, StateDisconnected)

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		m.transition(s, StateConnecting)
		connected, forced, err := m.streamOnce(ctx, s)
		if ctx.Err() != nil {
			return
		}
		if connected {
			// Any successful connect resets the backoff schedule.
			attempt = 0
		}
		m.transition(s, StateDisconnected)
		if forced {
			// The health loop aborted a silent stream. Reconnect
			// immediately; the attempt counter stays reset.
			m.logger.Info("reconnecting after forced abort", "instance", s.key)
			continue
		}

		delay := backoffDelay(attempt, m.backoffBase, m.backoffCap)
		m.logger.Info("event stream down, reconnecting",
			"instance", s.key,
			"error", err,
			"attempt", attempt,
			"delay", delay,
		)
		s.setAttempts(attempt + 1)
		select {
		case <-ctx.Done():
			return
		case <-m.clock.After(delay):
		}
		attempt++
	}
}

// streamOnce opens the event stream and reads it until it ends. The
// connected result reports whether the stream opened at all; forced
// reports whether the health loop aborted it.
func (m *Manager) streamOnce(ctx context.Context, s *supervisor) (connected, forced bool, err error) {
	connCtx, cancelConn := context.WithCancel(ctx)
	defer cancelConn()
	s.armAbort(cancelConn)
	defer s.disarmAbort()

	events, err := s.client.Events(connCtx)
	if err != nil {
		return false, s.takeForced(), fmt.Errorf("open event stream: %w", err)
	}
	defer events.Close()

	m.transition(s, StateConnected)
	s.noteConnected(m.clock.Now())

	for events.Next() {
		envelope := events.Envelope()
		s.noteEvent(envelope.Type, m.clock.Now())
		m.sink.HandleEvent(s.key, envelope)
	}
	if dropped := events.Malformed(); dropped > 0 {
		m.logger.Debug("dropped undecodable event frames",
			"instance", s.key,
			"count", dropped,
		)
	}

	if forced := s.takeForced(); forced {
		return true, true, nil
	}
	if err := events.Err(); err != nil {
		return true, false, fmt.Errorf("read event stream: %w", err)
	}
	return true, false, errors.New("event stream closed by server")
}

// setState records a state transition, reporting whether the state
// actually changed.
func (s *supervisor) setState(state ConnState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == state {
		return false
	}
	s.state = state
	return true
}

// noteConnected records a successful connect. The connect time seeds
// the silence clock so a stream that never produces an event still
// times out relative to when it opened.
func (s *supervisor) noteConnected(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectedAt = now
	s.connects++
	s.attempts = 0
}

// noteEvent records one received event for the silence clock and the
// diagnostic log.
func (s *supervisor) noteEvent(kind string, now time.Time) {
	s.mu.Lock()
	s.lastEvent = now
	s.mu.Unlock()
	s.log.append(kind, now)
}

func (s *supervisor) setAttempts(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = n
}

// armAbort exposes the current connection's cancel function to the
// health loop and clears any stale forced flag from a previous cycle.
func (s *supervisor) armAbort(cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abortConn = cancel
	s.forced = false
}

func (s *supervisor) disarmAbort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abortConn = nil
}

// forceReconnect aborts the current connection, if any. The supervisor
// observes the forced flag when the stream ends and reconnects without
// a backoff wait.
func (s *supervisor) forceReconnect() {
	s.mu.Lock()
	abort := s.abortConn
	if abort != nil {
		s.forced = true
		s.abortConn = nil
	}
	s.mu.Unlock()
	if abort != nil {
		abort()
	}
}

// takeForced reports and clears the forced-abort flag.
func (s *supervisor) takeForced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	forced := s.forced
	s.forced = false
	return forced
}

// silentFor reports how long a connected stream has gone without an
// event, and whether that exceeds the health timeout. Streams that are
// not currently connected are never silent; the reconnect machinery
// already owns them.
func (s *supervisor) silentFor(now time.Time, timeout time.Duration) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected {
		return 0, false
	}
	last := s.connectedAt
	if s.lastEvent.After(last) {
		last = s.lastEvent
	}
	silence := now.Sub(last)
	return silence, silence > timeout
}

func (s *supervisor) status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Key:       s.key,
		State:     s.state,
		LastEvent: s.lastEvent,
		Attempts:  s.attempts,
		Connects:  s.connects,
		Received:  s.log.totalReceived(),
		Recent:    s.log.recent(),
	}
}
