// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

package world

import (
	"sync"
	"time"

	"github.com/fleetglass/fleetglass/agentapi"
	"github.com/fleetglass/fleetglass/discovery"
	"github.com/fleetglass/fleetglass/stream"
)

// SessionState is a session's execution state.
type SessionState string

const (
	// SessionIdle means the session is not doing anything. Sessions
	// that never reported a status derive as idle.
	SessionIdle SessionState = "idle"

	// SessionRunning means the session is actively working. Busy and
	// retry statuses both map here, as does content arriving for the
	// session.
	SessionRunning SessionState = "running"

	// SessionError means the server reported a session-scoped error.
	SessionError SessionState = "error"
)

// StatusRecord is a session's last known execution state plus the
// retry and error details that came with it.
type StatusRecord struct {
	State SessionState `json:"state"`

	// Retry details, preserved from a retry status for display. A
	// retrying session still counts as running.
	RetryAttempt int    `json:"retryAttempt,omitempty"`
	RetryMessage string `json:"retryMessage,omitempty"`

	// RetryNextAt is when the next attempt fires, epoch milliseconds.
	RetryNextAt int64 `json:"retryNextAt,omitempty"`

	// Err is set when State is SessionError.
	Err *agentapi.ErrorInfo `json:"error,omitempty"`

	// implicit marks a status inferred from content arrival rather
	// than an explicit status event. Bootstrap replays an idle status
	// over implicit records only, so live statuses survive a replay.
	implicit bool
}

// Instance is the store's record of one agent server: the discovery
// descriptor plus the connection state of its event stream.
type Instance struct {
	discovery.Instance

	// State is the event stream's connection state.
	State stream.ConnState `json:"connectionState"`

	// LastSeen is when a discovery pass last verified the instance.
	LastSeen time.Time `json:"lastSeen"`
}

// collections is a point-in-time copy of the store's normalized state.
// Derivation reads nothing else. Values are shared with the store, not
// deep-copied, and must be treated as immutable.
type collections struct {
	instances  map[discovery.InstanceKey]Instance
	sessions   map[string]agentapi.Session
	sessionSeq map[string]uint64
	messages   map[string]agentapi.Message
	parts      map[string]agentapi.Part
	statuses   map[string]StatusRecord
	routing    map[string]discovery.InstanceKey
	touches    map[string]uint64
	scanned    bool
	scanErr    bool
	closed     bool
}

// Store holds the normalized entity collections every derived view is
// computed from: instances, sessions, messages, parts, statuses, and
// the session-to-instance routing map. All mutation goes through its
// methods under a single mutex, one call at a time, so readers always
// observe entities together with their routing entries.
//
// Entities tolerate out-of-order arrival: a part may land before its
// message, a message before its session, a status before anything.
// Nothing is dropped for lacking a parent; entities join up at
// derivation time.
type Store struct {
	mu           sync.Mutex
	instances    map[discovery.InstanceKey]Instance
	sessions     map[string]agentapi.Session
	sessionSeq   map[string]uint64
	nextSeq      uint64
	messages     map[string]agentapi.Message
	parts        map[string]agentapi.Part
	statuses     map[string]StatusRecord
	routing      map[string]discovery.InstanceKey
	sessionTouch map[string]uint64
	scanned      bool
	scanErr      bool
	closed       bool
	version      uint64
	changed      chan struct{}
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		instances:    make(map[discovery.InstanceKey]Instance),
		sessions:     make(map[string]agentapi.Session),
		sessionSeq:   make(map[string]uint64),
		messages:     make(map[string]agentapi.Message),
		parts:        make(map[string]agentapi.Part),
		statuses:     make(map[string]StatusRecord),
		routing:      make(map[string]discovery.InstanceKey),
		sessionTouch: make(map[string]uint64),
		changed:      make(chan struct{}, 1),
	}
}

// Changed returns a signal channel with one slot: a pending receive
// means the store changed since the last one. Bursts coalesce into a
// single signal. The channel closes when the store closes.
func (s *Store) Changed() <-chan struct{} { return s.changed }

// Version returns the mutation counter. It increments on every change,
// so derivation caches key off it.
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// markChanged bumps the version and signals the changed channel.
// Callers hold mu.
func (s *Store) markChanged() {
	s.version++
	if s.closed {
		return
	}
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

// touch records the version at which a session last changed. Callers
// hold mu and call markChanged first.
func (s *Store) touch(sessionID string) {
	if sessionID == "" {
		return
	}
	s.sessionTouch[sessionID] = s.version
}

// SessionTouch returns the store version at which the session last
// changed, or zero if the store has no record of it.
func (s *Store) SessionTouch(sessionID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionTouch[sessionID]
}

// ApplyInstances reconciles the instance collection against one
// discovery pass. Instances absent from the pass are removed together
// with their routing entries in the same critical section, so no
// reader ever observes a session routed to an instance that is gone.
// Returns the descriptors that are new this pass.
func (s *Store) ApplyInstances(found []discovery.Instance, scanErr bool, now time.Time) []discovery.Instance {
	s.mu.Lock()
	defer s.mu.Unlock()

	var added []discovery.Instance
	alive := make(map[discovery.InstanceKey]bool, len(found))
	for _, instance := range found {
		if instance.Key == "" {
			continue
		}
		alive[instance.Key] = true
		record, ok := s.instances[instance.Key]
		if !ok {
			record.State = stream.StateConnecting
			added = append(added, instance)
		}
		record.Instance = instance
		record.LastSeen = now
		s.instances[instance.Key] = record
	}
	for key := range s.instances {
		if alive[key] {
			continue
		}
		delete(s.instances, key)
		for sessionID, owner := range s.routing {
			if owner == key {
				delete(s.routing, sessionID)
			}
		}
	}
	s.scanned = true
	s.scanErr = scanErr
	s.markChanged()
	return added
}

// SetConnState records a stream connection transition. Transitions for
// instances discovery already removed are dropped; the stream manager
// delivers a final disconnected callback while its teardown races a
// removal.
func (s *Store) SetConnState(key discovery.InstanceKey, state stream.ConnState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.instances[key]
	if !ok || record.State == state {
		return
	}
	record.State = state
	s.instances[key] = record
	s.markChanged()
}

// UpsertSession stores a session and routes it to the instance it
// arrived from, atomically. An empty source leaves routing untouched,
// for replayed events with no live origin.
func (s *Store) UpsertSession(session agentapi.Session, source discovery.InstanceKey) {
	if session.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; !ok {
		s.sessionSeq[session.ID] = s.nextSeq
		s.nextSeq++
	}
	s.sessions[session.ID] = session
	if source != "" {
		s.routing[session.ID] = source
	}
	s.markChanged()
	s.touch(session.ID)
}

// RemoveSession deletes a session and everything hanging off it: its
// routing entry, status, messages, and parts. Removing a session the
// store never saw still clears any stray status or routing that
// arrived ahead of it.
func (s *Store) RemoveSession(sessionID string) {
	if sessionID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	delete(s.sessionSeq, sessionID)
	delete(s.routing, sessionID)
	delete(s.statuses, sessionID)
	delete(s.sessionTouch, sessionID)
	for id, message := range s.messages {
		if message.SessionID == sessionID {
			delete(s.messages, id)
		}
	}
	for id, part := range s.parts {
		if part.SessionID == sessionID {
			delete(s.parts, id)
		}
	}
	s.markChanged()
}

// UpsertMessage stores a message.
func (s *Store) UpsertMessage(message agentapi.Message) {
	if message.ID == "" || message.SessionID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[message.ID] = message
	s.markChanged()
	s.touch(message.SessionID)
}

// RemoveMessage deletes a message and its parts.
func (s *Store) RemoveMessage(sessionID, messageID string) {
	if messageID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, messageID)
	for id, part := range s.parts {
		if part.MessageID == messageID {
			delete(s.parts, id)
		}
	}
	s.markChanged()
	s.touch(sessionID)
}

// UpsertPart stores a message part. Parts are keyed by their own ID
// and already carry their session and message, so no lookup is needed
// and arrival ahead of the message is fine.
func (s *Store) UpsertPart(part agentapi.Part) {
	if part.ID == "" || part.MessageID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parts[part.ID] = part
	s.markChanged()
	s.touch(part.SessionID)
}

// RemovePart deletes a part.
func (s *Store) RemovePart(sessionID, partID string) {
	if partID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.parts, partID)
	s.markChanged()
	s.touch(sessionID)
}

// SetStatus records an explicit execution state for a session. The
// status may arrive before the session itself; it waits in the map for
// the session to join up.
func (s *Store) SetStatus(sessionID string, record StatusRecord) {
	if sessionID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	record.implicit = false
	s.statuses[sessionID] = record
	s.markChanged()
	s.touch(sessionID)
}

// MarkRunning records the implicit running status that content arrival
// implies. Content is a strong liveness signal even before an explicit
// status event lands, because status and content events can race.
func (s *Store) MarkRunning(sessionID string) {
	if sessionID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[sessionID] = StatusRecord{State: SessionRunning, implicit: true}
	s.markChanged()
	s.touch(sessionID)
}

// HasExplicitStatus reports whether the session's current status came
// from an explicit status event rather than the content side effect.
// Bootstrap consults this before replaying its idle default.
func (s *Store) HasExplicitStatus(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.statuses[sessionID]
	return ok && !record.implicit
}

// SetScanError records whether the last discovery pass failed local
// enumeration. Feeds the aggregate connection status.
func (s *Store) SetScanError(failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scanned && s.scanErr == failed {
		return
	}
	s.scanned = true
	s.scanErr = failed
	s.markChanged()
}

// Close marks the store closed and closes the changed channel. Later
// mutations still apply but no longer signal.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.version++
	close(s.changed)
}

// snapshotCollections returns a copy of every collection plus the
// version it was taken at.
func (s *Store) snapshotCollections() (collections, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := collections{
		instances:  make(map[discovery.InstanceKey]Instance, len(s.instances)),
		sessions:   make(map[string]agentapi.Session, len(s.sessions)),
		sessionSeq: make(map[string]uint64, len(s.sessionSeq)),
		messages:   make(map[string]agentapi.Message, len(s.messages)),
		parts:      make(map[string]agentapi.Part, len(s.parts)),
		statuses:   make(map[string]StatusRecord, len(s.statuses)),
		routing:    make(map[string]discovery.InstanceKey, len(s.routing)),
		touches:    make(map[string]uint64, len(s.sessionTouch)),
		scanned:    s.scanned,
		scanErr:    s.scanErr,
		closed:     s.closed,
	}
	for key, instance := range s.instances {
		c.instances[key] = instance
	}
	for id, session := range s.sessions {
		c.sessions[id] = session
	}
	for id, seq := range s.sessionSeq {
		c.sessionSeq[id] = seq
	}
	for id, message := range s.messages {
		c.messages[id] = message
	}
	for id, part := range s.parts {
		c.parts[id] = part
	}
	for id, record := range s.statuses {
		c.statuses[id] = record
	}
	for id, key := range s.routing {
		c.routing[id] = key
	}
	for id, touch := range s.sessionTouch {
		c.touches[id] = touch
	}
	return c, s.version
}
