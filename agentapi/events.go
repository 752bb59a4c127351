// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

package agentapi

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Event kinds in the closed union. Servers may emit kinds outside this
// set; ParseEvent reports those as ErrUnknownEvent and consumers drop
// them.
const (
	EventSessionCreated   = "session.created"
	EventSessionUpdated   = "session.updated"
	EventSessionDeleted   = "session.deleted"
	EventSessionStatus    = "session.status"
	EventSessionIdle      = "session.idle"
	EventSessionCompacted = "session.compacted"
	EventSessionError     = "session.error"
	EventSessionDiff      = "session.diff"
	EventMessageUpdated   = "message.updated"
	EventMessageRemoved   = "message.removed"
	EventPartUpdated      = "message.part.updated"
	EventPartRemoved      = "message.part.removed"
	EventServerHeartbeat  = "server.heartbeat"
)

// ErrUnknownEvent marks an envelope whose type is outside the closed
// event union.
var ErrUnknownEvent = errors.New("agentapi: unknown event type")

// EventEnvelope is the raw wire form of one event frame.
type EventEnvelope struct {
	Type       string          `json:"type"`
	Properties json.RawMessage `json:"properties"`
}

// Event is one decoded event from an agent server. The union is
// closed: the concrete types are exactly the structs in this file that
// implement Kind. Consumers switch on the concrete type.
type Event interface {
	// Kind returns the wire event type.
	Kind() string
}

// SessionCreated announces a new session.
type SessionCreated struct {
	Info Session `json:"info"`
}

// SessionUpdated carries the full session object after any change.
type SessionUpdated struct {
	Info Session `json:"info"`
}

// SessionDeleted announces a session's removal, carrying the last
// known session object.
type SessionDeleted struct {
	Info Session `json:"info"`
}

// SessionStatusChanged reports a session's execution status.
type SessionStatusChanged struct {
	SessionID string        `json:"sessionID"`
	Status    SessionStatus `json:"status"`
}

// SessionIdle marks a session as no longer running.
type SessionIdle struct {
	SessionID string `json:"sessionID"`
}

// SessionCompacted signals that a session's context was compacted.
type SessionCompacted struct {
	SessionID string `json:"sessionID"`
}

// SessionErrored reports a session-scoped error. SessionID may be
// empty for server-wide errors.
type SessionErrored struct {
	SessionID string    `json:"sessionID,omitempty"`
	Error     ErrorInfo `json:"error"`
}

// SessionDiff reports the session's current workspace diff summary.
type SessionDiff struct {
	SessionID string     `json:"sessionID"`
	Files     []DiffFile `json:"files,omitempty"`
}

// MessageUpdated upserts a message.
type MessageUpdated struct {
	Info Message `json:"info"`
}

// MessageRemoved deletes a message and its parts.
type MessageRemoved struct {
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
}

// PartUpdated upserts a message part.
type PartUpdated struct {
	Part Part `json:"part"`
}

// PartRemoved deletes a single message part.
type PartRemoved struct {
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
	PartID    string `json:"partID"`
}

// ServerHeartbeat is a keepalive with no state effect.
type ServerHeartbeat struct{}

func (*SessionCreated) Kind() string       { return EventSessionCreated }
func (*SessionUpdated) Kind() string       { return EventSessionUpdated }
func (*SessionDeleted) Kind() string       { return EventSessionDeleted }
func (*SessionStatusChanged) Kind() string { return EventSessionStatus }
func (*SessionIdle) Kind() string          { return EventSessionIdle }
func (*SessionCompacted) Kind() string     { return EventSessionCompacted }
func (*SessionErrored) Kind() string       { return EventSessionError }
func (*SessionDiff) Kind() string          { return EventSessionDiff }
func (*MessageUpdated) Kind() string       { return EventMessageUpdated }
func (*MessageRemoved) Kind() string       { return EventMessageRemoved }
func (*PartUpdated) Kind() string          { return EventPartUpdated }
func (*PartRemoved) Kind() string          { return EventPartRemoved }
func (*ServerHeartbeat) Kind() string      { return EventServerHeartbeat }

// ParseEvent decodes an envelope into its typed event. It returns
// ErrUnknownEvent (wrapped) for types outside the union, and a decode
// error for malformed or structurally incomplete properties. Callers
// treat both as a dropped event, never a stream failure.
func ParseEvent(envelope EventEnvelope) (Event, error) {
	properties := envelope.Properties
	if len(properties) == 0 {
		properties = json.RawMessage("{}")
	}

	var event Event
	switch envelope.Type {
	case EventSessionCreated:
		event = &SessionCreated{}
	case EventSessionUpdated:
		event = &SessionUpdated{}
	case EventSessionDeleted:
		event = &SessionDeleted{}
	case EventSessionStatus:
		event = &SessionStatusChanged{}
	case EventSessionIdle:
		event = &SessionIdle{}
	case EventSessionCompacted:
		event = &SessionCompacted{}
	case EventSessionError:
		event = &SessionErrored{}
	case EventSessionDiff:
		event = &SessionDiff{}
	case EventMessageUpdated:
		event = &MessageUpdated{}
	case EventMessageRemoved:
		event = &MessageRemoved{}
	case EventPartUpdated:
		event = &PartUpdated{}
	case EventPartRemoved:
		event = &PartRemoved{}
	case EventServerHeartbeat:
		event = &ServerHeartbeat{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, envelope.Type)
	}

	if err := json.Unmarshal(properties, event); err != nil {
		return nil, fmt.Errorf("agentapi: decoding %s properties: %w", envelope.Type, err)
	}
	if err := validateEvent(event); err != nil {
		return nil, err
	}
	return event, nil
}

// validateEvent rejects events missing the identifiers the store needs
// to route them. A session error without a session is legal (it is
// server-wide); everything else must say what it refers to.
func validateEvent(event Event) error {
	missing := func(what string) error {
		return fmt.Errorf("agentapi: %s event without %s", event.Kind(), what)
	}
	switch e := event.(type) {
	case *SessionCreated:
		if e.Info.ID == "" {
			return missing("session id")
		}
	case *SessionUpdated:
		if e.Info.ID == "" {
			return missing("session id")
		}
	case *SessionDeleted:
		if e.Info.ID == "" {
			return missing("session id")
		}
	case *SessionStatusChanged:
		if e.SessionID == "" {
			return missing("sessionID")
		}
	case *SessionIdle:
		if e.SessionID == "" {
			return missing("sessionID")
		}
	case *SessionCompacted:
		if e.SessionID == "" {
			return missing("sessionID")
		}
	case *SessionDiff:
		if e.SessionID == "" {
			return missing("sessionID")
		}
	case *MessageUpdated:
		if e.Info.ID == "" || e.Info.SessionID == "" {
			return missing("message identity")
		}
	case *MessageRemoved:
		if e.MessageID == "" || e.SessionID == "" {
			return missing("message identity")
		}
	case *PartUpdated:
		if e.Part.ID == "" || e.Part.MessageID == "" || e.Part.SessionID == "" {
			return missing("part identity")
		}
	case *PartRemoved:
		if e.PartID == "" || e.MessageID == "" || e.SessionID == "" {
			return missing("part identity")
		}
	}
	return nil
}

// NewEnvelope wraps a typed event back into its wire envelope. Used by
// replay tooling and tests to synthesize streams.
func NewEnvelope(event Event) (EventEnvelope, error) {
	properties, err := json.Marshal(event)
	if err != nil {
		return EventEnvelope{}, fmt.Errorf("agentapi: encoding %s properties: %w", event.Kind(), err)
	}
	return EventEnvelope{Type: event.Kind(), Properties: properties}, nil
}
