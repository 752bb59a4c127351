// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

package world

import (
	"errors"
	"log/slog"

	"github.com/fleetglass/fleetglass/agentapi"
	"github.com/fleetglass/fleetglass/discovery"
)

// Router applies events to the store. It never fails: an unknown event
// kind or an undecodable payload is logged and dropped, so one bad
// event cannot wedge the stream behind it.
//
// The router serves two callers with the same rules: live streams
// deliver envelopes through [Router.Route], and bootstrap replays
// historical entities as synthetic events through [Router.Apply].
// Replays must apply explicit statuses last so they override the
// running side effect that content arrival triggers.
type Router struct {
	store  *Store
	logger *slog.Logger
}

// NewRouter returns a router writing to store. A nil logger discards.
func NewRouter(store *Store, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Router{store: store, logger: logger}
}

// Route decodes one event envelope from the given instance and applies
// it. An empty source leaves routing entries untouched, for replayed
// events with no live origin.
func (r *Router) Route(source discovery.InstanceKey, envelope agentapi.EventEnvelope) {
	event, err := agentapi.ParseEvent(envelope)
	if err != nil {
		if errors.Is(err, agentapi.ErrUnknownEvent) {
			r.logger.Debug("dropping unknown event kind",
				"type", envelope.Type,
				"instance", source)
		} else {
			r.logger.Warn("dropping undecodable event",
				"type", envelope.Type,
				"instance", source,
				"error", err)
		}
		return
	}
	r.Apply(source, event)
}

// Apply routes an already-decoded event.
func (r *Router) Apply(source discovery.InstanceKey, event agentapi.Event) {
	switch event := event.(type) {
	case *agentapi.SessionCreated:
		r.store.UpsertSession(event.Info, source)
	case *agentapi.SessionUpdated:
		r.store.UpsertSession(event.Info, source)
	case *agentapi.SessionDeleted:
		r.store.RemoveSession(event.Info.ID)
	case *agentapi.SessionStatusChanged:
		r.store.SetStatus(event.SessionID, statusRecord(event.Status))
	case *agentapi.SessionIdle:
		r.store.SetStatus(event.SessionID, StatusRecord{State: SessionIdle})
	case *agentapi.SessionErrored:
		if event.SessionID == "" {
			// Server-scoped error: there is no session entity to mark.
			r.logger.Warn("instance reported server error",
				"instance", source,
				"error_name", event.Error.Name,
				"error_message", event.Error.Message)
			return
		}
		errorInfo := event.Error
		r.store.SetStatus(event.SessionID, StatusRecord{State: SessionError, Err: &errorInfo})
	case *agentapi.SessionCompacted, *agentapi.SessionDiff:
		// Reserved hooks: acknowledged, no state change yet. Compaction
		// surfaces through the reserved agent name on messages instead.
	case *agentapi.MessageUpdated:
		r.store.UpsertMessage(event.Info)
		r.store.MarkRunning(event.Info.SessionID)
	case *agentapi.MessageRemoved:
		r.store.RemoveMessage(event.SessionID, event.MessageID)
	case *agentapi.PartUpdated:
		r.store.UpsertPart(event.Part)
		r.store.MarkRunning(event.Part.SessionID)
	case *agentapi.PartRemoved:
		r.store.RemovePart(event.SessionID, event.PartID)
	case *agentapi.ServerHeartbeat:
		// Heartbeats only feed the stream health clock; nothing to
		// store.
	default:
		r.logger.Debug("event kind without a routing rule", "type", event.Kind())
	}
}

// statusRecord maps a wire status to the store's representation. Busy
// and retry both count as running; retry keeps its metadata for
// display.
func statusRecord(status agentapi.SessionStatus) StatusRecord {
	switch status.Type {
	case "idle":
		return StatusRecord{State: SessionIdle}
	case "retry":
		return StatusRecord{
			State:        SessionRunning,
			RetryAttempt: status.Attempt,
			RetryMessage: status.Message,
			RetryNextAt:  status.Next,
		}
	default:
		// "busy", and anything new the server grows: a session with a
		// status event that is not idle or retry is doing something.
		return StatusRecord{State: SessionRunning}
	}
}
