// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

package world

import (
	"math"
	"path/filepath"
	"sort"

	"github.com/fleetglass/fleetglass/agentapi"
	"github.com/fleetglass/fleetglass/discovery"
	"github.com/fleetglass/fleetglass/stream"
)

// Context window accounting.
const (
	// maxOutputReserve caps how much of the context window is set
	// aside for output when computing usable context, matching the
	// server's own accounting.
	maxOutputReserve = 32000

	// nearLimitPercent is the usage above which a session is flagged
	// as close to its window limit.
	nearLimitPercent = 80
)

// ConnectionStatus is the aggregate connection state across all
// instances, for rendering loading, empty, and error surfaces.
type ConnectionStatus string

const (
	// StatusDiscovering means nothing has been found yet.
	StatusDiscovering ConnectionStatus = "discovering"

	// StatusConnecting means at least one instance exists but none has
	// a live event stream yet.
	StatusConnecting ConnectionStatus = "connecting"

	// StatusConnected means at least one instance has a live event
	// stream.
	StatusConnected ConnectionStatus = "connected"

	// StatusDisconnected means instances exist but every stream is
	// down, or the engine is closed.
	StatusDisconnected ConnectionStatus = "disconnected"

	// StatusError means the last discovery pass failed outright and
	// nothing was found.
	StatusError ConnectionStatus = "error"
)

// ContextUsage reports how much of the model's usable context window a
// session's most recent accounted assistant message consumed.
type ContextUsage struct {
	// Percent is rounded to the nearest whole percent. Used tokens are
	// input, output, reasoning, and cache reads; cache writes are
	// billing-only and occupy no context space.
	Percent int `json:"percent"`

	// NearLimit is set when Percent exceeds 80.
	NearLimit bool `json:"nearLimit"`

	// Used and Usable are the raw token counts behind Percent. Usable
	// is the model's context window minus its output reserve.
	Used   int64 `json:"used"`
	Usable int64 `json:"usable"`
}

// CompactionState reports context compaction activity found in a
// session's history.
type CompactionState struct {
	// InProgress is set while the compaction message has no completion
	// time.
	InProgress bool `json:"inProgress"`

	// MessageID is the compaction message.
	MessageID string `json:"messageID"`
}

// MessageView is a message joined with its parts.
type MessageView struct {
	Info  agentapi.Message `json:"info"`
	Parts []agentapi.Part  `json:"parts,omitempty"`

	// Streaming is set for an assistant message with no completion
	// time; its parts may still be growing.
	Streaming bool `json:"streaming"`
}

// EnrichedSession is the derived, display-ready view of one session.
// It is recomputed from the normalized collections, never stored.
type EnrichedSession struct {
	Info agentapi.Session `json:"info"`

	// Status is the session's execution state; sessions that never
	// reported one derive as idle.
	Status StatusRecord `json:"status"`

	// Active mirrors Status.State == SessionRunning.
	Active bool `json:"active"`

	// Messages in creation order, each joined with its parts.
	Messages []MessageView `json:"messages,omitempty"`

	// LastActivityAt is the session's updated time or its newest
	// message's created time, whichever is later. Epoch milliseconds.
	LastActivityAt int64 `json:"lastActivityAt"`

	// Context is nil until an assistant message carries both token
	// accounting and model limits.
	Context *ContextUsage `json:"context,omitempty"`

	// Compaction is nil unless the history contains compaction work.
	Compaction *CompactionState `json:"compaction,omitempty"`
}

// Project groups the activity under one working directory.
type Project struct {
	Directory string `json:"directory"`

	// Name is the instance-reported project name when one is, falling
	// back to the directory basename.
	Name string `json:"name"`

	// SessionIDs in recency order; InstanceKeys sorted.
	SessionIDs   []string                `json:"sessionIDs,omitempty"`
	InstanceKeys []discovery.InstanceKey `json:"instanceKeys,omitempty"`
}

// Stats are aggregate counts over the whole world.
type Stats struct {
	Instances          int `json:"instances"`
	ConnectedInstances int `json:"connectedInstances"`
	Sessions           int `json:"sessions"`

	// ActiveSessions counts sessions whose status is running.
	ActiveSessions int `json:"activeSessions"`

	// StreamingMessages counts assistant messages still streaming.
	StreamingMessages int `json:"streamingMessages"`
}

// WorldState is the fully joined, point-in-time view of everything the
// engine knows. It is a value: derived on demand, never mutated, so
// holding one across frames is safe.
type WorldState struct {
	// Sessions sorted by LastActivityAt descending. Ties keep
	// first-seen order, so equal-activity sessions do not swap places
	// between snapshots.
	Sessions []EnrichedSession `json:"sessions"`

	// Instances sorted by key.
	Instances []Instance `json:"instances"`

	// Projects sorted by directory.
	Projects []Project `json:"projects"`

	// Routing maps each session to the instance it lives on. Entries
	// whose instance is gone are dropped.
	Routing map[string]discovery.InstanceKey `json:"routing"`

	Connection ConnectionStatus `json:"connection"`
	Stats      Stats            `json:"stats"`

	sessionIndex  map[string]int
	instanceIndex map[discovery.InstanceKey]int

	// sessionTouches is the per-session change marker from the same
	// cut as the rest of the state, so per-session change detection
	// can never credit this snapshot with a later change.
	sessionTouches map[string]uint64
}

// Session returns the derived view of one session.
func (w *WorldState) Session(id string) (EnrichedSession, bool) {
	index, ok := w.sessionIndex[id]
	if !ok {
		return EnrichedSession{}, false
	}
	return w.Sessions[index], true
}

// Instance returns one instance record.
func (w *WorldState) Instance(key discovery.InstanceKey) (Instance, bool) {
	index, ok := w.instanceIndex[key]
	if !ok {
		return Instance{}, false
	}
	return w.Instances[index], true
}

// deriveWorldState computes the full derived view from one coherent
// copy of the store's collections. Pure: same input, same output.
func deriveWorldState(c collections) WorldState {
	state := WorldState{
		Routing:        make(map[string]discovery.InstanceKey),
		sessionIndex:   make(map[string]int, len(c.sessions)),
		instanceIndex:  make(map[discovery.InstanceKey]int, len(c.instances)),
		sessionTouches: c.touches,
	}

	state.Instances = make([]Instance, 0, len(c.instances))
	for _, instance := range c.instances {
		state.Instances = append(state.Instances, instance)
	}
	sort.Slice(state.Instances, func(i, j int) bool {
		return state.Instances[i].Key < state.Instances[j].Key
	})
	for i, instance := range state.Instances {
		state.instanceIndex[instance.Key] = i
	}

	for sessionID, key := range c.routing {
		if _, ok := c.instances[key]; ok {
			state.Routing[sessionID] = key
		}
	}

	// Parts grouped by message, in ID order. Server identifiers sort
	// lexicographically by creation time.
	partsByMessage := make(map[string][]agentapi.Part)
	for _, part := range c.parts {
		partsByMessage[part.MessageID] = append(partsByMessage[part.MessageID], part)
	}
	for _, parts := range partsByMessage {
		sort.Slice(parts, func(i, j int) bool { return parts[i].ID < parts[j].ID })
	}

	// Messages grouped by session, in creation order.
	messagesBySession := make(map[string][]agentapi.Message)
	for _, message := range c.messages {
		messagesBySession[message.SessionID] = append(messagesBySession[message.SessionID], message)
	}
	for _, messages := range messagesBySession {
		sort.Slice(messages, func(i, j int) bool {
			if messages[i].Time.Created != messages[j].Time.Created {
				return messages[i].Time.Created < messages[j].Time.Created
			}
			return messages[i].ID < messages[j].ID
		})
	}

	// The pre-sort by first-seen order is what makes the activity
	// sort's ties stable across derivations.
	state.Sessions = make([]EnrichedSession, 0, len(c.sessions))
	for _, session := range c.sessions {
		state.Sessions = append(state.Sessions,
			enrichSession(session, messagesBySession[session.ID], partsByMessage, c.statuses))
	}
	sort.Slice(state.Sessions, func(i, j int) bool {
		return c.sessionSeq[state.Sessions[i].Info.ID] < c.sessionSeq[state.Sessions[j].Info.ID]
	})
	sort.SliceStable(state.Sessions, func(i, j int) bool {
		return state.Sessions[i].LastActivityAt > state.Sessions[j].LastActivityAt
	})
	for i, session := range state.Sessions {
		state.sessionIndex[session.Info.ID] = i
	}

	state.Projects = deriveProjects(state.Instances, state.Sessions)
	state.Connection = aggregateStatus(c)
	state.Stats = deriveStats(state.Instances, state.Sessions)
	return state
}

// enrichSession joins one session with its content and computes the
// per-session derived fields.
func enrichSession(session agentapi.Session, messages []agentapi.Message, partsByMessage map[string][]agentapi.Part, statuses map[string]StatusRecord) EnrichedSession {
	enriched := EnrichedSession{
		Info:           session,
		Status:         StatusRecord{State: SessionIdle},
		LastActivityAt: session.Time.Updated,
	}
	if record, ok := statuses[session.ID]; ok {
		enriched.Status = record
	}
	enriched.Active = enriched.Status.State == SessionRunning

	if len(messages) > 0 {
		enriched.Messages = make([]MessageView, 0, len(messages))
	}
	for _, message := range messages {
		enriched.Messages = append(enriched.Messages, MessageView{
			Info:      message,
			Parts:     partsByMessage[message.ID],
			Streaming: message.Role == agentapi.RoleAssistant && message.Time.Completed == 0,
		})
		if message.Time.Created > enriched.LastActivityAt {
			enriched.LastActivityAt = message.Time.Created
		}
		// Messages are in creation order, so the latest compaction and
		// the latest accounted message win.
		if message.Agent == agentapi.AgentCompaction {
			enriched.Compaction = &CompactionState{
				InProgress: message.Time.Completed == 0,
				MessageID:  message.ID,
			}
		}
		if usage := contextUsage(message); usage != nil {
			enriched.Context = usage
		}
	}
	return enriched
}

// contextUsage computes the window usage an assistant message implies,
// or nil when the message carries no usable accounting.
func contextUsage(message agentapi.Message) *ContextUsage {
	if message.Role != agentapi.RoleAssistant || message.Tokens == nil || message.Model == nil {
		return nil
	}
	reserve := message.Model.Output
	if reserve > maxOutputReserve {
		reserve = maxOutputReserve
	}
	usable := message.Model.Context - reserve
	if usable <= 0 {
		return nil
	}
	used := message.Tokens.Input + message.Tokens.Output + message.Tokens.Reasoning + message.Tokens.Cache.Read
	percent := int(math.Round(100 * float64(used) / float64(usable)))
	return &ContextUsage{
		Percent:   percent,
		NearLimit: percent > nearLimitPercent,
		Used:      used,
		Usable:    usable,
	}
}

// deriveProjects groups instances and sessions by directory.
func deriveProjects(instances []Instance, sessions []EnrichedSession) []Project {
	byDirectory := make(map[string]*Project)
	project := func(directory string) *Project {
		p, ok := byDirectory[directory]
		if !ok {
			p = &Project{Directory: directory}
			byDirectory[directory] = p
		}
		return p
	}
	for _, instance := range instances {
		if instance.Directory == "" {
			continue
		}
		p := project(instance.Directory)
		p.InstanceKeys = append(p.InstanceKeys, instance.Key)
		if p.Name == "" && instance.ProjectName != "" {
			p.Name = instance.ProjectName
		}
	}
	for _, session := range sessions {
		if session.Info.Directory == "" {
			continue
		}
		p := project(session.Info.Directory)
		p.SessionIDs = append(p.SessionIDs, session.Info.ID)
	}

	projects := make([]Project, 0, len(byDirectory))
	for _, p := range byDirectory {
		if p.Name == "" {
			p.Name = filepath.Base(p.Directory)
		}
		projects = append(projects, *p)
	}
	sort.Slice(projects, func(i, j int) bool { return projects[i].Directory < projects[j].Directory })
	return projects
}

// deriveStats counts the aggregate figures consumers put in headers
// and status bars.
func deriveStats(instances []Instance, sessions []EnrichedSession) Stats {
	stats := Stats{Instances: len(instances), Sessions: len(sessions)}
	for _, instance := range instances {
		if instance.State == stream.StateConnected {
			stats.ConnectedInstances++
		}
	}
	for _, session := range sessions {
		if session.Active {
			stats.ActiveSessions++
		}
		for _, message := range session.Messages {
			if message.Streaming {
				stats.StreamingMessages++
			}
		}
	}
	return stats
}

// aggregateStatus reduces the per-instance picture to one value.
// Closed beats everything; otherwise any live stream means connected,
// any pending stream means connecting, any instance at all means
// disconnected, a failed scan that found nothing means error, and an
// empty world still scanning means discovering.
func aggregateStatus(c collections) ConnectionStatus {
	if c.closed {
		return StatusDisconnected
	}
	connected, connecting := false, false
	for _, instance := range c.instances {
		switch instance.State {
		case stream.StateConnected:
			connected = true
		case stream.StateConnecting:
			connecting = true
		}
	}
	switch {
	case connected:
		return StatusConnected
	case connecting:
		return StatusConnecting
	case len(c.instances) > 0:
		return StatusDisconnected
	case c.scanErr:
		return StatusError
	default:
		return StatusDiscovering
	}
}
