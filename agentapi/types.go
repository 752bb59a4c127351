// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

package agentapi

// All timestamps on the wire are Unix epoch milliseconds. Zero means
// unset.

// ProjectInfo is the response from GET /project/current.
type ProjectInfo struct {
	// Directory is the project worktree the server is rooted in. A
	// real agent server always reports a non-empty, non-root path;
	// discovery uses that to filter out look-alike HTTP servers.
	Directory string `json:"directory"`

	// Name is the server's own display name for the project. Optional;
	// consumers fall back to the directory basename.
	Name string `json:"name,omitempty"`

	// VCS identifies the version control system, e.g. "git". Optional.
	VCS string `json:"vcs,omitempty"`
}

// Session is one conversation on an agent server.
type Session struct {
	// ID is unique per server and lexicographically sortable by
	// creation time.
	ID string `json:"id"`

	// Directory is the working directory the session runs in.
	Directory string `json:"directory"`

	// ParentID links a child session (a subtask spawned by an agent)
	// to the session that spawned it. Empty for top-level sessions.
	ParentID string `json:"parentID,omitempty"`

	// Title is the human-readable session title.
	Title string `json:"title"`

	// Version is the server version that created the session.
	Version string `json:"version,omitempty"`

	Time SessionTime `json:"time"`
}

// SessionTime carries session lifecycle timestamps.
type SessionTime struct {
	Created int64 `json:"created"`
	Updated int64 `json:"updated"`
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// AgentCompaction is the reserved agent name marking context
// compaction work.
const AgentCompaction = "compaction"

// Message is one message within a session. Role distinguishes user
// input from assistant output; assistant messages carry the token
// accounting used for context window estimation.
type Message struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"`

	// Role is "user" or "assistant".
	Role string `json:"role"`

	// Agent names the sub-agent that produced the message, when one
	// did. The reserved name "compaction" marks context compaction
	// work; its presence and completion state drive compaction
	// detection.
	Agent string `json:"agent,omitempty"`

	Time MessageTime `json:"time"`

	// Tokens is the token accounting for assistant messages. Nil when
	// the server has not reported usage (user messages, streaming
	// messages before completion).
	Tokens *TokenUsage `json:"tokens,omitempty"`

	// Model carries the generating model's window limits when known.
	Model *ModelLimits `json:"model,omitempty"`
}

// MessageTime carries message lifecycle timestamps. Completed is zero
// while the message is still streaming.
type MessageTime struct {
	Created   int64 `json:"created"`
	Completed int64 `json:"completed,omitempty"`
}

// TokenUsage is the token accounting reported on assistant messages.
type TokenUsage struct {
	Input     int64      `json:"input"`
	Output    int64      `json:"output"`
	Reasoning int64      `json:"reasoning"`
	Cache     TokenCache `json:"cache"`
}

// TokenCache splits cache token counts. Reads occupy context space;
// writes do not.
type TokenCache struct {
	Read  int64 `json:"read"`
	Write int64 `json:"write"`
}

// ModelLimits is the generating model's context and output windows, in
// tokens.
type ModelLimits struct {
	Context int64 `json:"context"`
	Output  int64 `json:"output"`
}

// Part kinds. A part's Type selects which of the optional Part fields
// are meaningful.
const (
	PartText       = "text"
	PartReasoning  = "reasoning"
	PartFile       = "file"
	PartTool       = "tool"
	PartStepStart  = "step-start"
	PartStepFinish = "step-finish"
	PartSnapshot   = "snapshot"
	PartPatch      = "patch"
	PartAgent      = "agent"
	PartRetry      = "retry"
	PartCompaction = "compaction"
)

// Part is one fragment of a message: streamed text, a reasoning block,
// a tool invocation, a file reference, or one of the structural
// markers. Parts arrive and mutate independently of their message.
type Part struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`

	// Type is one of the Part* constants. Unknown types are carried
	// through untouched; consumers ignore what they don't render.
	Type string `json:"type"`

	// Text holds the payload for text and reasoning parts.
	Text string `json:"text,omitempty"`

	// Tool parts.
	Tool  string     `json:"tool,omitempty"`
	State *ToolState `json:"state,omitempty"`

	// File parts.
	Filename string `json:"filename,omitempty"`
	Mime     string `json:"mime,omitempty"`
	URL      string `json:"url,omitempty"`

	// Agent parts name the sub-agent taking over the session.
	Name string `json:"name,omitempty"`

	// Retry parts.
	Attempt int `json:"attempt,omitempty"`

	// Patch parts.
	Hash  string   `json:"hash,omitempty"`
	Files []string `json:"files,omitempty"`

	// Snapshot parts reference a workspace snapshot identifier.
	Snapshot string `json:"snapshot,omitempty"`
}

// ToolState is the lifecycle of a tool invocation part.
type ToolState struct {
	// Status is "pending", "running", "completed", or "error".
	Status string `json:"status"`
	Title  string `json:"title,omitempty"`
	Error  string `json:"error,omitempty"`
}

// MessageWithParts is one element of the GET /session/{id}/message
// response.
type MessageWithParts struct {
	Info  Message `json:"info"`
	Parts []Part  `json:"parts"`
}

// SessionStatus is the execution state a server reports for a session.
type SessionStatus struct {
	// Type is "idle", "busy", or "retry".
	Type string `json:"type"`

	// Retry details, set when Type is "retry".
	Attempt int    `json:"attempt,omitempty"`
	Message string `json:"message,omitempty"`
	Next    int64  `json:"next,omitempty"`
}

// ErrorInfo is the error payload on session error events.
type ErrorInfo struct {
	Name    string `json:"name"`
	Message string `json:"message,omitempty"`
}

// DiffFile is one file entry in a session diff event.
type DiffFile struct {
	Path      string `json:"path"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}
