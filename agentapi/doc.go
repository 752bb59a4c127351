// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

// Package agentapi is the HTTP client for a single agent server
// instance.
//
// Agent servers expose a small JSON API and a global event stream:
//
//   - GET {base}/project/current: the project the server is rooted in
//   - GET {base}/session: all sessions known to the server
//   - GET {base}/session/{id}/message: a session's messages with parts
//   - GET {base}/global/event: Server-Sent Events, one JSON envelope
//     per frame: {"type": "...", "properties": {...}}
//
// The package defines the wire types for all four endpoints, an SSE
// scanner implementing the W3C framing rules, and [ParseEvent], which
// turns an [EventEnvelope] into one value of the closed event union.
// Event kinds outside the union decode to [ErrUnknownEvent]; callers
// drop them and keep reading, so newer servers with richer event sets
// degrade gracefully.
//
// A Client performs one-shot API calls with the caller's context
// controlling timeouts, and opens the event stream as a long-lived
// [EventStream] whose lifetime is also bound to a context. Reconnect
// policy lives with the caller (the stream package), not here.
package agentapi
