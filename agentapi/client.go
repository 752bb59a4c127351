// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

package agentapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/fleetglass/fleetglass/lib/netutil"
)

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// BaseURL is the root of the agent server's HTTP API, e.g.
	// "http://127.0.0.1:4096".
	BaseURL string

	// HTTPClient is used for all requests. Nil uses
	// http.DefaultClient. The client must not set a global Timeout:
	// the event stream is long-lived, and one-shot calls take their
	// deadlines from the caller's context.
	HTTPClient *http.Client

	// Logger receives debug-level request logging. Nil discards.
	Logger *slog.Logger
}

// Client talks to one agent server. Safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient validates the base URL and builds a client. The URL's
// string form is stored with the trailing slash stripped and request
// URLs are built by concatenation, avoiding re-encoding surprises from
// url.URL round trips.
func NewClient(config ClientConfig) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("agentapi: BaseURL is required")
	}
	parsed, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("agentapi: invalid BaseURL %q: %w", config.BaseURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("agentapi: BaseURL %q must be http or https", config.BaseURL)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("agentapi: server returned %d: %s", e.StatusCode, body)
}

// ProjectCurrent fetches the project the server is rooted in. This is
// also the discovery verification probe: a response with an empty or
// root directory means the listener is not a usable agent server.
func (c *Client) ProjectCurrent(ctx context.Context) (*ProjectInfo, error) {
	var info ProjectInfo
	if err := c.getJSON(ctx, "/project/current", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Sessions fetches every session the server knows about.
func (c *Client) Sessions(ctx context.Context) ([]Session, error) {
	var sessions []Session
	if err := c.getJSON(ctx, "/session", &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// Messages fetches a session's messages with their parts.
func (c *Client) Messages(ctx context.Context, sessionID string) ([]MessageWithParts, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("agentapi: sessionID is required")
	}
	var messages []MessageWithParts
	path := "/session/" + url.PathEscape(sessionID) + "/message"
	if err := c.getJSON(ctx, path, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// Events opens the server's global event stream. The stream stays open
// until the server closes it, the context is cancelled, or Close is
// called. The caller owns reconnect policy.
func (c *Client) Events(ctx context.Context) (*EventStream, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/global/event", nil)
	if err != nil {
		return nil, fmt.Errorf("agentapi: creating event stream request: %w", err)
	}
	request.Header.Set("Accept", "text/event-stream")
	request.Header.Set("Cache-Control", "no-cache")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("agentapi: opening event stream: %w", err)
	}
	if response.StatusCode != http.StatusOK {
		body := netutil.ErrorBody(response.Body)
		response.Body.Close()
		return nil, &APIError{StatusCode: response.StatusCode, Body: body}
	}

	c.logger.Debug("event stream opened", "url", c.baseURL)
	return &EventStream{
		body:    response.Body,
		scanner: NewSSEScanner(response.Body),
	}, nil
}

// getJSON performs a GET and decodes a 2xx JSON response into v.
// Non-2xx responses become *APIError.
func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("agentapi: creating request for %s: %w", path, err)
	}
	request.Header.Set("Accept", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("agentapi: GET %s: %w", path, err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return &APIError{
			StatusCode: response.StatusCode,
			Body:       netutil.ErrorBody(response.Body),
		}
	}
	if err := netutil.DecodeResponse(response.Body, v); err != nil {
		return fmt.Errorf("agentapi: decoding %s response: %w", path, err)
	}
	return nil
}

// EventStream is an open connection to a server's global event stream.
// Not safe for concurrent use, except for Close, which may race Next
// to unblock it.
type EventStream struct {
	body    io.ReadCloser
	scanner *SSEScanner

	envelope  EventEnvelope
	malformed int
	err       error

	closeOnce sync.Once
}

// Next advances to the next decodable event envelope. Frames whose
// payload is not a JSON envelope are counted and skipped, never fatal.
// Next returns false when the stream ends; Err reports why.
func (s *EventStream) Next() bool {
	for s.scanner.Next() {
		frame := s.scanner.Frame()
		if strings.TrimSpace(frame.Data) == "" {
			continue
		}
		var envelope EventEnvelope
		if err := json.Unmarshal([]byte(frame.Data), &envelope); err != nil {
			s.malformed++
			continue
		}
		s.envelope = envelope
		return true
	}
	s.err = s.scanner.Err()
	return false
}

// Envelope returns the most recent envelope. Valid only after Next
// returned true.
func (s *EventStream) Envelope() EventEnvelope {
	return s.envelope
}

// Malformed returns the count of frames skipped because their payload
// was not a JSON envelope.
func (s *EventStream) Malformed() int {
	return s.malformed
}

// Err returns the terminal stream error, nil after a clean EOF.
func (s *EventStream) Err() error {
	return s.err
}

// Close tears the stream down. Safe to call multiple times and from a
// goroutine other than the reader.
func (s *EventStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.body.Close()
	})
	return err
}
