// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

package agentapi

import (
	"strings"
	"testing"
)

func TestSSEScannerBasic(t *testing.T) {
	t.Parallel()

	input := "data: {\"type\":\"session.idle\"}\n\ndata: {\"type\":\"session.updated\"}\n\n"
	scanner := NewSSEScanner(strings.NewReader(input))

	// First frame.
	if !scanner.Next() {
		t.Fatal("expected first frame")
	}
	frame := scanner.Frame()
	if frame.Data != `{"type":"session.idle"}` {
		t.Errorf("frame.Data = %q, want session.idle JSON", frame.Data)
	}

	// Second frame.
	if !scanner.Next() {
		t.Fatal("expected second frame")
	}
	frame = scanner.Frame()
	if frame.Data != `{"type":"session.updated"}` {
		t.Errorf("frame.Data = %q, want session.updated JSON", frame.Data)
	}

	// No more frames.
	if scanner.Next() {
		t.Error("expected no more frames")
	}
	if err := scanner.Err(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSSEScannerEventField(t *testing.T) {
	t.Parallel()

	input := "event: message\ndata: {\"type\":\"session.idle\"}\n\n"
	scanner := NewSSEScanner(strings.NewReader(input))

	if !scanner.Next() {
		t.Fatal("expected frame")
	}
	frame := scanner.Frame()
	if frame.Event != "message" {
		t.Errorf("frame.Event = %q, want message", frame.Event)
	}
	if frame.Data != `{"type":"session.idle"}` {
		t.Errorf("frame.Data = %q, want payload", frame.Data)
	}
}

func TestSSEScannerMultipleDataLines(t *testing.T) {
	t.Parallel()

	// SSE joins multiple data lines in one frame with newlines.
	input := "data: line one\ndata: line two\ndata: line three\n\n"
	scanner := NewSSEScanner(strings.NewReader(input))

	if !scanner.Next() {
		t.Fatal("expected frame")
	}
	frame := scanner.Frame()
	expected := "line one\nline two\nline three"
	if frame.Data != expected {
		t.Errorf("frame.Data = %q, want %q", frame.Data, expected)
	}
}

func TestSSEScannerComments(t *testing.T) {
	t.Parallel()

	// Comment lines (starting with ":") should be ignored. Servers
	// send them as keep-alives.
	input := ": keep-alive\ndata: hello\n: another comment\n\n"
	scanner := NewSSEScanner(strings.NewReader(input))

	if !scanner.Next() {
		t.Fatal("expected frame")
	}
	frame := scanner.Frame()
	if frame.Data != "hello" {
		t.Errorf("frame.Data = %q, want hello", frame.Data)
	}
}

func TestSSEScannerEmptyDataLine(t *testing.T) {
	t.Parallel()

	// "data:" with no value should produce an empty string.
	input := "data:\n\n"
	scanner := NewSSEScanner(strings.NewReader(input))

	if !scanner.Next() {
		t.Fatal("expected frame")
	}
	frame := scanner.Frame()
	if frame.Data != "" {
		t.Errorf("frame.Data = %q, want empty", frame.Data)
	}
}

func TestSSEScannerConsecutiveBlanks(t *testing.T) {
	t.Parallel()

	// Consecutive blank lines without data don't produce frames.
	input := "\n\n\ndata: hello\n\n\n\n"
	scanner := NewSSEScanner(strings.NewReader(input))

	if !scanner.Next() {
		t.Fatal("expected frame")
	}
	frame := scanner.Frame()
	if frame.Data != "hello" {
		t.Errorf("frame.Data = %q, want hello", frame.Data)
	}

	if scanner.Next() {
		t.Error("expected no more frames")
	}
}

func TestSSEScannerNoTrailingBlankLine(t *testing.T) {
	t.Parallel()

	// Input that ends without a trailing blank line. The accumulated
	// frame should still be emitted.
	input := "data: last frame"
	scanner := NewSSEScanner(strings.NewReader(input))

	if !scanner.Next() {
		t.Fatal("expected frame")
	}
	frame := scanner.Frame()
	if frame.Data != "last frame" {
		t.Errorf("frame.Data = %q, want 'last frame'", frame.Data)
	}

	if scanner.Next() {
		t.Error("expected no more frames after EOF")
	}
	if err := scanner.Err(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSSEScannerCarriageReturn(t *testing.T) {
	t.Parallel()

	// Windows-style line endings should work.
	input := "data: hello\r\n\r\n"
	scanner := NewSSEScanner(strings.NewReader(input))

	if !scanner.Next() {
		t.Fatal("expected frame")
	}
	frame := scanner.Frame()
	if frame.Data != "hello" {
		t.Errorf("frame.Data = %q, want hello", frame.Data)
	}
}

func TestSSEScannerIgnoresUnknownFields(t *testing.T) {
	t.Parallel()

	input := "id: 42\nretry: 3000\ndata: hello\n\n"
	scanner := NewSSEScanner(strings.NewReader(input))

	if !scanner.Next() {
		t.Fatal("expected frame")
	}
	frame := scanner.Frame()
	if frame.Data != "hello" {
		t.Errorf("frame.Data = %q, want hello", frame.Data)
	}
}

func TestSSEScannerAgentEventStream(t *testing.T) {
	t.Parallel()

	// Realistic agent server output: every frame carries a JSON
	// envelope with type and properties.
	input := `data: {"type":"session.updated","properties":{"info":{"id":"ses_1","directory":"/work/api","time":{"created":1,"updated":2}}}}

data: {"type":"message.updated","properties":{"info":{"id":"msg_1","sessionID":"ses_1","role":"assistant"}}}

data: {"type":"message.part.updated","properties":{"part":{"id":"prt_1","sessionID":"ses_1","messageID":"msg_1","type":"text"}}}

data: {"type":"session.idle","properties":{"sessionID":"ses_1"}}

`
	scanner := NewSSEScanner(strings.NewReader(input))

	expectedSnippets := []string{
		`"type":"session.updated"`,
		`"type":"message.updated"`,
		`"type":"message.part.updated"`,
		`"type":"session.idle"`,
	}

	for i, snippet := range expectedSnippets {
		if !scanner.Next() {
			t.Fatalf("frame %d: expected frame containing %q, got EOF", i, snippet)
		}
		frame := scanner.Frame()
		if !strings.Contains(frame.Data, snippet) {
			t.Errorf("frame %d: Data = %q, want substring %q", i, frame.Data, snippet)
		}
	}

	if scanner.Next() {
		t.Errorf("expected no more frames, got data=%q", scanner.Frame().Data)
	}
	if err := scanner.Err(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
