// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

package agentapi

import (
	"bufio"
	"io"
	"strings"
)

// SSEFrame is one Server-Sent Event parsed off the wire.
type SSEFrame struct {
	// Event is the value of the "event:" field, or "" for the default
	// event type. Agent servers leave it empty; the event kind lives
	// inside the JSON payload.
	Event string

	// Data is the payload, built from the frame's "data:" lines.
	// Multiple data lines join with newlines, as SSE requires.
	Data string
}

// SSEScanner reads Server-Sent Events framing from an io.Reader:
// frames separated by blank lines, "data:" and "event:" fields,
// comment lines starting with ":", a single optional space after each
// colon, and a final unterminated frame at EOF.
//
//	scanner := NewSSEScanner(body)
//	for scanner.Next() {
//	    frame := scanner.Frame()
//	    ...
//	}
//	if err := scanner.Err(); err != nil {
//	    ...
//	}
type SSEScanner struct {
	reader  *bufio.Reader
	current SSEFrame
	err     error
}

// NewSSEScanner creates a scanner reading from reader.
func NewSSEScanner(reader io.Reader) *SSEScanner {
	return &SSEScanner{reader: bufio.NewReaderSize(reader, 32*1024)}
}

// Next advances to the next frame. It returns false at end of stream
// or on error; Err distinguishes a clean EOF from a failure.
func (s *SSEScanner) Next() bool {
	s.current = SSEFrame{}

	var dataLines []string
	eventType := ""
	hasData := false

	for {
		line, err := s.reader.ReadString('\n')

		if err != nil && line == "" {
			if err == io.EOF {
				if hasData {
					// A frame cut off by EOF still counts; remember
					// the EOF so the next call stops.
					s.current = SSEFrame{Event: eventType, Data: strings.Join(dataLines, "\n")}
					s.err = io.EOF
					return true
				}
				return false
			}
			s.err = err
			return false
		}

		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			// Frame boundary.
			if hasData {
				s.current = SSEFrame{Event: eventType, Data: strings.Join(dataLines, "\n")}
				return true
			}
			eventType = ""
			continue
		}

		if strings.HasPrefix(line, ":") {
			// Comment, commonly used as a keepalive.
			continue
		}

		field, value, hasColon := strings.Cut(line, ":")
		if !hasColon {
			field, value = line, ""
		} else {
			// Exactly one leading space is stripped from the value.
			value = strings.TrimPrefix(value, " ")
		}

		switch field {
		case "data":
			dataLines = append(dataLines, value)
			hasData = true
		case "event":
			eventType = value
		default:
			// id, retry, and unknown fields are ignored.
		}
	}
}

// Frame returns the most recently parsed frame. Valid only after Next
// returned true.
func (s *SSEScanner) Frame() SSEFrame {
	return s.current
}

// Err returns the first error encountered, or nil when the stream
// ended with a clean EOF.
func (s *SSEScanner) Err() error {
	if s.err == io.EOF {
		return nil
	}
	return s.err
}
