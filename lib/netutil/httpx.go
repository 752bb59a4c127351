// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides HTTP I/O hygiene shared by every component
// that talks to an agent server.
//
// The response helpers (ReadResponse, DecodeResponse, ErrorBody) bound
// body reads at MaxResponseSize so a misbehaving server cannot exhaust
// memory. They are for JSON API responses only. Event streams are read
// incrementally and never pass through these helpers.
package netutil

import (
	"encoding/json"
	"fmt"
	"io"
)

// MaxResponseSize bounds JSON API response body reads: 64 MB. Session
// lists and message histories from a busy server run to a few megabytes
// at most; the limit exists so a pathological response fails instead of
// exhausting memory.
const MaxResponseSize int64 = 64 << 20

// ReadResponse reads a JSON API response body up to MaxResponseSize
// bytes. Use instead of io.ReadAll on HTTP response bodies.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}

// DecodeResponse reads a JSON API response body up to MaxResponseSize
// bytes and decodes it into v.
func DecodeResponse(body io.Reader, v any) error {
	data, err := io.ReadAll(io.LimitReader(body, MaxResponseSize))
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	return json.Unmarshal(data, v)
}

// ErrorBody reads an HTTP error response body for inclusion in a
// diagnostic message. Read errors are ignored; a truncated body is
// still better than none in an error string.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, MaxResponseSize))
	return string(data)
}
