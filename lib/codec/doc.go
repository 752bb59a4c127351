// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides fleetglass's standard CBOR encoding
// configuration.
//
// Fleetglass uses two serialization formats with a clear boundary:
//
//   - JSON for external interfaces: the agent server HTTP and SSE
//     wire, the serve API, CLI output, and scenario files.
//   - CBOR for internal storage: capture files recorded from live
//     event streams.
//
// This package provides the shared CBOR encoding and decoding modes so
// that every fleetglass package encodes identically without duplicating
// configuration. The encoder uses Core Deterministic Encoding (RFC 8949
// §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Same logical data always produces identical
// bytes.
//
// For buffer-oriented operations:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (capture files):
//
//	encoder := codec.NewEncoder(file)
//	decoder := codec.NewDecoder(file)
//
// # Struct Tag Rules
//
// The struct tag on a type documents its serialization format:
//
//   - `cbor` tag: this type is ONLY ever serialized as CBOR. It will
//     never be marshaled to JSON or interact with CLI tooling.
//     Examples: capture file headers, frame records, trailers.
//   - `json` tag: this type may be serialized as BOTH JSON and CBOR.
//     fxamacker/cbor v2 reads `json` tags as fallback when `cbor`
//     tags are absent, so a single `json` tag controls field naming
//     and omitempty for both formats. Examples: event envelopes that
//     arrive as JSON on the wire and are stored inside CBOR frames.
//
// Never use both `cbor` and `json` tags on the same field. The tag
// choice documents the contract, and doubling up is noise that obscures
// whether a type participates in JSON serialization.
package codec
