// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

// Package capture records and replays raw agent server event streams.
//
// A capture file is a faithful tap of one instance's event stream: every
// envelope that arrived on the wire, with its receipt offset, exactly as
// the watcher saw it. Replaying a capture through the aggregation engine
// reproduces the derived world state without a live server, which makes
// captures the raw material for bug reports, regression fixtures, and
// demos.
//
// # File format
//
// A capture file is an 8-byte magic prefix followed by a CBOR sequence
// (Core Deterministic Encoding via lib/codec):
//
//	magic    8 bytes: "FGCAP" + version byte + 2 reserved bytes
//	header   CBOR: instance metadata and the declared compression
//	chunk*   CBOR: compressed batches of frame records
//	trailer  CBOR: frame count and BLAKE3 digest of the frame stream
//
// Frames are individually CBOR-encoded and concatenated into an
// uncompressed byte stream. The stream is cut into chunks, each chunk
// compressed independently and tagged with the algorithm used (a chunk
// that does not compress falls back to being stored raw). The trailer
// digest is a keyed BLAKE3 hash over the uncompressed frame stream, so
// readers detect corruption anywhere in the file regardless of chunk
// boundaries. A file that ends without a trailer was cut off mid-write;
// readers report [ErrTruncated] and callers can keep the frames read up
// to that point.
//
// # Scenarios
//
// Besides recorded captures, the package parses hand-written scenario
// files: JSONC scripts of synthetic events for demos and tests. A
// scenario replays through the same sink interface as a capture.
package capture
