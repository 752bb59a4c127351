// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/zeebo/blake3"

	"github.com/fleetglass/fleetglass/agentapi"
	"github.com/fleetglass/fleetglass/lib/codec"
)

// ErrTruncated reports a capture file that ends before its trailer.
// Frames returned before the error are intact; the recording was cut
// off mid-write.
var ErrTruncated = errors.New("capture file truncated before trailer")

// ErrCorrupt reports a capture file whose contents fail verification:
// a frame digest mismatch, a frame count mismatch, or an undecodable
// record.
var ErrCorrupt = errors.New("capture file corrupt")

// Frame is one replayed event: the envelope verbatim from the wire
// and its receipt offset from the recording start.
type Frame struct {
	Offset   time.Duration
	Envelope agentapi.EventEnvelope
}

// Reader decodes frames from a capture stream. Frames come back in
// recorded order; Next returns io.EOF after the trailer verifies.
//
// Not safe for concurrent use.
type Reader struct {
	decoder     *codec.Decoder
	meta        Metadata
	compression CompressionTag

	// chunk decodes frames from the current decompressed chunk, nil
	// between chunks.
	chunk *codec.Decoder

	digest *blake3.Hasher
	read   int64
	done   bool
	err    error
}

// NewReader validates the magic prefix and header and returns a
// Reader positioned at the first frame.
func NewReader(source io.Reader) (*Reader, error) {
	var magic [8]byte
	if _, err := io.ReadFull(source, magic[:]); err != nil {
		return nil, fmt.Errorf("capture: reading magic: %w", err)
	}
	if magic != captureMagic {
		if bytes.Equal(magic[:5], captureMagic[:5]) {
			return nil, fmt.Errorf("capture format version %d is not supported (this code supports version %d)",
				magic[5], captureVersion)
		}
		return nil, fmt.Errorf("not a fleetglass capture file (invalid magic bytes)")
	}

	decoder := codec.NewDecoder(source)
	var header fileHeader
	if err := decoder.Decode(&header); err != nil {
		return nil, fmt.Errorf("capture: reading header: %w", err)
	}
	if header.Meta.Instance == "" {
		return nil, fmt.Errorf("%w: header has no instance key", ErrCorrupt)
	}
	compression, err := ParseCompressionTag(header.Compression)
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrCorrupt, err)
	}

	return &Reader{
		decoder:     decoder,
		meta:        header.Meta,
		compression: compression,
		digest:      newFrameHasher(),
	}, nil
}

// Meta returns the capture's instance metadata.
func (r *Reader) Meta() Metadata {
	return r.meta
}

// Compression returns the declared default compression from the
// header. Individual chunks may differ when they were incompressible.
func (r *Reader) Compression() CompressionTag {
	return r.compression
}

// Next returns the next frame. It returns io.EOF once all frames are
// read and the trailer digest verifies, ErrTruncated if the stream
// ends without a trailer, and ErrCorrupt if verification fails.
// Errors are sticky.
func (r *Reader) Next() (Frame, error) {
	if r.err != nil {
		return Frame{}, r.err
	}
	if r.done {
		return Frame{}, io.EOF
	}

	for {
		if r.chunk != nil {
			var frame frameRecord
			err := r.chunk.Decode(&frame)
			if err == nil {
				r.read++
				return Frame{
					Offset: time.Duration(frame.Offset) * time.Millisecond,
					Envelope: agentapi.EventEnvelope{
						Type:       frame.Type,
						Properties: frame.Data,
					},
				}, nil
			}
			if err != io.EOF {
				return Frame{}, r.fail(fmt.Errorf("%w: decoding frame %d: %v", ErrCorrupt, r.read, err))
			}
			r.chunk = nil
		}

		var rec record
		if err := r.decoder.Decode(&rec); err != nil {
			if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
				return Frame{}, r.fail(fmt.Errorf("%w after %d frames", ErrTruncated, r.read))
			}
			return Frame{}, r.fail(fmt.Errorf("%w: decoding record: %v", ErrCorrupt, err))
		}

		switch rec.Kind {
		case recordKindChunk:
			raw, err := DecompressChunk(rec.Data, CompressionTag(rec.Compression), rec.RawSize)
			if err != nil {
				return Frame{}, r.fail(fmt.Errorf("%w: chunk: %v", ErrCorrupt, err))
			}
			r.digest.Write(raw)
			r.chunk = codec.NewDecoder(bytes.NewReader(raw))

		case recordKindTrailer:
			if rec.Frames != r.read {
				return Frame{}, r.fail(fmt.Errorf("%w: trailer says %d frames, read %d",
					ErrCorrupt, rec.Frames, r.read))
			}
			if !bytes.Equal(rec.Digest, r.digest.Sum(nil)) {
				return Frame{}, r.fail(fmt.Errorf("%w: frame digest mismatch", ErrCorrupt))
			}
			r.done = true
			return Frame{}, io.EOF

		default:
			return Frame{}, r.fail(fmt.Errorf("%w: unknown record kind %q", ErrCorrupt, rec.Kind))
		}
	}
}

// fail records a sticky error.
func (r *Reader) fail(err error) error {
	r.err = err
	return err
}
