// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/zeebo/blake3"

	"github.com/fleetglass/fleetglass/agentapi"
	"github.com/fleetglass/fleetglass/discovery"
	"github.com/fleetglass/fleetglass/lib/codec"
)

// Capture format constants.
const (
	// captureVersion is the format version carried in the magic
	// prefix. Version 1 is the initial format.
	captureVersion = 1

	// defaultChunkSize is the uncompressed frame stream size at which
	// the writer cuts a chunk. Event envelopes are small, so one chunk
	// usually holds hundreds of frames.
	defaultChunkSize = 64 * 1024
)

// captureMagic is the 8-byte capture file signature: "FGCAP" +
// version byte + 2 reserved bytes.
var captureMagic = [8]byte{'F', 'G', 'C', 'A', 'P', captureVersion, 0, 0}

// frameDomainKey is the 32-byte key for the BLAKE3 keyed hash over
// the uncompressed frame stream. The byte values are the ASCII
// encoding of the domain name, zero-padded to 32 bytes, so the key is
// inspectable in hex dumps without sacrificing any cryptographic
// property.
var frameDomainKey = [32]byte{
	'f', 'l', 'e', 'e', 't', 'g', 'l', 'a', 's', 's', '.',
	'c', 'a', 'p', 't', 'u', 'r', 'e', '.',
	'f', 'r', 'a', 'm', 'e', 's', 0, 0, 0, 0, 0, 0, 0,
}

// newFrameHasher returns a keyed BLAKE3 hasher for the frame stream
// digest.
func newFrameHasher() *blake3.Hasher {
	hasher, err := blake3.NewKeyed(frameDomainKey[:])
	if err != nil {
		panic("capture: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	return hasher
}

// Metadata identifies the instance a capture was recorded from.
type Metadata struct {
	// Instance is the discovery key of the recorded instance.
	Instance discovery.InstanceKey `cbor:"instance"`

	// BaseURL is the instance's API base URL at recording time.
	BaseURL string `cbor:"baseURL,omitempty"`

	// StartedAt is the recording start time in Unix milliseconds.
	// Frame offsets are relative to this instant.
	StartedAt int64 `cbor:"startedAt"`
}

// fileHeader is the first CBOR record after the magic prefix.
type fileHeader struct {
	Meta Metadata `cbor:"meta"`

	// Compression is the declared default algorithm, stored by name
	// ("zstd", "lz4", "none"). Individual chunks carry their own tag
	// because incompressible chunks fall back to being stored raw.
	Compression string `cbor:"compression"`
}

// record is a chunk or trailer in the CBOR sequence that follows the
// header. The Kind field discriminates.
type record struct {
	Kind string `cbor:"kind"`

	// Chunk fields.
	Compression uint8  `cbor:"compression,omitempty"`
	RawSize     int    `cbor:"rawSize,omitempty"`
	Data        []byte `cbor:"data,omitempty"`

	// Trailer fields.
	Frames int64  `cbor:"frames,omitempty"`
	Digest []byte `cbor:"digest,omitempty"`
}

const (
	recordKindChunk   = "chunk"
	recordKindTrailer = "trailer"
)

// frameRecord is one event in the uncompressed frame stream. Frames
// are individually CBOR-encoded and concatenated; the stream is then
// chunked, compressed, and digested.
type frameRecord struct {
	// Offset is milliseconds since Metadata.StartedAt.
	Offset int64 `cbor:"offset"`

	// Type is the envelope's event type, verbatim from the wire.
	Type string `cbor:"type"`

	// Data is the envelope's raw JSON properties, verbatim from the
	// wire. Kept as received so a capture is a faithful tap even for
	// fields this version does not understand.
	Data []byte `cbor:"data"`
}

// WriterConfig configures a capture writer.
type WriterConfig struct {
	// Meta identifies the recorded instance. Instance is required.
	Meta Metadata

	// Compression selects the chunk compression algorithm. Zero
	// value (CompressionNone) is respected; use DefaultCompression
	// for the standard choice.
	Compression CompressionTag

	// ChunkSize overrides the uncompressed chunk cut threshold.
	// Zero means the default.
	ChunkSize int
}

// DefaultCompression is the chunk compression used when the caller
// has no preference.
const DefaultCompression = CompressionZstd

// Writer appends event envelopes to a capture stream. Close writes
// the trailer; a file without one is truncated. The Writer does not
// close the destination, the caller owns it.
//
// Not safe for concurrent use.
type Writer struct {
	destination io.Writer
	encoder     *codec.Encoder
	compression CompressionTag
	chunkSize   int

	buffer bytes.Buffer
	digest *blake3.Hasher
	frames int64

	closed bool
	err    error
}

// NewWriter writes the magic prefix and header to destination and
// returns a Writer ready for WriteEvent calls.
func NewWriter(destination io.Writer, config WriterConfig) (*Writer, error) {
	if config.Meta.Instance == "" {
		return nil, fmt.Errorf("capture: metadata instance key is required")
	}
	switch config.Compression {
	case CompressionNone, CompressionLZ4, CompressionZstd:
	default:
		return nil, fmt.Errorf("capture: unsupported compression tag %d", config.Compression)
	}
	chunkSize := config.ChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}

	if _, err := destination.Write(captureMagic[:]); err != nil {
		return nil, fmt.Errorf("capture: writing magic: %w", err)
	}

	encoder := codec.NewEncoder(destination)
	header := fileHeader{
		Meta:        config.Meta,
		Compression: config.Compression.String(),
	}
	if err := encoder.Encode(header); err != nil {
		return nil, fmt.Errorf("capture: writing header: %w", err)
	}

	return &Writer{
		destination: destination,
		encoder:     encoder,
		compression: config.Compression,
		chunkSize:   chunkSize,
		digest:      newFrameHasher(),
	}, nil
}

// WriteEvent appends one envelope at the given offset from the
// recording start. The envelope is stored verbatim.
func (w *Writer) WriteEvent(offset time.Duration, envelope agentapi.EventEnvelope) error {
	if w.err != nil {
		return w.err
	}
	if w.closed {
		return fmt.Errorf("capture: writer is closed")
	}

	frame := frameRecord{
		Offset: offset.Milliseconds(),
		Type:   envelope.Type,
		Data:   envelope.Properties,
	}
	data, err := codec.Marshal(frame)
	if err != nil {
		return w.fail(fmt.Errorf("capture: encoding frame: %w", err))
	}

	w.digest.Write(data)
	w.buffer.Write(data)
	w.frames++

	if w.buffer.Len() >= w.chunkSize {
		return w.flushChunk()
	}
	return nil
}

// Frames returns the number of frames written so far.
func (w *Writer) Frames() int64 {
	return w.frames
}

// Close flushes the pending chunk and writes the trailer. Idempotent.
func (w *Writer) Close() error {
	if w.err != nil {
		return w.err
	}
	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.flushChunk(); err != nil {
		return err
	}

	trailer := record{
		Kind:   recordKindTrailer,
		Frames: w.frames,
		Digest: w.digest.Sum(nil),
	}
	if err := w.encoder.Encode(trailer); err != nil {
		return w.fail(fmt.Errorf("capture: writing trailer: %w", err))
	}
	return nil
}

// flushChunk compresses and writes the buffered frame stream. A chunk
// that does not compress is stored raw under CompressionNone.
func (w *Writer) flushChunk() error {
	if w.buffer.Len() == 0 {
		return nil
	}

	raw := w.buffer.Bytes()
	tag := w.compression
	compressed, err := CompressChunk(raw, tag)
	if err != nil {
		if !IsIncompressible(err) {
			return w.fail(fmt.Errorf("capture: compressing chunk: %w", err))
		}
		compressed = raw
		tag = CompressionNone
	}

	chunk := record{
		Kind:        recordKindChunk,
		Compression: uint8(tag),
		RawSize:     len(raw),
		Data:        compressed,
	}
	if err := w.encoder.Encode(chunk); err != nil {
		return w.fail(fmt.Errorf("capture: writing chunk: %w", err))
	}

	w.buffer.Reset()
	return nil
}

// fail records a sticky error. Once a write fails mid-record the
// stream position is unknown, so every later call reports the same
// error.
func (w *Writer) fail(err error) error {
	w.err = err
	return err
}
