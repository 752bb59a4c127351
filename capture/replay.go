// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/fleetglass/fleetglass/agentapi"
	"github.com/fleetglass/fleetglass/discovery"
	"github.com/fleetglass/fleetglass/lib/clock"
)

// EventSink consumes replayed envelopes. *world.Engine satisfies it
// through its raw injection entry point.
type EventSink interface {
	HandleEvent(source discovery.InstanceKey, envelope agentapi.EventEnvelope)
}

// Replay feeds every frame in the capture to sink, attributed to the
// recorded instance, and returns the number of frames delivered.
// Replay is as fast as the sink accepts; recorded offsets are not
// re-paced.
//
// On ErrTruncated the frames read so far were already delivered, so
// callers get the usable prefix of a cut-off recording along with the
// error.
func Replay(reader *Reader, sink EventSink) (int64, error) {
	source := reader.Meta().Instance

	var delivered int64
	for {
		frame, err := reader.Next()
		if err != nil {
			if err == io.EOF {
				return delivered, nil
			}
			return delivered, err
		}
		sink.HandleEvent(source, frame.Envelope)
		delivered++
	}
}

// RecordConfig configures a live recording session.
type RecordConfig struct {
	// Client is the agent server to record. Required.
	Client *agentapi.Client

	// Writer receives the captured frames. Required. Record does not
	// close it; the caller owns trailer writing via Writer.Close.
	Writer *Writer

	// Clock supplies frame offsets. Defaults to the real clock.
	Clock clock.Clock

	// Logger defaults to a disabled logger.
	Logger *slog.Logger
}

// Record streams events from the client into the writer until the
// context is canceled or the stream fails, and returns the number of
// frames recorded. Context cancellation is the normal way to stop a
// recording and is not reported as an error.
func Record(ctx context.Context, config RecordConfig) (int64, error) {
	if config.Client == nil {
		return 0, fmt.Errorf("capture: config.Client is required")
	}
	if config.Writer == nil {
		return 0, fmt.Errorf("capture: config.Writer is required")
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	events, err := config.Client.Events(ctx)
	if err != nil {
		return 0, fmt.Errorf("capture: opening event stream: %w", err)
	}
	defer events.Close()

	start := clk.Now()
	var recorded int64
	for events.Next() {
		offset := clk.Now().Sub(start)
		if err := config.Writer.WriteEvent(offset, events.Envelope()); err != nil {
			return recorded, err
		}
		recorded++
		logger.Debug("frame recorded",
			"type", events.Envelope().Type,
			"offset", offset,
			"frames", recorded)
	}

	if err := events.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return recorded, fmt.Errorf("capture: event stream: %w", err)
	}
	if skipped := events.Malformed(); skipped > 0 {
		logger.Warn("malformed frames skipped during recording", "count", skipped)
	}
	return recorded, nil
}
