// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

// Package capture holds the recording commands: capture an instance's
// live event stream to a file, and replay a recording or a scripted
// scenario through the aggregation engine.
package capture

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/fleetglass/fleetglass/agentapi"
	"github.com/fleetglass/fleetglass/capture"
	"github.com/fleetglass/fleetglass/cmd/fleetglass/cli"
	"github.com/fleetglass/fleetglass/discovery"
)

// Command returns the "capture" command: record one instance's event
// stream to a capture file until interrupted.
func Command() *cli.Command {
	var common cli.CommonFlags
	var output string
	var compression string
	return &cli.Command{
		Name:    "capture",
		Summary: "Record an instance's event stream to a file",
		Description: `Record an agent server's event stream.

Connects to the server's event endpoint and writes every frame to a
capture file with its arrival offset. Stop with ctrl-c; the file is
finalized with a trailer so truncated recordings are detectable. Play
recordings back with "fleetglass replay".`,
		Usage: "fleetglass capture <base-url> [flags]",
		Examples: []cli.Example{
			{
				Description: "Record a local server until ctrl-c",
				Command:     "fleetglass capture http://127.0.0.1:4096",
			},
			{
				Description: "Record without compression for byte-level inspection",
				Command:     "fleetglass capture http://127.0.0.1:4096 --compression none -o debug.fgcap",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("capture", pflag.ContinueOnError)
			common.Register(flagSet)
			flagSet.StringVarP(&output, "output", "o", "", "output file (default: fleetglass-<host>-<time>.fgcap)")
			flagSet.StringVar(&compression, "compression", "zstd", "chunk compression: zstd, lz4, or none")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("capture takes exactly one base URL argument")
			}
			baseURL := args[0]

			tag, err := compressionTag(compression)
			if err != nil {
				return err
			}
			parsed, err := url.Parse(baseURL)
			if err != nil || parsed.Host == "" {
				return fmt.Errorf("invalid base URL %q", baseURL)
			}

			logger := cli.NewCommandLogger(common.Verbose)
			client, err := agentapi.NewClient(agentapi.ClientConfig{
				BaseURL: baseURL,
				Logger:  logger,
			})
			if err != nil {
				return err
			}

			path := output
			if path == "" {
				path = fmt.Sprintf("fleetglass-%s-%s.fgcap",
					strings.ReplaceAll(parsed.Host, ":", "-"),
					time.Now().Format("20060102-150405"))
			}
			// O_EXCL: a recording is evidence; never clobber one.
			file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
			if err != nil {
				return fmt.Errorf("creating %s: %w", path, err)
			}

			writer, err := capture.NewWriter(file, capture.WriterConfig{
				Meta: capture.Metadata{
					Instance:  discovery.InstanceKey(parsed.Host),
					BaseURL:   baseURL,
					StartedAt: time.Now().UnixMilli(),
				},
				Compression: tag,
			})
			if err != nil {
				file.Close()
				return err
			}

			ctx, stop := cli.SignalContext()
			defer stop()

			fmt.Fprintf(os.Stderr, "recording %s to %s (ctrl-c to stop)\n", baseURL, path)
			frames, recordErr := capture.Record(ctx, capture.RecordConfig{
				Client: client,
				Writer: writer,
				Logger: logger,
			})

			closeErr := writer.Close()
			if err := file.Close(); closeErr == nil {
				closeErr = err
			}
			if recordErr != nil {
				return recordErr
			}
			if closeErr != nil {
				return fmt.Errorf("finalizing %s: %w", path, closeErr)
			}

			fmt.Printf("recorded %d frames to %s\n", frames, path)
			return nil
		},
	}
}

func compressionTag(name string) (capture.CompressionTag, error) {
	switch name {
	case "zstd":
		return capture.CompressionZstd, nil
	case "lz4":
		return capture.CompressionLZ4, nil
	case "none":
		return capture.CompressionNone, nil
	default:
		return 0, fmt.Errorf("unknown compression %q (want zstd, lz4, or none)", name)
	}
}
