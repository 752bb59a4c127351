// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
)

// Scanner enumerates local TCP listeners that may be agent servers.
type Scanner interface {
	Listeners(ctx context.Context) ([]Listener, error)
}

// Listener is one local listening socket candidate.
type Listener struct {
	Port    int
	PID     int
	Command string
}

// LsofScanner enumerates listeners by shelling out to lsof. This works
// unprivileged on both Linux and macOS for the user's own processes,
// which is exactly the set that can be running the user's agents.
type LsofScanner struct {
	// ProcessNames filters listeners by process command name. Empty
	// accepts every listener.
	ProcessNames []string
}

func (s *LsofScanner) Listeners(ctx context.Context) ([]Listener, error) {
	// -P -n keep ports and addresses numeric, -F emits one tagged
	// field per line for parsing.
	cmd := exec.CommandContext(ctx, "lsof", "-iTCP", "-sTCP:LISTEN", "-P", "-n", "-Fpcn")
	output, err := cmd.Output()
	if err != nil {
		// lsof exits 1 when no sockets match the filters.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 && len(bytes.TrimSpace(output)) == 0 {
			return nil, nil
		}
		return nil, fmt.Errorf("discovery: lsof: %w", err)
	}
	return parseListeners(string(output), s.ProcessNames), nil
}

// parseListeners consumes lsof -F output: one field per line, tagged
// by its first character. A "p" line starts a process group, "c" names
// its command, and each "n" line is one socket address. "f" (file
// descriptor) lines appear between them and are ignored. Ports are
// deduplicated on first sight, so a process listening on both the
// IPv4 and IPv6 loopback yields one candidate.
func parseListeners(output string, names []string) []Listener {
	var listeners []Listener
	seen := make(map[int]bool)

	var pid int
	var command string
	for _, line := range strings.Split(output, "\n") {
		if line == "" {
			continue
		}
		tag, value := line[0], line[1:]
		switch tag {
		case 'p':
			pid, _ = strconv.Atoi(value)
			command = ""
		case 'c':
			command = value
		case 'n':
			if !matchesProcess(command, names) {
				continue
			}
			port, ok := listenPort(value)
			if !ok || seen[port] {
				continue
			}
			seen[port] = true
			listeners = append(listeners, Listener{Port: port, PID: pid, Command: command})
		}
	}

	sort.Slice(listeners, func(i, j int) bool {
		return listeners[i].Port < listeners[j].Port
	})
	return listeners
}

func matchesProcess(command string, names []string) bool {
	if len(names) == 0 {
		return true
	}
	for _, name := range names {
		if command == name {
			return true
		}
	}
	return false
}

// listenPort extracts the port from an lsof socket address such as
// "*:4096", "127.0.0.1:4096", or "[::1]:4096".
func listenPort(address string) (int, bool) {
	idx := strings.LastIndex(address, ":")
	if idx < 0 || idx == len(address)-1 {
		return 0, false
	}
	port, err := strconv.Atoi(address[idx+1:])
	if err != nil || port <= 0 || port > 65535 {
		return 0, false
	}
	return port, true
}
