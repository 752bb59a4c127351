// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"testing"
)

func TestParseListeners(t *testing.T) {
	t.Parallel()

	// Two matching processes and one unrelated listener, as lsof -Fpcn
	// renders them. The second process listens on both loopback
	// families; only one candidate per port survives.
	output := "p4312\n" +
		"copencode\n" +
		"f23\n" +
		"n127.0.0.1:4096\n" +
		"p4400\n" +
		"copencode\n" +
		"f19\n" +
		"n127.0.0.1:4097\n" +
		"f20\n" +
		"n[::1]:4097\n" +
		"p990\n" +
		"cpostgres\n" +
		"f7\n" +
		"n127.0.0.1:5432\n"

	listeners := parseListeners(output, []string{"opencode"})
	if len(listeners) != 2 {
		t.Fatalf("len(listeners) = %d, want 2: %+v", len(listeners), listeners)
	}
	if listeners[0].Port != 4096 || listeners[0].PID != 4312 {
		t.Errorf("listeners[0] = %+v, want port 4096 pid 4312", listeners[0])
	}
	if listeners[1].Port != 4097 || listeners[1].PID != 4400 {
		t.Errorf("listeners[1] = %+v, want port 4097 pid 4400", listeners[1])
	}
	for _, listener := range listeners {
		if listener.Command != "opencode" {
			t.Errorf("Command = %q, want opencode", listener.Command)
		}
	}
}

func TestParseListenersEmptyFilter(t *testing.T) {
	t.Parallel()

	output := "p100\ncnginx\nn*:8080\np200\ncredis\nn127.0.0.1:6379\n"
	listeners := parseListeners(output, nil)
	if len(listeners) != 2 {
		t.Fatalf("len(listeners) = %d, want 2", len(listeners))
	}
	// Sorted by port.
	if listeners[0].Port != 6379 || listeners[1].Port != 8080 {
		t.Errorf("ports = %d, %d, want 6379, 8080", listeners[0].Port, listeners[1].Port)
	}
}

func TestParseListenersSkipsGarbage(t *testing.T) {
	t.Parallel()

	output := "p4312\n" +
		"copencode\n" +
		"nnot-an-address\n" +
		"n127.0.0.1:\n" +
		"n127.0.0.1:99999\n" +
		"n127.0.0.1:4096\n"
	listeners := parseListeners(output, []string{"opencode"})
	if len(listeners) != 1 {
		t.Fatalf("len(listeners) = %d, want 1: %+v", len(listeners), listeners)
	}
	if listeners[0].Port != 4096 {
		t.Errorf("Port = %d, want 4096", listeners[0].Port)
	}
}

func TestParseListenersEmptyOutput(t *testing.T) {
	t.Parallel()

	if listeners := parseListeners("", []string{"opencode"}); len(listeners) != 0 {
		t.Errorf("len(listeners) = %d, want 0", len(listeners))
	}
}

func TestListenPort(t *testing.T) {
	t.Parallel()

	tests := []struct {
		address  string
		wantPort int
		wantOK   bool
	}{
		{"127.0.0.1:4096", 4096, true},
		{"*:4096", 4096, true},
		{"[::1]:4096", 4096, true},
		{"[fe80::1]:443", 443, true},
		{"127.0.0.1", 0, false},
		{"127.0.0.1:", 0, false},
		{"127.0.0.1:0", 0, false},
		{"127.0.0.1:70000", 0, false},
		{"", 0, false},
	}
	for _, test := range tests {
		port, ok := listenPort(test.address)
		if port != test.wantPort || ok != test.wantOK {
			t.Errorf("listenPort(%q) = (%d, %v), want (%d, %v)",
				test.address, port, ok, test.wantPort, test.wantOK)
		}
	}
}
