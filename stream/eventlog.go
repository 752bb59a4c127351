// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"sync"
	"time"
)

// LogEntry is one received event in a stream's diagnostic log.
type LogEntry struct {
	// Seq is the 1-based position of the event in the instance's
	// stream since the supervisor started. A gap between consecutive
	// retained entries means older entries were overwritten, not that
	// events were lost from the wire.
	Seq  uint64
	Kind string
	At   time.Time
}

// eventLog is a fixed-capacity ring of the most recently received
// events for one instance. New entries overwrite the oldest when the
// ring is full. All methods are safe for concurrent use.
type eventLog struct {
	mu      sync.Mutex
	entries []LogEntry
	// next is the write position within the ring (0 to capacity-1).
	next int
	// total counts entries ever appended. The retained entries span
	// sequence numbers (total - stored, total], where stored =
	// min(total, capacity).
	total uint64
}

func newEventLog(capacity int) *eventLog {
	return &eventLog{entries: make([]LogEntry, capacity)}
}

// append records one event, overwriting the oldest entry when full.
func (l *eventLog) append(kind string, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.total++
	l.entries[l.next] = LogEntry{Seq: l.total, Kind: kind, At: at}
	l.next = (l.next + 1) % len(l.entries)
}

// recent returns the retained entries, oldest first. The result is a
// copy; callers may hold it across further appends.
func (l *eventLog) recent() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	stored := l.total
	if stored > uint64(len(l.entries)) {
		stored = uint64(len(l.entries))
	}
	if stored == 0 {
		return nil
	}

	result := make([]LogEntry, 0, stored)
	start := (l.next - int(stored) + len(l.entries)) % len(l.entries)
	for i := 0; i < int(stored); i++ {
		result = append(result, l.entries[(start+i)%len(l.entries)])
	}
	return result
}

// totalReceived returns the number of events ever appended.
func (l *eventLog) totalReceived() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}
