// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

package world

import (
	"sync"
	"time"

	"github.com/fleetglass/fleetglass/lib/clock"
)

// SessionCallback receives a session's derived view. ok is false when
// the session does not exist, either yet or anymore.
type SessionCallback func(view EnrichedSession, ok bool)

// cellSet tracks per-session subscription cells. A cell is created
// lazily on first subscribe and dropped after sitting subscriber-free
// for the idle TTL, bounding memory when many sessions are viewed
// briefly. The store's global collections never expire; only these
// fanout points do.
type cellSet struct {
	ttl   time.Duration
	clock clock.Clock

	mu     sync.Mutex
	cells  map[string]*sessionCell
	closed bool
}

type sessionCell struct {
	sessionID   string
	subscribers map[int]SessionCallback
	nextID      int

	// lastTouch is the session's touch marker from the last snapshot
	// the cell delivered, or the marker current at subscribe time.
	lastTouch uint64

	// idleTimer runs while the cell has no subscribers.
	idleTimer *clock.Timer
}

// newCellSet returns an empty set. ttl must be positive.
func newCellSet(ttl time.Duration, clk clock.Clock) *cellSet {
	return &cellSet{ttl: ttl, clock: clk, cells: make(map[string]*sessionCell)}
}

// subscribe attaches callback to the session's cell, creating the cell
// on first use. initialTouch seeds change detection so the first
// notifier pass does not refire state the subscriber already saw.
func (c *cellSet) subscribe(sessionID string, initialTouch uint64, callback SessionCallback) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return func() {}
	}
	cell, ok := c.cells[sessionID]
	if !ok {
		cell = &sessionCell{
			sessionID:   sessionID,
			subscribers: make(map[int]SessionCallback),
			lastTouch:   initialTouch,
		}
		c.cells[sessionID] = cell
	}
	if cell.idleTimer != nil {
		cell.idleTimer.Stop()
		cell.idleTimer = nil
	}
	id := cell.nextID
	cell.nextID++
	cell.subscribers[id] = callback

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(cell.subscribers, id)
			if len(cell.subscribers) == 0 && !c.closed {
				c.armIdle(cell)
			}
		})
	}
}

// armIdle schedules the cell's disposal. Callers hold mu.
func (c *cellSet) armIdle(cell *sessionCell) {
	if cell.idleTimer != nil {
		cell.idleTimer.Stop()
	}
	cell.idleTimer = c.clock.AfterFunc(c.ttl, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		current, ok := c.cells[cell.sessionID]
		if !ok || current != cell || len(cell.subscribers) > 0 {
			return
		}
		delete(c.cells, cell.sessionID)
	})
}

// notify fires every cell whose session changed since its last
// delivery. The touch marker comes from the snapshot itself, never the
// live store, so a change landing mid-derivation is credited to the
// snapshot that actually contains it. Callbacks run outside the lock,
// on the caller's goroutine.
func (c *cellSet) notify(state *WorldState) {
	type delivery struct {
		callback SessionCallback
		view     EnrichedSession
		ok       bool
	}
	var deliveries []delivery

	c.mu.Lock()
	for sessionID, cell := range c.cells {
		touch := state.sessionTouches[sessionID]
		if touch == cell.lastTouch {
			continue
		}
		cell.lastTouch = touch
		view, ok := state.Session(sessionID)
		for _, callback := range cell.subscribers {
			deliveries = append(deliveries, delivery{callback, view, ok})
		}
	}
	c.mu.Unlock()

	for _, d := range deliveries {
		d.callback(d.view, d.ok)
	}
}

// count returns the number of live cells, subscribed or idling.
func (c *cellSet) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cells)
}

// close stops every idle timer and drops all cells. Later subscribes
// return a no-op remover.
func (c *cellSet) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for _, cell := range c.cells {
		if cell.idleTimer != nil {
			cell.idleTimer.Stop()
		}
	}
	c.cells = make(map[string]*sessionCell)
}
