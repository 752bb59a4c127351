// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake returns a FakeClock pinned to initial. Time moves only through
// Advance. Safe for concurrent use.
func Fake(initial time.Time) *FakeClock {
	c := &FakeClock{current: initial}
	c.changed = sync.NewCond(&c.mu)
	return c
}

// FakeClock is a deterministic Clock for tests. Timers, tickers, and
// sleeps register as pending entries that fire, in deadline order, when
// Advance moves the clock past their deadline.
//
// AfterFunc callbacks run synchronously inside Advance. Calling Advance
// or Sleep from inside a callback deadlocks.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	pending []*pendingTimer
	changed *sync.Cond
}

type pendingTimer struct {
	deadline time.Time

	// ch receives the fire time for After, Sleep, and ticker entries.
	// Nil for AfterFunc entries.
	ch chan time.Time

	// fn runs synchronously during Advance. Nil except for AfterFunc.
	fn func()

	// every is non-zero for tickers, which reschedule after firing.
	every time.Duration

	stopped bool
	fired   bool
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After returns a channel that receives once the clock advances past
// the deadline. A non-positive d delivers immediately.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.current
		return ch
	}
	c.pending = append(c.pending, &pendingTimer{deadline: c.current.Add(d), ch: ch})
	c.changed.Broadcast()
	return ch
}

// AfterFunc schedules f to run when the clock advances past the
// deadline. A non-positive d runs f synchronously before returning.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{
			stop:  func() bool { return false },
			reset: func(time.Duration) bool { return false },
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	p := &pendingTimer{deadline: c.current.Add(d), fn: f}
	c.pending = append(c.pending, p)
	c.changed.Broadcast()

	return &Timer{
		stop: func() bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			if p.stopped || p.fired {
				return false
			}
			p.stopped = true
			return true
		},
		reset: func(d time.Duration) bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			active := !p.stopped && !p.fired
			p.stopped = false
			p.fired = false
			p.deadline = c.current.Add(d)
			if !active {
				// Fired entries were dropped from the pending list.
				c.pending = append(c.pending, p)
				c.changed.Broadcast()
			}
			return active
		},
	}
}

// NewTicker returns a Ticker firing every d fake-time units. Panics if
// d <= 0.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	p := &pendingTimer{deadline: c.current.Add(d), ch: ch, every: d}
	c.pending = append(c.pending, p)
	c.changed.Broadcast()

	return &Ticker{
		C: ch,
		stop: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			p.stopped = true
		},
		reset: func(d time.Duration) {
			c.mu.Lock()
			defer c.mu.Unlock()
			p.every = d
			p.deadline = c.current.Add(d)
			p.stopped = false
		},
	}
}

// Sleep blocks until the clock advances past the deadline.
func (c *FakeClock) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	<-c.After(d)
}

// Advance moves the clock forward by d and fires every pending entry
// whose deadline falls within the new time, in deadline order. Channel
// sends are non-blocking; a tick that finds its buffer full is dropped,
// matching time.Ticker. Tickers fire once per elapsed interval.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	target := c.current
	c.mu.Unlock()

	for {
		due := c.takeExpired(target)
		if len(due) == 0 {
			return
		}
		sort.Slice(due, func(i, j int) bool {
			return due[i].deadline.Before(due[j].deadline)
		})
		for _, p := range due {
			if p.fn != nil {
				p.fn()
			} else if p.ch != nil {
				select {
				case p.ch <- target:
				default:
				}
			}
		}
	}
}

// takeExpired removes due entries from the pending list, rescheduling
// tickers for their next interval, and returns the entries to fire.
func (c *FakeClock) takeExpired(target time.Time) []*pendingTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	var due, keep []*pendingTimer
	for _, p := range c.pending {
		if p.stopped {
			continue
		}
		if p.deadline.After(target) {
			keep = append(keep, p)
		} else {
			due = append(due, p)
		}
	}
	for _, p := range due {
		if p.every > 0 {
			p.deadline = p.deadline.Add(p.every)
			keep = append(keep, p)
		} else {
			p.fired = true
		}
	}
	c.pending = keep
	return due
}

// WaitForTimers blocks until at least n entries are pending. It closes
// the race between a goroutine registering a timer and the test
// advancing the clock:
//
//	go func() { c.Sleep(5 * time.Second) }()
//	c.WaitForTimers(1)
//	c.Advance(5 * time.Second)
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.activeLocked() < n {
		c.changed.Wait()
	}
}

// PendingCount returns the number of active pending entries.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeLocked()
}

func (c *FakeClock) activeLocked() int {
	n := 0
	for _, p := range c.pending {
		if !p.stopped {
			n++
		}
	}
	return n
}
