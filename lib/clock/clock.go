// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts the time package behind an injectable
// interface so that timer-driven code (discovery polling, reconnect
// backoff, health checks) can be tested deterministically.
//
// Production code injects Real(). Tests inject Fake(), register work,
// call WaitForTimers to synchronize with goroutines that schedule
// timers, and then Advance to fire them in deadline order.
package clock

import "time"

// Clock is the subset of the time package that Fleetglass schedules
// against. Structs that poll, back off, or expire state hold a Clock
// field instead of calling the time package directly.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once d
	// has elapsed. A non-positive d delivers immediately.
	After(d time.Duration) <-chan time.Time

	// AfterFunc calls f after d has elapsed. The returned Timer's C
	// field is nil, matching time.AfterFunc.
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker returns a Ticker delivering on C every d. Panics if
	// d <= 0, matching time.NewTicker.
	NewTicker(d time.Duration) *Ticker

	// Sleep blocks the calling goroutine for at least d.
	Sleep(d time.Duration)
}

// Ticker delivers periodic ticks on C. C is buffered with capacity 1;
// ticks the consumer misses are dropped, matching time.Ticker.
type Ticker struct {
	C <-chan time.Time

	stop  func()
	reset func(time.Duration)
}

// Stop turns the ticker off. It does not close C.
func (t *Ticker) Stop() { t.stop() }

// Reset changes the interval and restarts the tick cycle.
func (t *Ticker) Reset(d time.Duration) { t.reset(d) }

// Timer is a single scheduled event. Timers from AfterFunc carry a nil
// C field.
type Timer struct {
	C <-chan time.Time

	stop  func() bool
	reset func(time.Duration) bool
}

// Stop cancels the timer. It reports whether the call stopped the
// timer, false when it already fired or was stopped.
func (t *Timer) Stop() bool { return t.stop() }

// Reset re-arms the timer to fire after d. It reports whether the
// timer was active before the call.
func (t *Timer) Reset(d time.Duration) bool { return t.reset(d) }
