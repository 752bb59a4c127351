// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"testing"
	"time"
)

func TestBackoffBaseSchedule(t *testing.T) {
	t.Parallel()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{6, 30 * time.Second},
		{20, 30 * time.Second},
		{100, 30 * time.Second},
	}
	for _, test := range tests {
		got := backoffBase(test.attempt, time.Second, 30*time.Second)
		if got != test.want {
			t.Errorf("backoffBase(%d) = %v, want %v", test.attempt, got, test.want)
		}
	}
}

func TestBackoffBaseMonotonic(t *testing.T) {
	t.Parallel()

	previous := time.Duration(0)
	for attempt := 0; attempt <= 12; attempt++ {
		delay := backoffBase(attempt, time.Second, 30*time.Second)
		if delay < previous {
			t.Fatalf("backoffBase(%d) = %v, shorter than previous %v", attempt, delay, previous)
		}
		previous = delay
	}
}

func TestBackoffJitterBounds(t *testing.T) {
	t.Parallel()

	base := backoffBase(3, time.Second, 30*time.Second)
	upper := base + base/5
	for i := 0; i < 200; i++ {
		delay := backoffDelay(3, time.Second, 30*time.Second)
		if delay < base {
			t.Fatalf("backoffDelay = %v, below the deterministic component %v", delay, base)
		}
		if delay > upper {
			t.Fatalf("backoffDelay = %v, above the 20%% jitter bound %v", delay, upper)
		}
	}
}
