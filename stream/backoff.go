// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"math/rand"
	"time"
)

// backoffDelay returns the wait before reconnect attempt number
// attempt: an exponential delay doubling from base up to limit, plus
// up to 20% random jitter so instances that died together do not retry
// in lockstep.
func backoffDelay(attempt int, base, limit time.Duration) time.Duration {
	delay := backoffBase(attempt, base, limit)
	if delay <= 0 {
		return 0
	}
	//nolint:gosec // The random delay is for jitter, not security.
	jitter := time.Duration(rand.Int63n(int64(delay)/5 + 1))
	return delay + jitter
}

// backoffBase returns min(base * 2^attempt, limit), the deterministic
// component of the reconnect delay. Doubling stops at limit, which
// also keeps large attempt counts from overflowing.
func backoffBase(attempt int, base, limit time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for ; attempt > 0 && delay < limit; attempt-- {
		delay *= 2
	}
	if delay > limit {
		delay = limit
	}
	return delay
}
