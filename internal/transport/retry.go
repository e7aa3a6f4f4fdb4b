// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
)

// RetryPolicy bounds a retried operation. The wait before attempt n+1 is
// Delay * Multiplier^(n-1), capped at MaxDelay when MaxDelay > 0.
type RetryPolicy struct {
	Attempts   int
	Delay      time.Duration
	Multiplier float64
	MaxDelay   time.Duration
}

// DefaultConnectPolicy is five attempts five seconds apart.
var DefaultConnectPolicy = RetryPolicy{Attempts: 5, Delay: 5 * time.Second, Multiplier: 1}

// DefaultReconnectPolicy keeps trying for a long session.
var DefaultReconnectPolicy = RetryPolicy{Attempts: 100, Delay: 5 * time.Second, Multiplier: 1}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := float64(p.Delay)
	m := p.Multiplier
	if m <= 0 {
		m = 1
	}
	for i := 1; i < attempt; i++ {
		d *= m
		if p.MaxDelay > 0 && d >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	return time.Duration(d)
}

// Retry calls fn until it succeeds, the attempts are exhausted or ctx is
// done. attempt starts at 1. The last error is returned wrapped.
func Retry(ctx context.Context, clk clock.Clock, p RetryPolicy, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx, attempt); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt == attempts {
			break
		}

		t := clk.Timer(p.delay(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", attempts, err)
}
