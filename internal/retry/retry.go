// Bastionmap - SSH Failed-Login Analytics and Live Attack Map
// Copyright 2026 Bastionmap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionmap/bastionmap

// Package retry provides the single bounded-attempt exponential backoff
// policy used for both storage and geolocation calls. Waits are cancellable
// through the context; a canceled context aborts the remaining attempts.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Policy defines a bounded retry with exponential backoff.
type Policy struct {
	// Attempts is the total number of tries, including the first. Values
	// below 1 are treated as 1.
	Attempts int

	// Delay is the wait before the second attempt; it doubles after every
	// failed attempt.
	Delay time.Duration

	// MaxDelay caps the per-attempt wait. Zero means uncapped.
	MaxDelay time.Duration

	// Jitter adds up to 25% random variance to each wait to avoid
	// synchronized retries across tick workers.
	Jitter bool
}

// Do runs fn until it returns nil, the attempt budget is exhausted, or the
// context is canceled.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	return p.DoIf(ctx, func(error) bool { return true }, fn)
}

// DoIf runs fn like Do, but only errors for which retryable returns true
// consume further attempts; any other error is returned immediately.
func (p Policy) DoIf(ctx context.Context, retryable func(error) bool, fn func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	delay := p.Delay

	for attempt := 0; attempt < attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err = fn()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}

		if attempt < attempts-1 {
			select {
			case <-time.After(p.wait(delay)):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
			if p.MaxDelay > 0 && delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		}
	}

	return fmt.Errorf("max retry attempts reached: %w", err)
}

// wait returns the delay for one attempt, with jitter applied if enabled.
func (p Policy) wait(delay time.Duration) time.Duration {
	if !p.Jitter || delay <= 0 {
		return delay
	}
	return delay + time.Duration(rand.Int63n(int64(delay)/4+1))
}
