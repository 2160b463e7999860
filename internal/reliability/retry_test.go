// Dynolink - Dyno Telemetry Acquisition and Live Analysis
// Copyright 2026 Dynolink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dynolink/dynolink

package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(attempts int) *RetryPolicy {
	return NewRetryPolicy(RetryConfig{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
		Seed:         1,
	})
}

func TestRetrySucceedsEventually(t *testing.T) {
	p := fastRetry(3)

	calls := 0
	err := p.Do(context.Background(), "test", func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	p := fastRetry(3)

	calls := 0
	wantErr := errors.New("still broken")
	err := p.Do(context.Background(), "test", func() error {
		calls++
		return wantErr
	})

	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	p := fastRetry(5)

	calls := 0
	err := p.Do(context.Background(), "test", func() error {
		calls++
		return Permanent(errors.New("bad config"))
	})

	assert.True(t, IsPermanent(err))
	assert.Equal(t, 1, calls, "permanent errors must not be retried")
}

func TestRetryStopsOnOpenCircuit(t *testing.T) {
	p := fastRetry(5)

	calls := 0
	err := p.Do(context.Background(), "test", func() error {
		calls++
		return ErrCircuitOpen
	})

	assert.True(t, IsCircuitOpen(err))
	assert.Equal(t, 1, calls, "an open circuit must not be hammered by retry")
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{
		MaxAttempts:  10,
		InitialDelay: time.Hour, // would stall forever without cancellation
		Seed:         1,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := p.Do(ctx, "test", func() error {
		return errors.New("transient")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoffSchedule(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		// JitterFraction zero: deterministic schedule
	})

	assert.Equal(t, 100*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, p.Backoff(2))
	assert.Equal(t, 400*time.Millisecond, p.Backoff(3))
}

func TestBackoffCappedAtMaxDelay(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	})

	assert.Equal(t, 30*time.Second, p.Backoff(20))
}

func TestBackoffJitterStaysWithinFraction(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{
		MaxAttempts:    3,
		InitialDelay:   time.Second,
		MaxDelay:       time.Minute,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Seed:           42,
	})

	for i := 0; i < 100; i++ {
		d := p.Backoff(1)
		assert.GreaterOrEqual(t, d, 900*time.Millisecond)
		assert.LessOrEqual(t, d, 1100*time.Millisecond)
	}
}
