// Dynolink - Dyno Telemetry Acquisition and Live Analysis
// Copyright 2026 Dynolink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dynolink/dynolink

package reliability

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/dynolink/dynolink/internal/metrics"
)

// PermanentError marks an error that must not be retried (malformed device
// responses, configuration mistakes). Transient errors stay retryable.
type PermanentError struct {
	Cause error
}

// Permanent wraps err so the retry policy gives up immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Cause: err}
}

// Error implements the error interface.
func (e *PermanentError) Error() string {
	return "permanent: " + e.Cause.Error()
}

// Unwrap returns the underlying cause.
func (e *PermanentError) Unwrap() error {
	return e.Cause
}

// IsPermanent reports whether err is marked permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// RetryConfig holds retry policy parameters.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts for one logical operation.
	MaxAttempts int `koanf:"max_attempts"`

	// InitialDelay is the backoff before the second attempt.
	InitialDelay time.Duration `koanf:"initial_delay"`

	// MaxDelay caps the backoff growth.
	MaxDelay time.Duration `koanf:"max_delay"`

	// Multiplier is the exponential backoff base.
	Multiplier float64 `koanf:"multiplier"`

	// JitterFraction randomizes each delay by ±fraction. Zero disables jitter.
	JitterFraction float64 `koanf:"jitter_fraction"`

	// Seed makes jitter reproducible in tests. Zero uses a time-based seed.
	Seed int64 `koanf:"-"`
}

// DefaultRetryConfig returns the documented defaults: 3 attempts, 100ms
// initial delay, doubling, capped at 30s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialDelay:   100 * time.Millisecond,
		MaxDelay:       30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
	}
}

// RetryPolicy executes operations with exponential backoff and jitter.
type RetryPolicy struct {
	cfg RetryConfig

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewRetryPolicy creates a retry policy from cfg, applying defaults for
// zero values.
func NewRetryPolicy(cfg RetryConfig) *RetryPolicy {
	defaults := DefaultRetryConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = defaults.InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaults.MaxDelay
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = defaults.Multiplier
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &RetryPolicy{
		cfg: cfg,
		//nolint:gosec // G404: non-cryptographic jitter in backoff timing
		rng: rand.New(rand.NewSource(seed)),
	}
}

// Backoff returns the delay before attempt n+1 (n counts completed attempts,
// starting at 1).
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	backoff := float64(p.cfg.InitialDelay) * math.Pow(p.cfg.Multiplier, float64(attempt-1))
	if backoff > float64(p.cfg.MaxDelay) {
		backoff = float64(p.cfg.MaxDelay)
	}

	if p.cfg.JitterFraction > 0 {
		p.rngMu.Lock()
		jitter := backoff * p.cfg.JitterFraction * (p.rng.Float64()*2 - 1)
		p.rngMu.Unlock()
		backoff += jitter
	}
	return time.Duration(backoff)
}

// Do runs fn up to MaxAttempts times, sleeping the backoff schedule between
// attempts. It stops early on success, on a permanent error, on an open
// circuit, or when ctx is done. The source label feeds the retry metric.
func (p *RetryPolicy) Do(ctx context.Context, source string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if IsPermanent(lastErr) || IsCircuitOpen(lastErr) {
			return lastErr
		}
		if attempt == p.cfg.MaxAttempts {
			break
		}

		metrics.RetryAttempts.WithLabelValues(source).Inc()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Backoff(attempt)):
		}
	}
	return lastErr
}
