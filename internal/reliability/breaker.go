// Dynolink - Dyno Telemetry Acquisition and Live Analysis
// Copyright 2026 Dynolink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dynolink/dynolink

package reliability

import (
	"errors"
	"fmt"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/dynolink/dynolink/internal/logging"
	"github.com/dynolink/dynolink/internal/metrics"
)

// ErrCircuitOpen indicates the source's circuit breaker is open or has
// exhausted its half-open trial budget. Callers must back off rather than
// retry immediately.
var ErrCircuitOpen = errors.New("circuit open")

// IsCircuitOpen reports whether err stems from an open circuit.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen) ||
		errors.Is(err, gobreaker.ErrOpenState) ||
		errors.Is(err, gobreaker.ErrTooManyRequests)
}

// BreakerConfig holds circuit breaker parameters for one data source.
type BreakerConfig struct {
	// Name identifies the breaker in logs and metrics, typically the source id.
	Name string `koanf:"-"`

	// FailureThreshold is the consecutive-failure count that opens the circuit.
	FailureThreshold uint32 `koanf:"failure_threshold"`

	// SuccessThreshold is the consecutive-success count in half-open that
	// closes the circuit. It also bounds the half-open trial call budget.
	SuccessThreshold uint32 `koanf:"success_threshold"`

	// Cooldown is the open-state duration before half-open trials begin.
	Cooldown time.Duration `koanf:"cooldown"`
}

// DefaultBreakerConfig returns the documented defaults: open after 5
// consecutive failures, 60s cooldown, close after 2 half-open successes.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Cooldown:         60 * time.Second,
	}
}

// CircuitState is a point-in-time snapshot of one breaker. Mutated only by
// this package; consumers read it through Breaker.State().
type CircuitState struct {
	State                string    `json:"state"` // closed, half-open, open
	ConsecutiveFailures  uint32    `json:"consecutive_failures"`
	ConsecutiveSuccesses uint32    `json:"consecutive_successes"`
	OpenedAt             time.Time `json:"opened_at,omitempty"`
}

// Breaker is the per-source circuit breaker. It wraps gobreaker with the
// closed → open → half-open → closed state machine from the design:
// N consecutive failures open the circuit, the cooldown admits half-open
// trials, and M consecutive successes close it again.
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker[any]

	mu       sync.Mutex
	openedAt time.Time
}

// NewBreaker creates a circuit breaker, applying defaults for zero values.
func NewBreaker(cfg BreakerConfig) *Breaker {
	defaults := DefaultBreakerConfig(cfg.Name)
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = defaults.FailureThreshold
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = defaults.SuccessThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaults.Cooldown
	}

	b := &Breaker{name: cfg.Name}
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.SuccessThreshold,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.onStateChange(from, to)
		},
	}
	b.cb = gobreaker.NewCircuitBreaker[any](settings)
	return b
}

func (b *Breaker) onStateChange(from, to gobreaker.State) {
	b.mu.Lock()
	if to == gobreaker.StateOpen {
		b.openedAt = time.Now()
	} else if to == gobreaker.StateClosed {
		b.openedAt = time.Time{}
	}
	b.mu.Unlock()

	metrics.SetCircuitState(b.name, stateGaugeValue(to))
	logging.Warn().
		Str("component", "reliability").
		Str("source", b.name).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("circuit breaker state change")
}

func stateGaugeValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// Name returns the breaker's source name.
func (b *Breaker) Name() string {
	return b.name
}

// Execute runs fn under breaker protection. While the circuit is open the
// call is blocked immediately with ErrCircuitOpen; no attempt is made.
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	if err != nil && (errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)) {
		return fmt.Errorf("%w: source %q cooling down", ErrCircuitOpen, b.name)
	}
	return err
}

// State returns a snapshot of the breaker's current state and counters.
func (b *Breaker) State() CircuitState {
	counts := b.cb.Counts()

	b.mu.Lock()
	openedAt := b.openedAt
	b.mu.Unlock()

	return CircuitState{
		State:                b.cb.State().String(),
		ConsecutiveFailures:  counts.ConsecutiveFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
		OpenedAt:             openedAt,
	}
}
