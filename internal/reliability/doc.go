// Dynolink - Dyno Telemetry Acquisition and Live Analysis
// Copyright 2026 Dynolink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dynolink/dynolink

// Package reliability wraps data-source connect/read operations with retry
// and circuit-breaker protection.
//
// Retry governs one logical operation: exponential backoff with jitter,
// bounded attempts. The circuit breaker governs the health trend across
// operations: it is consulted before every attempt, independent of retry
// state, and blocks calls outright while a source is unhealthy.
//
// The two compose in ResilientSource, one instance per data source. No
// component other than this package mutates circuit state.
package reliability
