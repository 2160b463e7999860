// Dynolink - Dyno Telemetry Acquisition and Live Analysis
// Copyright 2026 Dynolink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dynolink/dynolink

package protocol

import (
	"errors"
	"fmt"
)

// ErrMalformedFrame indicates bytes that cannot be decoded as a frame:
// a truncated header or a length field that disagrees with the buffer size.
// Readers log the frame, discard it, and continue.
var ErrMalformedFrame = errors.New("malformed frame")

// UnknownFrameError is returned when a frame decodes structurally but carries
// a key this codec does not recognize. The frame itself is returned alongside
// the error so the caller can choose to ignore, log, or forward it.
type UnknownFrameError struct {
	Key FrameKey
}

// Error implements the error interface.
func (e *UnknownFrameError) Error() string {
	return fmt.Sprintf("unknown frame key 0x%02x", uint8(e.Key))
}

// IsUnknownFrame reports whether err is an UnknownFrameError.
func IsUnknownFrame(err error) bool {
	var ue *UnknownFrameError
	return errors.As(err, &ue)
}

// malformedf wraps ErrMalformedFrame with a reason.
func malformedf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedFrame, fmt.Sprintf(format, args...))
}
