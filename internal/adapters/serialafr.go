// Dynolink - Dyno Telemetry Acquisition and Live Analysis
// Copyright 2026 Dynolink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dynolink/dynolink

package adapters

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.bug.st/serial"

	"github.com/dynolink/dynolink/internal/logging"
	"github.com/dynolink/dynolink/internal/mapping"
	"github.com/dynolink/dynolink/internal/telemetry"
)

// SerialAFRConfig configures the wideband serial adapter.
type SerialAFRConfig struct {
	// Port is the device path, e.g. /dev/ttyUSB0.
	Port string `koanf:"port"`

	// BaudRate defaults to 115200 (8N1 is fixed).
	BaudRate int `koanf:"baud_rate"`

	// ReadTimeout bounds one port read.
	ReadTimeout time.Duration `koanf:"read_timeout"`

	// Role is the canonical channel the readings land on.
	Role mapping.Role `koanf:"role"`
}

// openPort is swapped out in tests; the default opens the real device.
type openPort func(name string, mode *serial.Mode) (serial.Port, error)

// SerialAFR reads a wideband AFR controller speaking the ASCII line
// protocol: one reading per line, "AFR 13.2" or "LAMBDA 0.89". Lambda
// readings are normalized to AFR.
type SerialAFR struct {
	cfg  SerialAFRConfig
	open openPort

	port    serial.Port
	pending []byte
	buf     []byte
}

// NewSerialAFR builds the adapter. The port is opened on Connect.
func NewSerialAFR(cfg SerialAFRConfig) *SerialAFR {
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = 115200
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 200 * time.Millisecond
	}
	if cfg.Role == "" {
		cfg.Role = mapping.RoleAFRFront
	}
	return &SerialAFR{
		cfg:  cfg,
		open: serial.Open,
		buf:  make([]byte, 256),
	}
}

// Name identifies the adapter by its device path.
func (s *SerialAFR) Name() string {
	return "serial:" + s.cfg.Port
}

// Connect opens the device at the configured baud rate, 8N1.
func (s *SerialAFR) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mode := &serial.Mode{
		BaudRate: s.cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := s.open(s.cfg.Port, mode)
	if err != nil {
		return fmt.Errorf("open serial port %s: %w", s.cfg.Port, err)
	}
	if err := port.SetReadTimeout(s.cfg.ReadTimeout); err != nil {
		_ = port.Close()
		return fmt.Errorf("set serial read timeout: %w", err)
	}
	s.port = port
	s.pending = s.pending[:0]
	logging.Info().Str("port", s.cfg.Port).Int("baud", s.cfg.BaudRate).Msg("serial wideband connected")
	return nil
}

// Read returns samples for every complete line received since the last call.
// A read timeout with no complete line yields an empty batch with nil error.
func (s *SerialAFR) Read(ctx context.Context) ([]telemetry.Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.port == nil {
		return nil, fmt.Errorf("serial port %s not connected", s.cfg.Port)
	}

	// The port read returns zero bytes on timeout rather than an error, so
	// line assembly is done on a pending buffer instead of bufio.
	n, err := s.port.Read(s.buf)
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("serial port %s closed: %w", s.cfg.Port, err)
		}
		return nil, fmt.Errorf("serial read: %w", err)
	}
	s.pending = append(s.pending, s.buf[:n]...)

	now := time.Now().UnixMilli()
	var samples []telemetry.Sample
	for {
		idx := bytes.IndexByte(s.pending, '\n')
		if idx < 0 {
			break
		}
		line := string(bytes.TrimSpace(s.pending[:idx]))
		s.pending = s.pending[idx+1:]
		if line == "" {
			continue
		}

		value, ok := s.parseLine(line)
		if !ok {
			continue
		}
		samples = append(samples, telemetry.Sample{
			SourceID:        s.Name(),
			Channel:         string(s.cfg.Role),
			TimestampMillis: now,
			Value:           value,
		})
	}
	return samples, nil
}

// parseLine handles "AFR <v>" and "LAMBDA <v>"; anything else is noise.
func (s *SerialAFR) parseLine(line string) (float64, bool) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		logging.Debug().Str("line", line).Msg("unparseable wideband line")
		return 0, false
	}
	value, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		logging.Debug().Str("line", line).Msg("unparseable wideband value")
		return 0, false
	}
	switch strings.ToUpper(fields[0]) {
	case "AFR":
		return value, true
	case "LAMBDA":
		return mapping.TransformLambdaToAFR.Apply(value), true
	default:
		logging.Debug().Str("line", line).Msg("unknown wideband keyword")
		return 0, false
	}
}

// Close releases the device, unblocking a pending Read.
func (s *SerialAFR) Close() error {
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}
