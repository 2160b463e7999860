// Dynolink - Dyno Telemetry Acquisition and Live Analysis
// Copyright 2026 Dynolink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dynolink/dynolink

// Package config loads layered configuration: struct defaults, then an
// optional YAML file, then environment variables. Validation is fail-fast;
// the daemon never starts on a config it cannot fully trust.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/dynolink/dynolink/internal/analysis"
	"github.com/dynolink/dynolink/internal/discovery"
	"github.com/dynolink/dynolink/internal/logging"
	"github.com/dynolink/dynolink/internal/mapping"
	"github.com/dynolink/dynolink/internal/queue"
	"github.com/dynolink/dynolink/internal/reliability"
)

// ServerConfig holds the HTTP API listener settings.
type ServerConfig struct {
	Host        string        `koanf:"host" validate:"required"`
	Port        int           `koanf:"port" validate:"gte=1,lte=65535"`
	Timeout     time.Duration `koanf:"timeout"`
	CORSOrigins []string      `koanf:"cors_origins"`
}

// ReliabilityConfig groups the retry and breaker policies applied to every
// data source.
type ReliabilityConfig struct {
	Retry   reliability.RetryConfig   `koanf:"retry"`
	Breaker reliability.BreakerConfig `koanf:"breaker"`
}

// SerialConfig enables the optional wideband serial source.
type SerialConfig struct {
	Enabled     bool          `koanf:"enabled"`
	Port        string        `koanf:"port"`
	BaudRate    int           `koanf:"baud_rate" validate:"gte=0"`
	ReadTimeout time.Duration `koanf:"read_timeout"`
	Role        mapping.Role  `koanf:"role"`
}

// StorageConfig locates the badger directory for persisted channel mappings.
type StorageConfig struct {
	Path string `koanf:"path"`
}

// Config is the full daemon configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Logging     logging.Config    `koanf:"logging"`
	Discovery   discovery.Config  `koanf:"discovery"`
	Queue       queue.Config      `koanf:"queue"`
	Analysis    analysis.Config   `koanf:"analysis"`
	Reliability ReliabilityConfig `koanf:"reliability"`
	Serial      SerialConfig      `koanf:"serial"`
	Storage     StorageConfig     `koanf:"storage"`
}

// defaultConfig returns every documented default. Defaults are applied
// first, then overridden by the config file and environment.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8730,
			Timeout:     30 * time.Second,
			CORSOrigins: []string{"*"},
		},
		Logging:   logging.DefaultConfig(),
		Discovery: discovery.DefaultConfig(),
		Queue:     queue.DefaultConfig(),
		Analysis:  analysis.DefaultConfig(),
		Reliability: ReliabilityConfig{
			Retry:   reliability.DefaultRetryConfig(),
			Breaker: reliability.DefaultBreakerConfig(""),
		},
		Serial: SerialConfig{
			Enabled:     false,
			Port:        "/dev/ttyUSB0",
			BaudRate:    115200,
			ReadTimeout: 200 * time.Millisecond,
			Role:        mapping.RoleAFRFront,
		},
		Storage: StorageConfig{
			Path: "/data/dynolink",
		},
	}
}

// Validate checks structural constraints plus the semantic rules the tag
// language cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	switch c.Analysis.Mode {
	case analysis.ModeLastValue, analysis.ModeMean, "":
	default:
		return fmt.Errorf("config validation: analysis.mode %q is not last or mean", c.Analysis.Mode)
	}

	if c.Queue.Persist && c.Queue.Path == "" {
		return fmt.Errorf("config validation: queue.persist requires queue.path")
	}

	if c.Serial.Enabled && c.Serial.Port == "" {
		return fmt.Errorf("config validation: serial.enabled requires serial.port")
	}

	return nil
}
