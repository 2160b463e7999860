// Dynolink - Dyno Telemetry Acquisition and Live Analysis
// Copyright 2026 Dynolink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dynolink/dynolink

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where the config file is searched, first hit wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/dynolink/config.yaml",
	"/etc/dynolink/config.yml",
}

// ConfigPathEnvVar overrides the config file search.
const ConfigPathEnvVar = "CONFIG_PATH"

// Load builds the configuration from three layers in rising priority:
// struct defaults, the YAML config file (optional), environment variables.
// The result is validated before it is returned.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are parsed from comma-separated env strings into slices.
var sliceConfigPaths = []string{
	"server.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to config paths. Unmapped
// variables are skipped so unrelated environment noise never reaches the
// config.
func envTransformFunc(key string) string {
	envMappings := map[string]string{
		// Logging
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",

		// HTTP server
		"http_host":    "server.host",
		"http_port":    "server.port",
		"http_timeout": "server.timeout",
		"cors_origins": "server.cors_origins",

		// Discovery
		"multicast_group":            "discovery.group",
		"discovery_request_interval": "discovery.request_interval",
		"provider_silence_timeout":   "discovery.silence_timeout",
		"discovery_read_timeout":     "discovery.read_timeout",

		// Ingestion queue
		"queue_capacity":       "queue.capacity",
		"queue_batch_size":     "queue.batch_size",
		"queue_flush_interval": "queue.flush_interval",
		"queue_max_attempts":   "queue.max_attempts",
		"queue_persist":        "queue.persist",
		"queue_path":           "queue.path",

		// Analysis
		"analysis_window_size":     "analysis.window_size",
		"analysis_mode":            "analysis.mode",
		"analysis_rpm_bucket":      "analysis.rpm_bucket",
		"analysis_map_bucket":      "analysis.map_bucket",
		"analysis_frozen_windows":  "analysis.frozen_windows",
		"analysis_expected_period": "analysis.expected_period",
		"analysis_silence_factor":  "analysis.silence_factor",
		"analysis_afr_target":      "analysis.afr_target",
		"analysis_topic":           "analysis.topic",

		// Reliability
		"retry_max_attempts":        "reliability.retry.max_attempts",
		"retry_initial_delay":       "reliability.retry.initial_delay",
		"retry_max_delay":           "reliability.retry.max_delay",
		"retry_multiplier":          "reliability.retry.multiplier",
		"retry_jitter_fraction":     "reliability.retry.jitter_fraction",
		"breaker_failure_threshold": "reliability.breaker.failure_threshold",
		"breaker_success_threshold": "reliability.breaker.success_threshold",
		"breaker_cooldown":          "reliability.breaker.cooldown",

		// Serial wideband
		"serial_enabled":      "serial.enabled",
		"serial_port":         "serial.port",
		"serial_baud_rate":    "serial.baud_rate",
		"serial_read_timeout": "serial.read_timeout",
		"serial_role":         "serial.role",

		// Mapping store
		"storage_path": "storage.path",
	}

	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
