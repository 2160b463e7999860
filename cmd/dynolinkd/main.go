// Dynolink - Dyno Telemetry Acquisition and Live Analysis
// Copyright 2026 Dynolink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dynolink/dynolink

// Package main is the entry point for the Dynolink daemon.
//
// Dynolink acquires telemetry from chassis dyno data providers over UDP
// multicast, maps their channels onto canonical roles, and serves live
// aggregated analysis to the operator UI.
//
// # Application Architecture
//
// The daemon initializes components in the following order:
//
//  1. Configuration: defaults, config file, environment (Koanf v2)
//  2. Storage: BadgerDB for persisted channel mappings
//  3. Analysis: windowed aggregation engine publishing on an in-process bus
//  4. Discovery: multicast registry on the provider announcement group
//  5. Session: supervised acquisition lifecycle (suture v4)
//  6. HTTP API: REST + websocket + Prometheus metrics
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (HTTP_PORT, MULTICAST_GROUP, QUEUE_CAPACITY, ...)
//   - Config file (config.yaml, or CONFIG_PATH)
//   - Built-in defaults
//
// # Session Flow
//
// On startup the daemon discovers providers on the multicast group, pins the
// first one whose catalog satisfies the readiness gate, and starts capture.
// The optional serial wideband source (SERIAL_ENABLED=true) is attached to
// the same session at high priority.
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger graceful shutdown: the session drains its
// queue, open analysis windows flush, and the HTTP server stops accepting
// connections (10s timeout).
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/dgraph-io/badger/v4"
	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/dynolink/dynolink/internal/adapters"
	"github.com/dynolink/dynolink/internal/analysis"
	"github.com/dynolink/dynolink/internal/api"
	"github.com/dynolink/dynolink/internal/config"
	"github.com/dynolink/dynolink/internal/discovery"
	"github.com/dynolink/dynolink/internal/logging"
	"github.com/dynolink/dynolink/internal/mapping"
	"github.com/dynolink/dynolink/internal/queue"
	"github.com/dynolink/dynolink/internal/session"
)

// discoveryRetryDelay paces session bring-up passes while no provider on the
// group satisfies the readiness gate yet.
const discoveryRetryDelay = 2 * time.Second

func main() {
	// Load configuration first to get logging settings.
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(cfg.Logging)
	logging.Info().
		Str("group", cfg.Discovery.Group).
		Str("storage", cfg.Storage.Path).
		Bool("serial", cfg.Serial.Enabled).
		Msg("Starting Dynolink")

	// Mapping store. An empty storage path runs Badger in memory; confirmed
	// mappings then live only for the daemon's lifetime.
	db, err := openStorage(cfg.Storage.Path)
	if err != nil {
		logging.Fatal().Err(err).Str("path", cfg.Storage.Path).Msg("Failed to open mapping storage")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing mapping storage")
		}
	}()
	mapStore := mapping.NewStore(db)

	// Analysis engine publishing aggregated windows on the in-process bus.
	// Consumers (recorders, exporters) subscribe to the configured topic.
	bus := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, watermill.NopLogger{})
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing analysis bus")
		}
	}()
	eng := analysis.New(cfg.Analysis, bus)

	registry, err := discovery.NewRegistry(cfg.Discovery)
	if err != nil {
		logging.Fatal().Err(err).Str("group", cfg.Discovery.Group).Msg("Failed to join discovery group")
	}

	sessCfg := session.DefaultConfig()
	sessCfg.ReadTimeout = cfg.Discovery.ReadTimeout
	sessCfg.Queue = cfg.Queue
	sessCfg.Retry = cfg.Reliability.Retry
	sessCfg.Breaker = cfg.Reliability.Breaker

	controller, err := session.NewController(sessCfg, registry, eng, mapStore)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create session controller")
	}
	defer func() {
		if err := controller.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing session controller")
		}
	}()

	if cfg.Serial.Enabled {
		controller.AddSource(adapters.NewSerialAFR(adapters.SerialAFRConfig{
			Port:        cfg.Serial.Port,
			BaudRate:    cfg.Serial.BaudRate,
			ReadTimeout: cfg.Serial.ReadTimeout,
			Role:        cfg.Serial.Role,
		}), queue.PriorityHigh)
		logging.Info().Str("port", cfg.Serial.Port).Msg("Serial wideband source enabled")
	}

	server := api.New(api.Config{
		Host:        cfg.Server.Host,
		Port:        cfg.Server.Port,
		Timeout:     cfg.Server.Timeout,
		CORSOrigins: cfg.Server.CORSOrigins,
	}, controller, eng)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Root supervisor carries the long-lived daemon services. The session's
	// own supervisor (queue, readers, silence sweeper) is created per Start.
	handler := &sutureslog.Handler{Logger: slog.Default()}
	tree := suture.New("dynolink", suture.Spec{EventHook: handler.MustHook()})
	tree.Add(server)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	go runSession(ctx, controller)

	errCh := tree.ServeBackground(ctx)
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := controller.Stop(stopCtx); err != nil {
		logging.Error().Err(err).Msg("Error stopping session")
	}

	logging.Info().Msg("Dynolink stopped gracefully")
}

// openStorage opens the mapping database at path, or in memory when the path
// is empty.
func openStorage(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	return badger.Open(opts)
}

// runSession brings the acquisition session up: discover until a provider's
// catalog satisfies the readiness gate, pin it, start capture. Providers
// announce their catalogs asynchronously, so early passes may see a provider
// before its channels arrive; the loop retries until the gate passes or the
// daemon shuts down.
func runSession(ctx context.Context, controller *session.Controller) {
	for {
		providers, err := controller.Discover(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logging.Warn().Err(err).Msg("Discovery pass failed")
		}

		for _, p := range providers {
			if len(p.Channels) == 0 {
				continue
			}
			if _, err := controller.Pin(p.ID); err != nil {
				logging.Warn().Err(err).Str("provider", p.ID).Msg("Pin failed")
				continue
			}
			if !controller.Ready() {
				logging.Warn().
					Str("provider", p.ID).
					Str("name", p.Name).
					Msg("Provider catalog does not satisfy required roles yet")
				continue
			}
			if err := controller.Start(ctx); err != nil {
				logging.Error().Err(err).Str("provider", p.ID).Msg("Session start failed")
				continue
			}
			logging.Info().Str("provider", p.ID).Str("name", p.Name).Msg("Capture session running")
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(discoveryRetryDelay):
		}
	}
}
