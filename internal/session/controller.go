// Dynolink - Dyno Telemetry Acquisition and Live Analysis
// Copyright 2026 Dynolink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dynolink/dynolink

// Package session owns the acquisition lifecycle: discover providers, pin
// one, auto-map its channels behind the readiness gate, run the supervised
// reader and processor services, and tear everything down on stop.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/dynolink/dynolink/internal/adapters"
	"github.com/dynolink/dynolink/internal/analysis"
	"github.com/dynolink/dynolink/internal/discovery"
	"github.com/dynolink/dynolink/internal/logging"
	"github.com/dynolink/dynolink/internal/mapping"
	"github.com/dynolink/dynolink/internal/protocol"
	"github.com/dynolink/dynolink/internal/queue"
	"github.com/dynolink/dynolink/internal/reliability"
)

// Session states.
const (
	StateIdle        = "idle"
	StateDiscovering = "discovering"
	StateMapped      = "mapped"
	StateRunning     = "running"
	StateStopped     = "stopped"
)

var (
	// ErrNotReady blocks capture start until the required roles are mapped.
	ErrNotReady = errors.New("channel mapping does not satisfy session readiness")

	// ErrNoPin blocks capture start without a pinned provider.
	ErrNoPin = errors.New("no provider pinned")

	// ErrAlreadyRunning guards double starts.
	ErrAlreadyRunning = errors.New("session already running")
)

// Registry is the slice of the discovery registry the controller drives.
// *discovery.Registry satisfies it; tests substitute a fake.
type Registry interface {
	Discover(ctx context.Context, timeout time.Duration) ([]discovery.ProviderInfo, error)
	Pin(id string) error
	Unpin()
	Pinned() string
	Provider(id string) (discovery.ProviderInfo, bool)
	Providers() []discovery.ProviderInfo
	GetSnapshot() discovery.Snapshot
	ReadFrame(deadline time.Time) (protocol.Frame, error)
	Accepts(origin [protocol.IDSize]byte) bool
	Close() error
}

// Config holds session controller parameters.
type Config struct {
	// DiscoverTimeout bounds one discovery pass.
	DiscoverTimeout time.Duration

	// ReadTimeout is the multicast adapter's per-read deadline.
	ReadTimeout time.Duration

	// SilenceCheckInterval paces the analysis silence sweep.
	SilenceCheckInterval time.Duration

	// LivePriority is the queue tier for live capture samples; file-based
	// sources always enqueue at batch priority.
	LivePriority queue.Priority

	Queue   queue.Config
	Retry   reliability.RetryConfig
	Breaker reliability.BreakerConfig
	Tree    TreeConfig
}

// DefaultConfig returns the documented session defaults.
func DefaultConfig() Config {
	return Config{
		DiscoverTimeout:      5 * time.Second,
		ReadTimeout:          200 * time.Millisecond,
		SilenceCheckInterval: time.Second,
		LivePriority:         queue.PriorityNormal,
		Queue:                queue.DefaultConfig(),
		Retry:                reliability.DefaultRetryConfig(),
		Breaker:              reliability.DefaultBreakerConfig(""),
		Tree:                 DefaultTreeConfig(),
	}
}

// extraSource is a non-multicast source registered before start.
type extraSource struct {
	src      reliability.Source
	priority queue.Priority
}

// Health is the session snapshot served by the API.
type Health struct {
	State        string                              `json:"state"`
	Provider     string                              `json:"provider,omitempty"`
	Ready        bool                                `json:"ready"`
	Queue        queue.Health                        `json:"queue"`
	Circuits     map[string]reliability.CircuitState `json:"circuits"`
	SourceErrors map[string]string                   `json:"source_errors,omitempty"`
}

// Controller drives one acquisition session from discovery to teardown.
type Controller struct {
	cfg       Config
	registry  Registry
	analysis  *analysis.Engine
	mapEngine *mapping.Engine
	mapStore  *mapping.Store
	queue     *queue.Queue

	mu           sync.Mutex
	state        string
	provider     discovery.ProviderInfo
	mappings     []mapping.MappingConfidence
	extras       []extraSource
	sources      []*reliability.ResilientSource
	sourceErrors map[string]string
	cancel       context.CancelFunc
	done         <-chan error
}

// NewController wires a session around the given registry and analysis
// engine. mapStore may be nil; confirmed mappings are then session-only.
func NewController(cfg Config, registry Registry, eng *analysis.Engine, mapStore *mapping.Store) (*Controller, error) {
	def := DefaultConfig()
	if cfg.DiscoverTimeout <= 0 {
		cfg.DiscoverTimeout = def.DiscoverTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.SilenceCheckInterval <= 0 {
		cfg.SilenceCheckInterval = def.SilenceCheckInterval
	}

	c := &Controller{
		cfg:          cfg,
		registry:     registry,
		analysis:     eng,
		mapEngine:    mapping.NewEngine(),
		mapStore:     mapStore,
		state:        StateIdle,
		sourceErrors: make(map[string]string),
	}

	q, err := queue.New(cfg.Queue, func(ctx context.Context, item *queue.Item) error {
		eng.Ingest(item.Samples)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create ingestion queue: %w", err)
	}
	c.queue = q
	return c, nil
}

// Discover runs one discovery pass and returns the known providers.
func (c *Controller) Discover(ctx context.Context) ([]discovery.ProviderInfo, error) {
	c.mu.Lock()
	if c.state == StateIdle || c.state == StateStopped {
		c.state = StateDiscovering
	}
	c.mu.Unlock()

	return c.registry.Discover(ctx, c.cfg.DiscoverTimeout)
}

// Pin selects the provider for this session and resolves its channel
// mapping: a stored mapping for the provider's signature wins, otherwise a
// fresh auto-map pass runs and is persisted.
func (c *Controller) Pin(id string) ([]mapping.MappingConfidence, error) {
	if err := c.registry.Pin(id); err != nil {
		return nil, err
	}
	provider, ok := c.registry.Provider(id)
	if !ok {
		return nil, fmt.Errorf("pin %q: provider vanished from registry", id)
	}

	sig := mapping.Signature(provider.ID, provider.Host, provider.Channels)
	mappings := c.loadStoredMapping(sig)
	if mappings == nil {
		mappings = c.mapEngine.AutoMap(provider.Channels)
		c.persistMapping(sig, provider.Name, mappings)
	}

	c.mu.Lock()
	c.provider = provider
	c.mappings = mappings
	c.state = StateMapped
	c.mu.Unlock()

	logging.Info().
		Str("provider", provider.ID).
		Str("name", provider.Name).
		Int("mappings", len(mappings)).
		Bool("ready", c.mapEngine.Ready(mappings)).
		Msg("provider pinned")
	return mappings, nil
}

func (c *Controller) loadStoredMapping(sig string) []mapping.MappingConfidence {
	if c.mapStore == nil {
		return nil
	}
	rec, err := c.mapStore.Load(sig)
	if errors.Is(err, mapping.ErrMappingNotFound) {
		return nil
	}
	if err != nil {
		logging.Warn().Err(err).Str("signature", sig).Msg("mapping store read failed, re-mapping")
		return nil
	}
	logging.Info().Str("signature", sig).Msg("restored stored channel mapping")
	return rec.Mappings
}

func (c *Controller) persistMapping(sig, providerName string, mappings []mapping.MappingConfidence) {
	if c.mapStore == nil {
		return
	}
	data, err := mapping.ExportMapping(sig, providerName, mappings)
	if err != nil {
		logging.Warn().Err(err).Msg("export mapping")
		return
	}
	rec, err := mapping.ImportMapping(data)
	if err != nil {
		logging.Warn().Err(err).Msg("round-trip mapping record")
		return
	}
	if err := c.mapStore.Save(rec); err != nil {
		logging.Warn().Err(err).Str("signature", sig).Msg("persist mapping")
	}
}

// AddSource registers an additional source (serial wideband, run file, CSV)
// to start alongside the multicast reader. Must be called before Start.
func (c *Controller) AddSource(src reliability.Source, priority queue.Priority) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.extras = append(c.extras, extraSource{src: src, priority: priority})
}

// Start launches the supervised capture services. The readiness gate holds:
// capture never starts until every required role is mapped with sufficient
// confidence or acknowledged warnings.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateRunning {
		return ErrAlreadyRunning
	}
	if c.registry.Pinned() == "" {
		return ErrNoPin
	}
	if !c.mapEngine.Ready(c.mappings) {
		return ErrNotReady
	}

	sup := newSupervisor("session", c.cfg.Tree)
	sup.Add(c.queue)
	sup.Add(&silenceSweeper{
		interval: c.cfg.SilenceCheckInterval,
		check:    c.analysis.CheckSilence,
	})

	mcast := adapters.NewMulticast(c.registry, c.mappings, c.cfg.ReadTimeout)
	c.sources = c.sources[:0]
	c.addReader(sup, mcast, c.cfg.LivePriority)
	for _, extra := range c.extras {
		c.addReader(sup, extra.src, extra.priority)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = sup.ServeBackground(runCtx)
	c.state = StateRunning

	logging.Info().
		Str("provider", c.provider.ID).
		Int("sources", len(c.sources)).
		Msg("session started")
	return nil
}

// addReader wraps src with the session's reliability policies and adds the
// reader service to the supervisor. Caller holds the mutex.
func (c *Controller) addReader(sup *suture.Supervisor, src reliability.Source, priority queue.Priority) {
	breakerCfg := c.cfg.Breaker
	breakerCfg.Name = src.Name()
	resilient := reliability.Wrap(src,
		reliability.NewBreaker(breakerCfg),
		reliability.NewRetryPolicy(c.cfg.Retry),
	)
	c.sources = append(c.sources, resilient)
	sup.Add(&readerService{
		source:   resilient,
		sink:     c.queue,
		priority: priority,
		onFatal:  c.recordSourceError,
	})
}

func (c *Controller) recordSourceError(name string, err error) {
	c.mu.Lock()
	c.sourceErrors[name] = err.Error()
	c.mu.Unlock()
}

// Stop tears the session down: readers are canceled (closing transports
// unblocks pending reads), the queue drains its final batches, open analysis
// windows flush. Analysis state itself survives until an explicit Reset.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return nil
	}
	cancel, done := c.cancel, c.done
	c.state = StateStopped
	c.mu.Unlock()

	cancel()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Warn().Err(err).Msg("supervisor exited with error")
		}
	case <-ctx.Done():
		logging.Warn().Msg("session stop timed out waiting for supervisor")
	}

	c.analysis.Flush()
	c.registry.Unpin()
	logging.Info().Msg("session stopped")
	return nil
}

// Close releases everything the controller owns. Stop first if running.
func (c *Controller) Close() error {
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = c.Stop(stopCtx)

	err := c.queue.Close()
	if regErr := c.registry.Close(); err == nil {
		err = regErr
	}
	return err
}

// State returns the session state name.
func (c *Controller) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Mappings returns the current mapping set.
func (c *Controller) Mappings() []mapping.MappingConfidence {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]mapping.MappingConfidence, len(c.mappings))
	copy(out, c.mappings)
	return out
}

// Ready reports whether the readiness gate passes.
func (c *Controller) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mapEngine.Ready(c.mappings)
}

// Queue exposes the ingestion queue for API handlers.
func (c *Controller) Queue() *queue.Queue {
	return c.queue
}

// Snapshot returns the discovery view.
func (c *Controller) Snapshot() discovery.Snapshot {
	return c.registry.GetSnapshot()
}

// Health returns the session health snapshot.
func (c *Controller) Health() Health {
	c.mu.Lock()
	defer c.mu.Unlock()

	circuits := make(map[string]reliability.CircuitState, len(c.sources))
	for _, src := range c.sources {
		circuits[src.Name()] = src.Breaker().State()
	}
	srcErrs := make(map[string]string, len(c.sourceErrors))
	for name, msg := range c.sourceErrors {
		srcErrs[name] = msg
	}

	return Health{
		State:        c.state,
		Provider:     c.provider.ID,
		Ready:        c.mapEngine.Ready(c.mappings),
		Queue:        c.queue.Health(),
		Circuits:     circuits,
		SourceErrors: srcErrs,
	}
}
