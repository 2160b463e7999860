// Dynolink - Dyno Telemetry Acquisition and Live Analysis
// Copyright 2026 Dynolink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dynolink/dynolink

// Package discovery locates telemetry providers on the multicast link and
// tracks their channel catalogs.
//
// A Registry is session scoped: each acquisition session creates its own,
// joins the group, runs a discovery pass, pins the provider the operator
// selects, and closes the registry when the session ends. Nothing in this
// package is a process-wide singleton.
package discovery

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/dynolink/dynolink/internal/logging"
	"github.com/dynolink/dynolink/internal/metrics"
	"github.com/dynolink/dynolink/internal/protocol"
)

// ErrProviderUnknown is returned by Pin for an id the registry has not seen.
var ErrProviderUnknown = errors.New("provider not present in registry")

// Config controls the discovery registry.
type Config struct {
	// Group is the multicast group address in host:port form.
	Group string `koanf:"group"`

	// RequestInterval paces outbound catalog-request broadcasts.
	RequestInterval time.Duration `koanf:"request_interval"`

	// SilenceTimeout evicts a provider that has sent nothing for this long.
	SilenceTimeout time.Duration `koanf:"silence_timeout"`

	// ReadTimeout bounds a single socket read so loops stay cancelable.
	ReadTimeout time.Duration `koanf:"read_timeout"`

	// OriginID identifies this client in outbound frames.
	OriginID [protocol.IDSize]byte `koanf:"-"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Group:           "239.255.60.60:18864",
		RequestInterval: 2 * time.Second,
		SilenceTimeout:  15 * time.Second,
		ReadTimeout:     200 * time.Millisecond,
		OriginID:        [protocol.IDSize]byte{'d', 'y', 'n', 'o', 'l', 'i', 'n', 'k'},
	}
}

// ProviderInfo is a snapshot of one discovered provider.
type ProviderInfo struct {
	ID        string                       `json:"id"`
	Name      string                       `json:"name"`
	Host      string                       `json:"host"`
	Channels  []protocol.ChannelDescriptor `json:"channels"`
	FirstSeen time.Time                    `json:"first_seen"`
	LastSeen  time.Time                    `json:"last_seen"`
}

// Snapshot is the registry state exposed over the API.
type Snapshot struct {
	Providers []ProviderInfo `json:"providers"`
	Pinned    string         `json:"pinned,omitempty"`
}

// Registry tracks providers seen on the multicast link.
type Registry struct {
	cfg Config
	tp  transport
	seq atomic.Uint32

	// limiter paces catalog-request broadcasts across Discover passes.
	limiter *rate.Limiter

	mu        sync.RWMutex
	providers map[string]*ProviderInfo
	pinned    string
}

// NewRegistry joins the configured multicast group.
func NewRegistry(cfg Config) (*Registry, error) {
	tp, err := dialMulticast(cfg.Group)
	if err != nil {
		return nil, err
	}
	return newRegistry(cfg, tp), nil
}

func newRegistry(cfg Config, tp transport) *Registry {
	if cfg.RequestInterval <= 0 {
		cfg.RequestInterval = DefaultConfig().RequestInterval
	}
	if cfg.SilenceTimeout <= 0 {
		cfg.SilenceTimeout = DefaultConfig().SilenceTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultConfig().ReadTimeout
	}
	return &Registry{
		cfg:       cfg,
		tp:        tp,
		limiter:   rate.NewLimiter(rate.Every(cfg.RequestInterval), 1),
		providers: make(map[string]*ProviderInfo),
	}
}

// ProviderID renders an origin identifier the way the registry keys it.
func ProviderID(origin [protocol.IDSize]byte) string {
	return hex.EncodeToString(origin[:])
}

// Discover broadcasts catalog requests and collects provider catalogs until
// the timeout elapses or ctx is canceled. It returns every provider known to
// the registry afterward, stale entries evicted.
func (r *Registry) Discover(ctx context.Context, timeout time.Duration) ([]ProviderInfo, error) {
	deadline := time.Now().Add(timeout)
	buf := make([]byte, protocol.MaxFrameSize)

	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if r.limiter.Allow() {
			if err := r.sendCatalogRequest(); err != nil {
				logging.Warn().Err(err).Msg("catalog request broadcast failed")
			}
		}

		readBy := time.Now().Add(r.cfg.ReadTimeout)
		if readBy.After(deadline) {
			readBy = deadline
		}
		frame, src, err := r.readFrame(buf, readBy)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return nil, fmt.Errorf("discovery read: %w", err)
		}
		r.HandleFrame(frame, src)
	}

	r.EvictStale()
	return r.Providers(), nil
}

// ReadFrame reads and decodes one datagram, updating registry bookkeeping
// (provider liveness, catalogs, ping replies) as a side effect. Adapters use
// it as their frame source during capture. A timeout surfaces as a net
// timeout error the caller can test with errors.As on net.Error.
func (r *Registry) ReadFrame(deadline time.Time) (protocol.Frame, error) {
	buf := make([]byte, protocol.MaxFrameSize)
	frame, src, err := r.readFrame(buf, deadline)
	if err != nil {
		return protocol.Frame{}, err
	}
	r.HandleFrame(frame, src)
	return frame, nil
}

func (r *Registry) readFrame(buf []byte, deadline time.Time) (protocol.Frame, net.Addr, error) {
	for {
		if err := r.tp.SetReadDeadline(deadline); err != nil {
			return protocol.Frame{}, nil, err
		}
		n, src, err := r.tp.Read(buf)
		if err != nil {
			return protocol.Frame{}, nil, err
		}

		frame, err := protocol.Decode(buf[:n])
		switch {
		case err == nil:
			metrics.FramesDecoded.WithLabelValues(frame.Key.String()).Inc()
			return frame, src, nil
		case protocol.IsUnknownFrame(err):
			metrics.FramesUnknown.Inc()
			logging.Debug().Str("source", addrHost(src)).Err(err).Msg("ignoring unknown frame")
		default:
			metrics.FramesMalformed.Inc()
			logging.Debug().Str("source", addrHost(src)).Err(err).Msg("discarding malformed frame")
		}
	}
}

// HandleFrame folds one decoded frame into registry state. Frames from
// non-pinned providers still refresh the registry; pinning only filters what
// the capture adapter consumes.
func (r *Registry) HandleFrame(f protocol.Frame, src net.Addr) {
	id := ProviderID(f.OriginID)
	host := addrHost(src)

	switch f.Key {
	case protocol.KeyProviderAnnounce:
		r.touch(id, host)

	case protocol.KeyChannelCatalog:
		name, channels, err := protocol.DecodeCatalog(f.Payload)
		if err != nil {
			metrics.FramesMalformed.Inc()
			logging.Warn().Str("provider", id).Err(err).Msg("bad channel catalog")
			return
		}
		p := r.touch(id, host)
		r.mu.Lock()
		p.Name = name
		p.Channels = channels
		r.mu.Unlock()
		logging.Info().
			Str("provider", id).
			Str("name", name).
			Int("channels", len(channels)).
			Msg("provider catalog updated")

	case protocol.KeyClearCatalog:
		p := r.touch(id, host)
		r.mu.Lock()
		p.Channels = nil
		r.mu.Unlock()

	case protocol.KeyChannelValues:
		r.touch(id, host)

	case protocol.KeyPing:
		r.touch(id, host)
		if f.DestinationID == r.cfg.OriginID || f.DestinationID == protocol.BroadcastID {
			r.sendPong(f)
		}
	}
}

// touch upserts the provider entry and refreshes its liveness stamp.
func (r *Registry) touch(id, host string) *ProviderInfo {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.providers[id]
	if !ok {
		p = &ProviderInfo{ID: id, Host: host, FirstSeen: now}
		r.providers[id] = p
		logging.Info().Str("provider", id).Str("host", host).Msg("provider discovered")
	}
	p.Host = host
	p.LastSeen = now
	return p
}

// EvictStale drops providers silent past the timeout and returns how many.
func (r *Registry) EvictStale() int {
	cutoff := time.Now().Add(-r.cfg.SilenceTimeout)
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for id, p := range r.providers {
		if p.LastSeen.Before(cutoff) {
			delete(r.providers, id)
			evicted++
			logging.Warn().Str("provider", id).Msg("provider evicted after silence")
		}
	}
	return evicted
}

// Pin restricts capture to one provider. The provider must be in the
// registry.
func (r *Registry) Pin(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[id]; !ok {
		return fmt.Errorf("pin %q: %w", id, ErrProviderUnknown)
	}
	r.pinned = id
	return nil
}

// Unpin clears the pinned provider.
func (r *Registry) Unpin() {
	r.mu.Lock()
	r.pinned = ""
	r.mu.Unlock()
}

// Pinned returns the pinned provider id, empty when none.
func (r *Registry) Pinned() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pinned
}

// Accepts reports whether frames from origin pass the pin filter.
func (r *Registry) Accepts(origin [protocol.IDSize]byte) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pinned == "" || r.pinned == ProviderID(origin)
}

// Provider returns the snapshot for one id.
func (r *Registry) Provider(id string) (ProviderInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	if !ok {
		return ProviderInfo{}, false
	}
	return cloneProvider(p), true
}

// Providers returns snapshots of every known provider, ordered by id.
func (r *Registry) Providers() []ProviderInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ProviderInfo, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, cloneProvider(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetSnapshot returns providers plus the pin state in one consistent view.
func (r *Registry) GetSnapshot() Snapshot {
	return Snapshot{Providers: r.Providers(), Pinned: r.Pinned()}
}

// Close releases the multicast sockets, unblocking any pending read.
func (r *Registry) Close() error {
	return r.tp.Close()
}

func (r *Registry) sendCatalogRequest() error {
	frame, err := protocol.Encode(protocol.Frame{
		Key:           protocol.KeyCatalogRequest,
		OriginID:      r.cfg.OriginID,
		Sequence:      r.seq.Add(1),
		DestinationID: protocol.BroadcastID,
	})
	if err != nil {
		return err
	}
	return r.tp.Send(frame)
}

// sendPong answers a provider ping, echoing its sequence number.
func (r *Registry) sendPong(ping protocol.Frame) {
	frame, err := protocol.Encode(protocol.Frame{
		Key:           protocol.KeyPong,
		OriginID:      r.cfg.OriginID,
		Sequence:      ping.Sequence,
		DestinationID: ping.OriginID,
	})
	if err != nil {
		logging.Warn().Err(err).Msg("encode pong")
		return
	}
	if err := r.tp.Send(frame); err != nil {
		logging.Warn().Err(err).Msg("send pong")
	}
}

func cloneProvider(p *ProviderInfo) ProviderInfo {
	out := *p
	out.Channels = make([]protocol.ChannelDescriptor, len(p.Channels))
	copy(out.Channels, p.Channels)
	return out
}

func addrHost(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
