// Dynolink - Dyno Telemetry Acquisition and Live Analysis
// Copyright 2026 Dynolink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dynolink/dynolink

package api

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dynolink/dynolink/internal/analysis"
	"github.com/dynolink/dynolink/internal/discovery"
	"github.com/dynolink/dynolink/internal/protocol"
	"github.com/dynolink/dynolink/internal/queue"
	"github.com/dynolink/dynolink/internal/session"
	"github.com/dynolink/dynolink/internal/telemetry"
)

type wsTimeout struct{}

func (wsTimeout) Error() string   { return "read timeout" }
func (wsTimeout) Timeout() bool   { return true }
func (wsTimeout) Temporary() bool { return true }

var _ net.Error = wsTimeout{}

// stubRegistry satisfies session.Registry with one fixed provider.
type stubRegistry struct {
	mu       sync.Mutex
	provider discovery.ProviderInfo
	pinned   string
}

func (r *stubRegistry) Discover(context.Context, time.Duration) ([]discovery.ProviderInfo, error) {
	return []discovery.ProviderInfo{r.provider}, nil
}

func (r *stubRegistry) Pin(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id != r.provider.ID {
		return discovery.ErrProviderUnknown
	}
	r.pinned = id
	return nil
}

func (r *stubRegistry) Unpin() {
	r.mu.Lock()
	r.pinned = ""
	r.mu.Unlock()
}

func (r *stubRegistry) Pinned() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pinned
}

func (r *stubRegistry) Provider(id string) (discovery.ProviderInfo, bool) {
	if id == r.provider.ID {
		return r.provider, true
	}
	return discovery.ProviderInfo{}, false
}

func (r *stubRegistry) Providers() []discovery.ProviderInfo {
	return []discovery.ProviderInfo{r.provider}
}

func (r *stubRegistry) GetSnapshot() discovery.Snapshot {
	return discovery.Snapshot{Providers: r.Providers(), Pinned: r.Pinned()}
}

func (r *stubRegistry) ReadFrame(time.Time) (protocol.Frame, error) {
	time.Sleep(2 * time.Millisecond)
	return protocol.Frame{}, wsTimeout{}
}

func (r *stubRegistry) Accepts([protocol.IDSize]byte) bool { return true }

func (r *stubRegistry) Close() error { return nil }

func testServer(t *testing.T) (*Server, *session.Controller, *analysis.Engine) {
	t.Helper()

	reg := &stubRegistry{provider: discovery.ProviderInfo{
		ID:   "aabbccdd01020304",
		Name: "DynoJet 250i",
		Host: "10.0.0.5",
		Channels: []protocol.ChannelDescriptor{
			{ChannelID: 1, Name: "rpm", Unit: protocol.UnitRPM},
			{ChannelID: 2, Name: "wideband1", Unit: protocol.UnitAFR},
		},
	}}

	eng := analysis.New(analysis.DefaultConfig(), nil)
	cfg := session.DefaultConfig()
	cfg.Queue = queue.Config{Capacity: 100, BatchSize: 10, FlushInterval: 20 * time.Millisecond, MaxAttempts: 3}
	ctrl, err := session.NewController(cfg, reg, eng, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctrl.Close() })

	srv := New(Config{Host: "127.0.0.1", Port: 0, PushInterval: 10 * time.Millisecond}, ctrl, eng)
	return srv, ctrl, eng
}

func get(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestStateEndpoint(t *testing.T) {
	srv, _, eng := testServer(t)
	eng.Ingest([]telemetry.Sample{
		{Channel: "rpm", TimestampMillis: 0, Value: 3000},
		{Channel: "rpm", TimestampMillis: 60, Value: 3100},
	})

	rec := get(t, srv.Handler(), "/api/v1/state")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var state analysis.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, uint64(1), state.Windows)
	assert.Contains(t, state.LastAggregated, "rpm")
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := testServer(t)

	rec := get(t, srv.Handler(), "/api/v1/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var health session.Health
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, session.StateIdle, health.State)
}

func TestProvidersEndpoint(t *testing.T) {
	srv, _, _ := testServer(t)

	rec := get(t, srv.Handler(), "/api/v1/providers")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap discovery.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Len(t, snap.Providers, 1)
	assert.Equal(t, "DynoJet 250i", snap.Providers[0].Name)
}

func TestMappingsEndpoint(t *testing.T) {
	srv, ctrl, _ := testServer(t)
	_, err := ctrl.Pin("aabbccdd01020304")
	require.NoError(t, err)

	rec := get(t, srv.Handler(), "/api/v1/mappings")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Ready    bool              `json:"ready"`
		Mappings []json.RawMessage `json:"mappings"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Ready)
	assert.NotEmpty(t, body.Mappings)
}

func TestDeadLetterEndpoints(t *testing.T) {
	srv, _, _ := testServer(t)

	rec := get(t, srv.Handler(), "/api/v1/deadletter")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/deadletter/no-such-id/retry", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := testServer(t)

	rec := get(t, srv.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ingest_queue_depth")
}

func TestWebsocketPushesState(t *testing.T) {
	srv, _, eng := testServer(t)
	eng.Ingest([]telemetry.Sample{
		{Channel: "rpm", TimestampMillis: 0, Value: 3000},
	})

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		defer resp.Body.Close()
	}
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var state analysis.State
	require.NoError(t, json.Unmarshal(payload, &state))
	assert.NotNil(t, state.LastAggregated)
}
