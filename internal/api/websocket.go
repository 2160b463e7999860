// Dynolink - Dyno Telemetry Acquisition and Live Analysis
// Copyright 2026 Dynolink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dynolink/dynolink

package api

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/dynolink/dynolink/internal/logging"
)

const wsWriteTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The REST layer's CORS policy governs browser access; the upgrade
	// itself accepts any origin the CORS middleware let through.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWebsocket streams analysis state snapshots to the UI at the push
// interval (20 Hz by default). The client sends nothing; reads serve only to
// detect the peer going away.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	logging.Info().Str("remote", conn.RemoteAddr().String()).Msg("websocket client connected")

	// Reader goroutine: surfaces close frames and broken pipes.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.cfg.PushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			logging.Debug().Msg("websocket client disconnected")
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			payload, err := json.Marshal(s.analysis.GetState())
			if err != nil {
				logging.Debug().Err(err).Msg("marshal state push")
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logging.Debug().Err(err).Msg("websocket write failed")
				return
			}
		}
	}
}
