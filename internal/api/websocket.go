// Bastionmap - SSH Failed-Login Analytics and Live Attack Map
// Copyright 2026 Bastionmap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionmap/bastionmap

package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bastionmap/bastionmap/internal/logging"
	ws "github.com/bastionmap/bastionmap/internal/websocket"
)

// getUpgrader returns a websocket upgrader with origin checking tied to the
// configured CORS origins.
func (h *Handler) getUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkWebSocketOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
}

// checkWebSocketOrigin validates the Origin header against the configured
// CORS origins. Requests without an Origin header are rejected.
func (h *Handler) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return false
	}

	for _, allowed := range h.cfg.Server.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}

	logging.Warn().Str("origin", sanitizeLogValue(origin)).Msg("websocket origin rejected")
	return false
}

// HandleWebSocket upgrades the connection, registers the client with the hub
// and seeds it with the current map snapshot before the live feed starts.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := h.getUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		logging.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := ws.NewClient(h.hub, conn)

	// New clients get the full snapshot; subsequent ticks only carry deltas.
	// Seeding happens before registration: once registered, the hub owns the
	// send channel and may close it on shutdown, and the buffered seed also
	// guarantees the snapshot precedes any broadcast frame.
	if events, err := h.snapshotter.Snapshot(r.Context()); err != nil {
		logging.Error().Err(err).Msg("failed to load snapshot for new websocket client")
	} else if len(events) > 0 {
		if !client.Send(ws.Message{Type: ws.MessageTypeSnapshot, Data: events}) {
			logging.Warn().Uint64("client_id", client.ID()).Msg("snapshot dropped, client buffer full")
		}
	}

	h.hub.Register <- client
	client.Start()

	logging.Debug().
		Uint64("client_id", client.ID()).
		Int("clients", h.hub.ClientCount()).
		Msg("websocket client connected")
}
