// Driftmark - Anchor Watch Pairing and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftmark

package api

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/driftmark/internal/session"
	"github.com/tomtom215/driftmark/internal/views"
)

const (
	streamWriteTimeout = 10 * time.Second
	streamPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Cross-origin policy is enforced by the CORS middleware; the upgrade
	// itself accepts any origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// streamFrame is one websocket emission of the effective session view.
type streamFrame struct {
	Token       string           `json:"token,omitempty"`
	Session     *session.Session `json:"session,omitempty"`
	PrimaryLive bool             `json:"primaryLive"`
}

// Stream handles GET /api/v1/pairing/stream: a websocket pushing every
// effective-session-view change, starting with the current value.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	updates, unsubscribe := h.views.Subscribe()
	defer unsubscribe()

	// Reader goroutine: surfaces client close and discards client frames.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case u, ok := <-updates:
			if !ok {
				return
			}
			if err := h.writeFrame(conn, u); err != nil {
				h.log.Debug().Err(err).Msg("stream write failed")
				return
			}
		}
	}
}

func (h *Handler) writeFrame(conn *websocket.Conn, u views.Update) error {
	_, live := h.views.PrimaryLive()
	frame := streamFrame{Token: u.Token, Session: u.Session, PrimaryLive: live}
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}
