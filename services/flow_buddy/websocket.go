// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package flow_buddy

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianFlow/services/flow_buddy/agent/events"
)

const (
	// eventQueueSize buffers events between the build goroutine and the
	// websocket writer. Emission never blocks the build; a client that
	// cannot keep up loses intermediate events, never the stream.
	eventQueueSize = 256

	// writeTimeout bounds a single websocket write.
	writeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 32 * 1024,
	// The builder runs behind the deployment's own ingress; origin
	// policy is enforced there.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSessionEvents handles GET /v1/flowbuddy/sessions/:id/events.
//
// Description:
//
//	Upgrades to a websocket and streams the session's progress events as
//	JSON, one event per message. The emitter's replay buffer is sent
//	first so late subscribers see how the session got here, then live
//	events follow until the session ends or the client disconnects. The
//	stream closes itself after the session_end event is delivered.
//
// Thread Safety: This method is safe for concurrent use; each call owns
// its own subscription.
func (h *Handlers) HandleSessionEvents(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleSessionEvents")

	id := c.Param("id")
	session, err := h.loop.GetSession(id)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: err.Error(),
			Code:  "SESSION_NOT_FOUND",
		})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error("Websocket upgrade failed", "session_id", id, "error", err)
		return
	}
	defer ws.Close()
	logger.Info("Event stream attached", "session_id", id)

	emitter := session.Events()

	// Subscribe before replaying so no event can fall between the
	// buffer snapshot and the live feed. The queue deduplicates nothing;
	// replayed ids may reappear and clients are expected to key on
	// event id.
	queue := make(chan *events.Event, eventQueueSize)
	subID := emitter.Subscribe(func(event *events.Event) {
		select {
		case queue <- event:
		default:
			// Slow client; drop rather than stall the build.
		}
	})
	defer emitter.Unsubscribe(subID)

	// Detect client disconnect. The read loop also consumes control
	// frames; the stream is write-only otherwise.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for _, event := range emitter.Buffer() {
		e := event
		if !h.writeEvent(ws, &e, logger, id) {
			return
		}
		if e.Type == events.TypeSessionEnd {
			return
		}
	}

	for {
		select {
		case event := <-queue:
			if !h.writeEvent(ws, event, logger, id) {
				return
			}
			if event.Type == events.TypeSessionEnd {
				logger.Info("Event stream complete", "session_id", id)
				return
			}
		case <-closed:
			logger.Info("Event stream client disconnected", "session_id", id)
			return
		}
	}
}

// writeEvent sends one event, reporting whether the stream is still usable.
func (h *Handlers) writeEvent(ws *websocket.Conn, event *events.Event, logger *slog.Logger, sessionID string) bool {
	if err := ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return false
	}
	if err := ws.WriteJSON(event); err != nil {
		logger.Warn("Failed to write event", "session_id", sessionID, "error", err)
		return false
	}
	return true
}
