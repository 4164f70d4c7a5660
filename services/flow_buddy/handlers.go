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
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/AleutianFlow/services/flow_buddy/agent"
	"github.com/AleutianAI/AleutianFlow/services/flow_buddy/storage"
	"github.com/AleutianAI/AleutianFlow/services/flow_buddy/telemetry"
)

// persistTimeout bounds the record write after a session terminates.
const persistTimeout = 10 * time.Second

// Handlers contains the HTTP handlers for the FlowBuddy builder.
//
// Thread Safety: Handlers is safe for concurrent use.
type Handlers struct {
	loop    *agent.Loop
	records storage.RecordStore
	metrics *telemetry.Metrics
	logger  *slog.Logger
}

// HandlerOption configures Handlers.
type HandlerOption func(*Handlers)

// WithRecordStore persists terminal sessions to the given store.
func WithRecordStore(store storage.RecordStore) HandlerOption {
	return func(h *Handlers) { h.records = store }
}

// WithMetrics records session outcomes into the given instruments.
func WithMetrics(m *telemetry.Metrics) HandlerOption {
	return func(h *Handlers) { h.metrics = m }
}

// WithHandlerLogger overrides the default logger.
func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handlers) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandlers creates handlers over a build loop.
//
// Inputs:
//
//	loop - The build loop. Must not be nil.
//	opts - Optional record store, metrics, and logger.
//
// Outputs:
//
//	*Handlers - The configured handlers, nil if loop is nil.
func NewHandlers(loop *agent.Loop, opts ...HandlerOption) *Handlers {
	if loop == nil {
		return nil
	}
	h := &Handlers{
		loop:   loop,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleBuild handles POST /v1/flowbuddy/build.
//
// Description:
//
//	Accepts a build request, starts a session, and drives it on a
//	background goroutine. The response carries the session id; progress
//	arrives on the session's event stream and the terminal outcome on
//	the session resource.
//
// Response:
//
//	202 Accepted: BuildAcceptedResponse
//	400 Bad Request: invalid body, empty instruction, or bad config
//	500 Internal Server Error: the session could not be prepared
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleBuild(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleBuild")

	var req agent.BuildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}
	if req.Instruction == "" {
		logger.Warn("Empty instruction")
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "instruction is required",
			Code:  "EMPTY_INSTRUCTION",
		})
		return
	}

	session, err := h.loop.Start(c.Request.Context(), &req)
	if err != nil {
		status := http.StatusInternalServerError
		code := "SESSION_START_FAILED"
		if errors.Is(err, agent.ErrInvalidSession) || errors.Is(err, agent.ErrEmptyInstruction) {
			status = http.StatusBadRequest
			code = "INVALID_CONFIG"
		}
		logger.Error("Failed to start session", "error", err)
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}

	logger.Info("Build session accepted",
		"session_id", session.ID,
		"path", session.Path(),
		"instruction_len", len(req.Instruction))

	// The request context dies with this response; the build gets its
	// own lifetime and is bounded by the session's TotalTimeout.
	go h.drive(session)

	c.JSON(http.StatusAccepted, BuildAcceptedResponse{
		SessionID:  session.ID,
		State:      session.GetState().String(),
		EventsPath: "/v1/flowbuddy/sessions/" + session.ID + "/events",
	})
}

// drive runs a session to its terminal state, then records the outcome.
func (h *Handlers) drive(session *agent.Session) {
	result, err := h.loop.Run(context.Background(), session)
	if err != nil {
		h.logger.Error("Session run never began",
			"session_id", session.ID,
			"error", err)
		return
	}

	h.recordOutcome(result)
	h.persist(session)
}

// recordOutcome feeds the terminal result into the metric instruments.
func (h *Handlers) recordOutcome(result *agent.BuildResult) {
	if h.metrics == nil {
		return
	}
	ctx := context.Background()

	outcome := "done"
	switch {
	case result.Cancelled:
		outcome = "cancelled"
	case !result.Succeeded():
		outcome = "failed"
	}
	h.metrics.SessionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
	h.metrics.SessionDuration.Record(ctx, float64(result.DurationMs)/1000.0)
	h.metrics.IterationsTotal.Add(ctx, int64(result.Iterations))
	h.metrics.ModelTokensTotal.Add(ctx, int64(result.Metrics.InputTokens),
		metric.WithAttributes(attribute.String("direction", "input")))
	h.metrics.ModelTokensTotal.Add(ctx, int64(result.Metrics.OutputTokens),
		metric.WithAttributes(attribute.String("direction", "output")))
	for _, w := range result.Warnings {
		h.metrics.WarningsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("code", w.Warning.Code),
		))
	}
}

// persist writes the terminal session to the record store.
func (h *Handlers) persist(session *agent.Session) {
	if h.records == nil {
		return
	}

	rec, err := storage.NewRecord(*session.View())
	if err != nil {
		h.logger.Error("Session terminated without a result",
			"session_id", session.ID,
			"error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := h.records.Put(ctx, rec); err != nil {
		h.logger.Error("Failed to persist session record",
			"session_id", session.ID,
			"error", err)
		return
	}
	h.logger.Info("Session record persisted",
		"session_id", session.ID,
		"state", rec.State.String())
}

// HandleGetSession handles GET /v1/flowbuddy/sessions/:id.
//
// Description:
//
//	Returns a point-in-time view of a session. The workflow text and
//	warning timeline appear once the session is terminal; before that,
//	live progress comes from the event stream.
//
// Response:
//
//	200 OK: agent.SessionView
//	404 Not Found: unknown session id
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleGetSession(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleGetSession")

	id := c.Param("id")
	session, err := h.loop.GetSession(id)
	if err != nil {
		logger.Warn("Session not found", "session_id", id)
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: err.Error(),
			Code:  "SESSION_NOT_FOUND",
		})
		return
	}

	c.JSON(http.StatusOK, session.View())
}

// HandleListSessions handles GET /v1/flowbuddy/sessions.
//
// Response:
//
//	200 OK: SessionListResponse
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleListSessions(c *gin.Context) {
	ids := h.loop.SessionIDs()
	views := make([]*agent.SessionView, 0, len(ids))
	for _, id := range ids {
		session, err := h.loop.GetSession(id)
		if err != nil {
			continue
		}
		views = append(views, session.View())
	}
	c.JSON(http.StatusOK, SessionListResponse{Sessions: views, Count: len(views)})
}

// HandleCancel handles POST /v1/flowbuddy/sessions/:id/cancel.
//
// Description:
//
//	Aborts a running session. The loop reports the outcome as cancelled,
//	not as an error. Cancelling an already-terminated session is a
//	no-op that still returns 200.
//
// Response:
//
//	200 OK: CancelResponse
//	404 Not Found: unknown session id
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleCancel(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleCancel")

	id := c.Param("id")
	if err := h.loop.Cancel(id); err != nil {
		logger.Warn("Cancel failed", "session_id", id, "error", err)
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: err.Error(),
			Code:  "SESSION_NOT_FOUND",
		})
		return
	}

	logger.Info("Session cancellation requested", "session_id", id)
	session, err := h.loop.GetSession(id)
	state := agent.StateFailed.String()
	if err == nil {
		state = session.GetState().String()
	}
	c.JSON(http.StatusOK, CancelResponse{SessionID: id, State: state})
}

// HandleHealth handles GET /healthz.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Service: "flowbuddy"})
}

// getOrCreateRequestID returns the X-Request-ID header, minting one when
// absent, and echoes it on the response.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
